// Package toolregistry is the declarative tool builder the orchestrator
// consults for descriptor export, JSON Schema argument validation, and
// dispatch. Its registration/lookup/execute shape is adapted from the
// teacher's ToolRegistry; schema validation is new, backed by
// santhosh-tekuri/jsonschema/v5 since the teacher never validates tool
// input against a schema before executing it.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// MaxToolNameLength and MaxArgsSize bound resource use per call, mirroring
// the teacher's tool-call guards.
const (
	MaxToolNameLength = 256
	MaxArgsSize       = 10 << 20
)

// Tool is a single callable capability. Descriptor is consulted by the
// permission engine (Mutates/PlanOnly) and by this registry for
// schema validation; Execute performs the call itself.
type Tool interface {
	Descriptor() model.ToolDescriptor
	Execute(ctx context.Context, args json.RawMessage) (model.ToolOutcome, error)
}

// Registry holds every tool available to an agent, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds tool, compiling its descriptor's Schema (if present) for
// validation on every Execute call. Registering a tool with the same
// name replaces the previous registration.
func (r *Registry) Register(tool Tool) error {
	desc := tool.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("toolregistry: tool descriptor has empty name")
	}

	var compiled *jsonschema.Schema
	if len(desc.Schema) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "mem://" + desc.Name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(string(desc.Schema))); err != nil {
			return fmt.Errorf("toolregistry: add schema resource for %q: %w", desc.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("toolregistry: compile schema for %q: %w", desc.Name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = tool
	if compiled != nil {
		r.schemas[desc.Name] = compiled
	} else {
		delete(r.schemas, desc.Name)
	}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns every registered tool's descriptor, the shape the
// orchestrator hands to a ModelProvider as its tool list.
func (r *Registry) Descriptors() []model.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor())
	}
	return out
}

// Validate checks args against the compiled schema for name, if one was
// registered. A tool with no schema always validates.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("toolregistry: args for %q are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("toolregistry: args for %q failed schema validation: %w", name, err)
	}
	return nil
}

// Execute validates args against name's schema, then dispatches to the
// registered tool. Oversized names/args and unknown tools resolve to a
// tool_validation outcome rather than a Go error, matching the runtime's
// convention of surfacing tool-level failures as ToolOutcome.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (model.ToolOutcome, error) {
	if len(name) > MaxToolNameLength {
		return model.ToolOutcome{Content: "tool name exceeds maximum length", IsError: true, ValidationError: true}, nil
	}
	if len(args) > MaxArgsSize {
		return model.ToolOutcome{Content: "tool arguments exceed maximum size", IsError: true, ValidationError: true}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return model.ToolOutcome{Content: "tool not found: " + name, IsError: true, ValidationError: true}, nil
	}

	if err := r.Validate(name, args); err != nil {
		return model.ToolOutcome{Content: err.Error(), IsError: true, ValidationError: true}, nil
	}

	return tool.Execute(ctx, args)
}
