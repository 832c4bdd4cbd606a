package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexusruntime/agentrt/pkg/model"
)

type echoTool struct {
	desc model.ToolDescriptor
}

func (e echoTool) Descriptor() model.ToolDescriptor { return e.desc }

func (e echoTool) Execute(ctx context.Context, args json.RawMessage) (model.ToolOutcome, error) {
	return model.ToolOutcome{Content: string(args)}, nil
}

func TestRegistryExecuteValidatesAgainstSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"],
		"additionalProperties": false
	}`)
	r := New()
	if err := r.Register(echoTool{desc: model.ToolDescriptor{Name: "read_file", Schema: schema}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	outcome, err := r.Execute(context.Background(), "read_file", json.RawMessage(`{"path": "a.txt"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.IsError {
		t.Fatalf("expected valid args to succeed, got error outcome: %+v", outcome)
	}

	bad, err := r.Execute(context.Background(), "read_file", json.RawMessage(`{"wrong": 1}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !bad.IsError || !bad.ValidationError {
		t.Fatalf("expected schema-invalid args to produce a validation error outcome, got %+v", bad)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := New()
	outcome, err := r.Execute(context.Background(), "does_not_exist", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !outcome.IsError || !outcome.ValidationError {
		t.Fatalf("expected unknown tool to produce a validation error outcome, got %+v", outcome)
	}
}

func TestRegistryDescriptorsReflectsRegistrations(t *testing.T) {
	r := New()
	if err := r.Register(echoTool{desc: model.ToolDescriptor{Name: "a"}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(echoTool{desc: model.ToolDescriptor{Name: "b"}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	descs := r.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	r.Unregister("a")
	if len(r.Descriptors()) != 1 {
		t.Fatalf("expected 1 descriptor after Unregister, got %d", len(r.Descriptors()))
	}
}
