package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/nexusruntime/agentrt/pkg/model"
	"github.com/nexusruntime/agentrt/pkg/sandbox"
)

// readFileTool and writeFileTool are the two builtin tools every agentctl
// session registers, wiring pkg/sandbox straight into the tool-call
// lifecycle the way a real deployment's tool set would.

// toolSchemaReflector generates each tool's argument schema from its params
// struct rather than by hand-writing JSON schema literals, so adding a field
// to a params struct can't drift out of sync with what Descriptor advertises
// to the model.
var toolSchemaReflector = &jsonschema.Reflector{
	ExpandedStruct: true,
	DoNotReference: true,
}

func mustToolSchema(v any) json.RawMessage {
	data, err := json.Marshal(toolSchemaReflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("agentctl: reflect tool schema for %T: %v", v, err))
	}
	return data
}

type readFileParams struct {
	Path string `json:"path" jsonschema:"required,description=Path to the file to read, relative to the sandbox root."`
}

type readFileTool struct{ fs sandbox.Sandbox }

func (t readFileTool) Descriptor() model.ToolDescriptor {
	return model.ToolDescriptor{
		Name:        "read_file",
		Description: "Read a file's contents from the sandbox.",
		Schema:      mustToolSchema(readFileParams{}),
	}
}

func (t readFileTool) Execute(ctx context.Context, args json.RawMessage) (model.ToolOutcome, error) {
	var params readFileParams
	if err := json.Unmarshal(args, &params); err != nil {
		return model.ToolOutcome{}, fmt.Errorf("read_file: %w", err)
	}
	r, err := t.fs.Read(ctx, params.Path)
	if err != nil {
		return model.ToolOutcome{Content: err.Error(), IsError: true}, nil
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return model.ToolOutcome{Content: err.Error(), IsError: true}, nil
	}
	return model.ToolOutcome{Content: string(data)}, nil
}

type writeFileParams struct {
	Path    string `json:"path" jsonschema:"required,description=Path to the file to write, relative to the sandbox root."`
	Content string `json:"content" jsonschema:"required,description=Full file contents to write, overwriting any existing file at path."`
}

type writeFileTool struct{ fs sandbox.Sandbox }

func (t writeFileTool) Descriptor() model.ToolDescriptor {
	return model.ToolDescriptor{
		Name:        "write_file",
		Description: "Write a file's contents in the sandbox, overwriting it.",
		Schema:      mustToolSchema(writeFileParams{}),
		Mutates:     true,
	}
}

func (t writeFileTool) Execute(ctx context.Context, args json.RawMessage) (model.ToolOutcome, error) {
	var params writeFileParams
	if err := json.Unmarshal(args, &params); err != nil {
		return model.ToolOutcome{}, fmt.Errorf("write_file: %w", err)
	}
	if err := t.fs.Write(ctx, params.Path, strings.NewReader(params.Content)); err != nil {
		return model.ToolOutcome{Content: err.Error(), IsError: true}, nil
	}
	return model.ToolOutcome{Content: "ok"}, nil
}
