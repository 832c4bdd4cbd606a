package mcpbridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexusruntime/agentrt/internal/toolregistry"
)

type fakeTransport struct {
	tools []RemoteTool
	calls map[string]json.RawMessage
}

func (f *fakeTransport) Kind() string { return "stdio" }

func (f *fakeTransport) ListTools(ctx context.Context) ([]RemoteTool, error) {
	return f.tools, nil
}

func (f *fakeTransport) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, bool, error) {
	if f.calls == nil {
		f.calls = map[string]json.RawMessage{}
	}
	f.calls[name] = arguments
	return "ok:" + name, false, nil
}

func (f *fakeTransport) Close() error { return nil }

func TestRegisterAllNamespacesToolNames(t *testing.T) {
	registry := toolregistry.New()
	transport := &fakeTransport{tools: []RemoteTool{
		{Name: "search", Description: "search the web"},
		{Name: "fetch", Description: "fetch a url"},
	}}

	names, err := RegisterAll(context.Background(), registry, "mcp", "web", transport)
	if err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 registered tools, got %d", len(names))
	}

	for _, name := range names {
		tool, ok := registry.Get(name)
		if !ok {
			t.Fatalf("expected %q registered", name)
		}
		desc := tool.Descriptor()
		if desc.Source != "remote" || desc.Server != "web" || desc.Transport != "stdio" {
			t.Fatalf("descriptor not marked remote: %+v", desc)
		}
	}

	if names[0] != "mcp__web__fetch" && names[0] != "mcp__web__search" {
		t.Fatalf("unexpected namespaced name %q", names[0])
	}
}

func TestBridgeExecuteDelegatesToTransport(t *testing.T) {
	registry := toolregistry.New()
	transport := &fakeTransport{tools: []RemoteTool{{Name: "search"}}}

	names, err := RegisterAll(context.Background(), registry, "mcp", "web", transport)
	if err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	outcome, err := registry.Execute(context.Background(), names[0], json.RawMessage(`{"q":"go"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Content != "ok:search" {
		t.Fatalf("unexpected outcome content %q", outcome.Content)
	}
	if transport.calls["search"] == nil {
		t.Fatalf("expected transport to receive the call")
	}
}

func TestSafeToolNameDisambiguatesCollisions(t *testing.T) {
	used := map[string]struct{}{}
	a := safeToolName("mcp", "web", "search", used)
	b := safeToolName("mcp", "web", "search", used)
	if a == b {
		t.Fatalf("expected distinct names for colliding registrations, got %q twice", a)
	}
}
