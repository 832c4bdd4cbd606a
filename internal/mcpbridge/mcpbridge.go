// Package mcpbridge implements the external tool-server protocol of
// spec §6.3: a pluggable transport that lists remote tools and invokes
// them by name, each wrapped into a local toolregistry.Tool whose name
// carries a namespace prefix (`<prefix>__<server>__<tool>`).
//
// Grounded on the teacher's internal/mcp package: RemoteTool mirrors
// types.go's MCPTool shape, Transport generalizes transport.go's
// Transport interface (the teacher splits stdio/HTTP transports behind
// one interface; this runtime keeps that split but narrows the surface
// down to ListTools/CallTool/Close, the only operations the tool-server
// protocol needs), and Bridge.Execute/Descriptor are adapted directly
// from bridge.go's ToolBridge, retargeted from the teacher's own
// agent.ToolResult to this runtime's model.ToolOutcome. safeToolName's
// sha1-suffix collision handling is carried over from bridge.go's
// safeToolName verbatim in spirit: truncate-then-disambiguate rather
// than silently dropping a colliding tool.
package mcpbridge

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nexusruntime/agentrt/internal/toolregistry"
	"github.com/nexusruntime/agentrt/pkg/model"
)

// maxToolNameLen mirrors the teacher's bridge.go constant: most provider
// wire formats cap tool/function names well under this.
const maxToolNameLen = 64

// RemoteTool describes one tool exposed by a remote MCP-style server.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Transport is the capability a tool-server adapter implements: list the
// remote tools it currently exposes, and invoke one by name. This package
// ships one concrete transport, HTTPTransport (http_transport.go); no
// stdio subprocess transport is included.
type Transport interface {
	ListTools(ctx context.Context) ([]RemoteTool, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (content string, isError bool, err error)
	Kind() string // "stdio" | "http", surfaced on ToolDescriptor.Transport
	Close() error
}

// Bridge wraps one remote tool as a local toolregistry.Tool.
type Bridge struct {
	transport Transport
	server    string
	remote    RemoteTool
	safeName  string
}

// Descriptor implements toolregistry.Tool. Source/Server/Transport are
// always populated so the permission engine and export layer can tell a
// remote tool apart from a built-in one, per spec §6.3.
func (b *Bridge) Descriptor() model.ToolDescriptor {
	return model.ToolDescriptor{
		Name:        b.safeName,
		Description: describeRemote(b.server, b.remote),
		Schema:      b.remote.InputSchema,
		Source:      "remote",
		Server:      b.server,
		Transport:   b.transport.Kind(),
	}
}

// Execute implements toolregistry.Tool, delegating to the transport.
func (b *Bridge) Execute(ctx context.Context, args json.RawMessage) (model.ToolOutcome, error) {
	content, isError, err := b.transport.CallTool(ctx, b.remote.Name, args)
	if err != nil {
		return model.ToolOutcome{}, err
	}
	return model.ToolOutcome{Content: content, IsError: isError}, nil
}

func describeRemote(server string, t RemoteTool) string {
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		return fmt.Sprintf("MCP tool %s.%s", server, t.Name)
	}
	return fmt.Sprintf("MCP tool %s.%s: %s", server, t.Name, desc)
}

// RegisterAll lists every tool a transport currently exposes and
// registers each one into registry under the namespaced name
// `<prefix>__<server>__<tool>`, returning the safe names it registered
// (for later Unregister on disconnect).
func RegisterAll(ctx context.Context, registry *toolregistry.Registry, prefix, server string, t Transport) ([]string, error) {
	tools, err := t.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: list tools for server %q: %w", server, err)
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	used := make(map[string]struct{})
	var registered []string
	for _, rt := range tools {
		name := safeToolName(prefix, server, rt.Name, used)
		bridge := &Bridge{transport: t, server: server, remote: rt, safeName: name}
		if err := registry.Register(bridge); err != nil {
			return registered, fmt.Errorf("mcpbridge: register %q: %w", name, err)
		}
		registered = append(registered, name)
	}
	return registered, nil
}

// safeToolName builds the `<prefix>__<server>__<tool>` namespaced name,
// truncating and disambiguating with a short hash suffix if it would
// otherwise exceed maxToolNameLen or collide with an already-used name
// in this registration batch.
func safeToolName(prefix, server, tool string, used map[string]struct{}) string {
	name := strings.Join([]string{prefix, server, tool}, "__")
	if len(name) <= maxToolNameLen {
		if _, collide := used[name]; !collide {
			used[name] = struct{}{}
			return name
		}
	}

	sum := sha1.Sum([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:8]
	base := name
	if len(base) > maxToolNameLen-9 {
		base = base[:maxToolNameLen-9]
	}
	out := base + "_" + suffix
	used[out] = struct{}{}
	return out
}
