package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HTTPTransport speaks a minimal JSON-RPC-over-HTTP dialect to a remote
// tool server: POST a `{jsonrpc, id, method, params}` envelope, read back
// a `{result}`/`{error}` envelope. Grounded on the teacher's
// internal/mcp/transport_http.go and client.go's Call/initialize/
// tools-list/tools-call request shapes, trimmed to the request/response
// round trip this bridge needs (no SSE event stream, no
// notifications/initialized handshake — spec §6.3 only requires listing
// and invoking tools by name).
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	nextID  uint64
}

// NewHTTPTransport creates a transport posting JSON-RPC envelopes to url.
func NewHTTPTransport(url string, headers map[string]string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Kind() string { return "http" }

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *HTTPTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := fmt.Sprintf("%d-%s", atomic.AddUint64(&t.nextID, 1), uuid.NewString())
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcpbridge: %s: server returned %s", method, resp.Status)
	}

	var rpc jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, fmt.Errorf("mcpbridge: %s: decode response: %w", method, err)
	}
	if rpc.Error != nil {
		return nil, fmt.Errorf("mcpbridge: %s: server error %d: %s", method, rpc.Error.Code, rpc.Error.Message)
	}
	return rpc.Result, nil
}

type listToolsResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	} `json:"tools"`
}

// ListTools implements Transport.
func (t *HTTPTransport) ListTools(ctx context.Context) ([]RemoteTool, error) {
	raw, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var parsed listToolsResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("mcpbridge: parse tools/list result: %w", err)
	}
	out := make([]RemoteTool, 0, len(parsed.Tools))
	for _, tool := range parsed.Tools {
		out = append(out, RemoteTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return out, nil
}

type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// CallTool implements Transport.
func (t *HTTPTransport) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, bool, error) {
	var args any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", false, fmt.Errorf("mcpbridge: arguments for %q are not valid JSON: %w", name, err)
		}
	}

	raw, err := t.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", false, err
	}

	var parsed callToolResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("mcpbridge: parse tools/call result for %q: %w", name, err)
	}

	var text string
	for _, c := range parsed.Content {
		text += c.Text
	}
	return text, parsed.IsError, nil
}

// Close implements Transport; the HTTP transport holds no persistent
// connection to release.
func (t *HTTPTransport) Close() error { return nil }
