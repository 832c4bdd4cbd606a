package provider

import (
	"encoding/json"
	"testing"

	"github.com/nexusruntime/agentrt/pkg/model"
)

func TestConvertMessagesOpenAIPairsToolResultAfterAssistant(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleUser, Content: []model.ContentBlock{model.Text("list files")}},
		{Role: model.RoleAssistant, Content: []model.ContentBlock{
			model.Text("sure"),
			model.ToolUse("call-1", "list_dir", json.RawMessage(`{"path":"."}`)),
		}},
		{Role: model.RoleAssistant, Content: []model.ContentBlock{
			model.ToolResultBlock("call-1", "a.txt\nb.txt", false),
		}},
	}

	out, err := convertMessagesOpenAI(messages, "be helpful")
	if err != nil {
		t.Fatalf("convertMessagesOpenAI() error = %v", err)
	}

	if out[0].Role != "system" || out[0].Content != "be helpful" {
		t.Fatalf("expected leading system message, got %+v", out[0])
	}

	var sawToolCall, sawToolResult bool
	for _, m := range out {
		if len(m.ToolCalls) > 0 && m.ToolCalls[0].ID == "call-1" {
			sawToolCall = true
		}
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			sawToolResult = true
		}
	}
	if !sawToolCall {
		t.Fatalf("expected a converted tool call message, got %+v", out)
	}
	if !sawToolResult {
		t.Fatalf("expected a converted tool result message, got %+v", out)
	}
}

func TestConvertToolsOpenAIFallsBackToEmptySchemaOnInvalidJSON(t *testing.T) {
	tools := []ToolSpec{{Name: "broken", Description: "d", Schema: json.RawMessage(`not json`)}}
	out := convertToolsOpenAI(tools)
	if len(out) != 1 || out[0].Function.Name != "broken" {
		t.Fatalf("expected one converted tool named broken, got %+v", out)
	}
	params, ok := out[0].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Fatalf("expected fallback object schema, got %+v", out[0].Function.Parameters)
	}
}

func TestIsRetryableOpenAIErr(t *testing.T) {
	cases := map[string]bool{
		"rate limit exceeded":        true,
		"received 503":               true,
		"context deadline exceeded":  true,
		"invalid api key":            false,
	}
	for msg, want := range cases {
		if got := isRetryableOpenAIErr(errString(msg)); got != want {
			t.Fatalf("isRetryableOpenAIErr(%q) = %v, want %v", msg, got, want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
