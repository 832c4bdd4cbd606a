package contextmgr

import (
	"strings"
	"testing"
	"time"

	"github.com/nexusruntime/agentrt/pkg/model"
)

func textMsg(role model.Role, text string) model.Message {
	return model.Message{
		ID:        model.NewID(),
		Role:      role,
		Content:   []model.ContentBlock{model.Text(text)},
		CreatedAt: time.Now(),
	}
}

func TestNeedsCompactionBelowThreshold(t *testing.T) {
	m := Manager{ContextWindow: 1000}
	messages := []model.Message{textMsg(model.RoleUser, "hi")}
	if m.NeedsCompaction(messages) {
		t.Fatalf("small history should not need compaction")
	}
}

func TestCompactDropsMiddleSpan(t *testing.T) {
	m := Manager{ContextWindow: 100, ThresholdPercent: 0.1, KeepFirst: 1, KeepLast: 1}

	messages := []model.Message{textMsg(model.RoleUser, "system setup")}
	for i := 0; i < 20; i++ {
		messages = append(messages, textMsg(model.RoleAssistant, strings.Repeat("x", 200)))
	}
	messages = append(messages, textMsg(model.RoleUser, "latest"))

	result := m.Compact(messages)
	if !result.Compacted {
		t.Fatalf("expected compaction to fire")
	}
	if len(result.Messages) >= len(messages) {
		t.Fatalf("expected fewer messages after compaction, got %d from %d", len(result.Messages), len(messages))
	}

	first := result.Messages[0]
	if first.ID != messages[0].ID {
		t.Fatalf("KeepFirst message should survive untouched")
	}
	last := result.Messages[len(result.Messages)-1]
	if last.ID != messages[len(messages)-1].ID {
		t.Fatalf("KeepLast message should survive untouched")
	}

	foundReminder := false
	for _, msg := range result.Messages {
		for _, b := range msg.Content {
			if b.Type == model.BlockSystemReminder && b.ReminderKind == "compaction" {
				foundReminder = true
			}
		}
	}
	if !foundReminder {
		t.Fatalf("expected a compaction system_reminder block")
	}
}

func TestCompactNeverSplitsToolPairing(t *testing.T) {
	m := Manager{ContextWindow: 10, ThresholdPercent: 0.01, KeepFirst: 1, KeepLast: 1}

	toolUse := model.Message{
		ID:        model.NewID(),
		Role:      model.RoleAssistant,
		Content:   []model.ContentBlock{model.ToolUse("c1", "demo", nil)},
		CreatedAt: time.Now(),
	}
	toolResult := model.Message{
		ID:        model.NewID(),
		Role:      model.RoleUser,
		Content:   []model.ContentBlock{model.ToolResultBlock("c1", strings.Repeat("y", 200), false)},
		CreatedAt: time.Now(),
	}

	messages := []model.Message{textMsg(model.RoleUser, "start")}
	for i := 0; i < 5; i++ {
		messages = append(messages, textMsg(model.RoleAssistant, strings.Repeat("x", 200)))
	}
	messages = append(messages, toolUse, toolResult)
	messages = append(messages, textMsg(model.RoleUser, "latest"))

	result := m.Compact(messages)

	hasUse, hasResult := false, false
	for _, msg := range result.Messages {
		for _, b := range msg.Content {
			if b.Type == model.BlockToolUse && b.ToolUseID == "c1" {
				hasUse = true
			}
			if b.Type == model.BlockToolResult && b.ToolUseRefID == "c1" {
				hasResult = true
			}
		}
	}
	if hasUse != hasResult {
		t.Fatalf("tool_use/tool_result pairing must survive compaction together: use=%v result=%v", hasUse, hasResult)
	}
}
