// Package contextmgr implements the "Context manager" row of the
// runtime's component table: history compaction and reminder injection,
// the concern spec.md names but never details (see SPEC_FULL.md §5/§6).
//
// Grounded on the teacher's internal/compaction (token estimation,
// chunked splitting) and internal/context (keepFirst/keepLast truncation
// strategies), generalized from compaction.go's string/Message pair down
// to this runtime's model.Message/ContentBlock types, and from
// context/truncation.go's Truncator down to a single percent-threshold
// Manager matching SPEC_FULL §6's "percent-based threshold, flush-prompt
// injection" supplement.
package contextmgr

import (
	"fmt"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// charsPerToken mirrors the teacher's compaction.CharsPerToken heuristic:
// a cheap approximation that avoids depending on a real tokenizer.
const charsPerToken = 4

// Manager prunes a message history once it crosses ThresholdPercent of
// ContextWindow, replacing the oldest compactable span with a single
// system_reminder summary block. The span's first and last messages never
// carry a tool_use or tool_result block, so the cut is never drawn between
// a tool_use and the tool_result that follows it; messages inside the span
// are dropped whatever blocks they carry.
type Manager struct {
	// ContextWindow is the provider's token budget; zero uses
	// DefaultContextWindow.
	ContextWindow int

	// ThresholdPercent triggers compaction once EstimateTokens(messages)
	// exceeds this fraction of ContextWindow. Zero uses 0.8 (80%).
	ThresholdPercent float64

	// KeepFirst is the number of leading messages (typically the system
	// prompt's first user turn) never considered for pruning.
	KeepFirst int

	// KeepLast is the number of trailing messages always retained
	// verbatim, so the model's immediate context is never summarized
	// away mid-turn.
	KeepLast int
}

// DefaultContextWindow is used when Manager.ContextWindow is unset,
// matching the teacher's compaction.DefaultContextWindow.
const DefaultContextWindow = 100000

// defaultThreshold matches the teacher's flush-prompt injection point:
// compaction fires before the window is exhausted, not at the limit.
const defaultThreshold = 0.8

func (m Manager) window() int {
	if m.ContextWindow <= 0 {
		return DefaultContextWindow
	}
	return m.ContextWindow
}

func (m Manager) threshold() float64 {
	if m.ThresholdPercent <= 0 {
		return defaultThreshold
	}
	return m.ThresholdPercent
}

// EstimateTokens approximates msg's token footprint from its content
// blocks' text length, the same chars-per-token heuristic the teacher's
// compaction.EstimateTokens uses for its Message shape.
func EstimateTokens(msg model.Message) int {
	chars := 0
	for _, b := range msg.Content {
		chars += len(b.Text) + len(b.ResultText) + len(b.ToolInput)
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// EstimateMessagesTokens sums EstimateTokens across messages.
func EstimateMessagesTokens(messages []model.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m)
	}
	return total
}

// NeedsCompaction reports whether messages' estimated token footprint
// has crossed the configured threshold of the context window.
func (m Manager) NeedsCompaction(messages []model.Message) bool {
	limit := int(float64(m.window()) * m.threshold())
	return EstimateMessagesTokens(messages) > limit
}

// Result is the outcome of a Compact call.
type Result struct {
	Messages      []model.Message
	Compacted     bool
	RemovedCount  int
	TokensFreed   int
	SummaryPrefix string
}

// Compact prunes the oldest compactable span of messages (after
// KeepFirst, before the last KeepLast) into a single system_reminder
// block summarizing what was dropped. A span boundary is only drawn
// across messages that contain neither a tool_use block nor a
// tool_result block, so a pairing can never be split across the
// summarized/retained boundary.
func (m Manager) Compact(messages []model.Message) Result {
	if !m.NeedsCompaction(messages) {
		return Result{Messages: messages}
	}

	keepFirst := m.KeepFirst
	if keepFirst <= 0 {
		keepFirst = 1
	}
	keepLast := m.KeepLast
	if keepLast <= 0 {
		keepLast = 4
	}
	if len(messages) <= keepFirst+keepLast {
		return Result{Messages: messages}
	}

	cutStart := keepFirst
	cutEnd := len(messages) - keepLast

	// Shrink the span at both ends until neither boundary message
	// carries a tool_use/tool_result block, so the pairing invariant
	// is never split.
	for cutStart < cutEnd && involvesTool(messages[cutStart]) {
		cutStart++
	}
	for cutEnd > cutStart && involvesTool(messages[cutEnd-1]) {
		cutEnd--
	}
	if cutEnd <= cutStart {
		return Result{Messages: messages}
	}

	dropped := messages[cutStart:cutEnd]
	freed := EstimateMessagesTokens(dropped)

	summary := summarize(dropped)
	reminder := model.Message{
		ID:        model.NewID(),
		Role:      model.RoleUser,
		Content:   []model.ContentBlock{model.SystemReminder("compaction", summary)},
		CreatedAt: messages[cutStart].CreatedAt,
	}

	out := make([]model.Message, 0, len(messages)-(cutEnd-cutStart)+1)
	out = append(out, messages[:cutStart]...)
	out = append(out, reminder)
	out = append(out, messages[cutEnd:]...)

	return Result{
		Messages:      out,
		Compacted:     true,
		RemovedCount:  len(dropped),
		TokensFreed:   freed,
		SummaryPrefix: summary,
	}
}

func involvesTool(msg model.Message) bool {
	for _, b := range msg.Content {
		if b.Type == model.BlockToolUse || b.Type == model.BlockToolResult {
			return true
		}
	}
	return false
}

// summarize produces a deterministic, non-LLM placeholder summary of the
// dropped span. This runtime's ModelProvider boundary is out of scope
// for an internal summarization call (spec §1 Non-goals: no LLM
// inference performed by the core), so compaction folds history into a
// terse textual note rather than a model-generated summary; a caller
// wanting LLM-backed summaries can post-process system_reminder{kind:
// "compaction"} blocks before they reach the provider.
func summarize(dropped []model.Message) string {
	roles := map[model.Role]int{}
	for _, m := range dropped {
		roles[m.Role]++
	}
	return compactSummaryText(len(dropped), roles[model.RoleUser], roles[model.RoleAssistant])
}

func compactSummaryText(total, userCount, assistantCount int) string {
	return fmt.Sprintf(
		"earlier conversation history was compacted: %d messages (%d user, %d assistant) were summarized out of the active context to stay within the provider's token budget.",
		total, userCount, assistantCount,
	)
}
