// Package model defines the wire and durability types shared by every
// subsystem of the agent runtime: messages, tagged content blocks, tool
// call records, events, todos, snapshots, and templates.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentID is an opaque, printable identifier stable across restarts.
type AgentID string

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockType discriminates the variants of a ContentBlock.
type BlockType string

const (
	BlockText           BlockType = "text"
	BlockImage          BlockType = "image"
	BlockFile           BlockType = "file"
	BlockAudio          BlockType = "audio"
	BlockVideo          BlockType = "video"
	BlockToolUse        BlockType = "tool_use"
	BlockToolResult     BlockType = "tool_result"
	BlockReasoning      BlockType = "reasoning"
	BlockSystemReminder BlockType = "system_reminder"
)

// ContentBlock is a tagged union over the block variants named in the
// runtime's data model. Only the fields relevant to Type are populated;
// marshaling relies on `omitempty` so each variant serializes as the
// minimal discriminated-union JSON object the on-disk log expects.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image / file / audio / video
	MIME     string `json:"mime,omitempty"`
	Base64   string `json:"base64,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`

	// tool_use
	ToolUseID   string          `json:"id,omitempty"`
	ToolName    string          `json:"name,omitempty"`
	ToolInput   json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseRefID string `json:"tool_use_id,omitempty"`
	ResultText   string `json:"content,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`

	// reasoning
	Signature string `json:"signature,omitempty"`

	// system_reminder
	ReminderKind string `json:"kind,omitempty"`
}

// Text returns a plain-text content block.
func Text(s string) ContentBlock { return ContentBlock{Type: BlockText, Text: s} }

// ToolUse returns a tool_use content block.
func ToolUse(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock returns a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseRefID: toolUseID, ResultText: content, IsError: isError}
}

// SystemReminder returns a system_reminder content block.
func SystemReminder(kind, text string) ContentBlock {
	return ContentBlock{Type: BlockSystemReminder, ReminderKind: kind, Text: text}
}

// Message is a single turn in the durable conversation log.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolUseBlocks returns every tool_use block in the message.
func (m Message) ToolUseBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResultFor reports whether the message contains a tool_result block
// for the given tool_use id.
func (m Message) ToolResultFor(toolUseID string) (ContentBlock, bool) {
	for _, b := range m.Content {
		if b.Type == BlockToolResult && b.ToolUseRefID == toolUseID {
			return b, true
		}
	}
	return ContentBlock{}, false
}

// Validate checks that the message's Role is user, assistant or system.
// It does not check tool_use/tool_result pairing, which spans messages.
func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAssistant && m.Role != RoleSystem {
		return fmt.Errorf("model: invalid role %q", m.Role)
	}
	return nil
}
