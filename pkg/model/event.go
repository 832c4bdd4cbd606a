package model

import "time"

// Channel names the three logical event-fan-out channels from the
// runtime's event system.
type Channel string

const (
	ChannelProgress Channel = "progress"
	ChannelControl  Channel = "control"
	ChannelMonitor  Channel = "monitor"
)

// EventType enumerates the concrete event payloads carried on the three
// channels. Grouped by the channel that normally carries them, though the
// field is informational only — routing is by the channel the emitter
// chose.
type EventType string

const (
	// progress
	EventTextChunkStart  EventType = "text_chunk_start"
	EventTextChunk       EventType = "text_chunk"
	EventTextChunkEnd    EventType = "text_chunk_end"
	EventThinkChunkStart EventType = "think_chunk_start"
	EventThinkChunk      EventType = "think_chunk"
	EventThinkChunkEnd   EventType = "think_chunk_end"
	EventToolAnnounce    EventType = "tool:announce"
	EventToolStart       EventType = "tool:start"
	EventToolError       EventType = "tool:error"
	EventToolEnd         EventType = "tool:end"
	EventDone            EventType = "done"

	// control
	EventPermissionRequired EventType = "permission_required"
	EventPermissionDecided  EventType = "permission_decided"
	EventAgentHalted        EventType = "agent_halted"
	EventRoomMention        EventType = "room_mention"
	EventForkCreated        EventType = "fork_created"

	// monitor
	EventMessagesChanged  EventType = "messages_changed"
	EventSnapshotTaken    EventType = "snapshot_taken"
	EventAgentResumed     EventType = "agent_resumed"
	EventToolExecuted     EventType = "tool_executed"
	EventToolCustomEvent  EventType = "tool_custom_event"
	EventSubscriberLag EventType = "subscriber_lag"
	EventError         EventType = "error"
	EventTodoChanged     EventType = "todo_changed"
	EventFileChanged     EventType = "file_changed"
	EventContextCompacted EventType = "context_compacted"
)

// Event is the payload carried inside an EventEnvelope. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// text / think chunk
	Text string `json:"text,omitempty"`

	// tool lifecycle
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolPhase  string         `json:"phase,omitempty"`
	Outcome    *ToolOutcome   `json:"outcome,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`

	// custom tool events
	CustomEventType string `json:"custom_event_type,omitempty"`
	CustomData      any    `json:"custom_data,omitempty"`

	// permission
	PermissionCallID string `json:"permission_call_id,omitempty"`
	Decision         string `json:"decision,omitempty"`
	Note             string `json:"note,omitempty"`

	// errors
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`

	// resume / snapshot
	Strategy   string   `json:"strategy,omitempty"`
	Sealed     []string `json:"sealed,omitempty"`
	SnapshotID string   `json:"snapshot_id,omitempty"`

	// done
	DoneError bool `json:"done_error,omitempty"`

	// subscriber lag
	Dropped int `json:"dropped,omitempty"`

	// todo / file changes
	TodoID   string `json:"todo_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	FileKind string `json:"file_kind,omitempty"`

	// room
	FromAlias string `json:"from_alias,omitempty"`
	ToAlias   string `json:"to_alias,omitempty"`

	// context compaction
	RemovedCount int `json:"removed_count,omitempty"`
	TokensFreed  int `json:"tokens_freed,omitempty"`
}

// EventEnvelope wraps an Event with the sequencing and routing metadata
// required for durable replay.
type EventEnvelope struct {
	Seq       uint64    `json:"seq"`
	AgentID   AgentID   `json:"agent_id"`
	Channel   Channel   `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
}
