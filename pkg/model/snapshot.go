package model

import "time"

// Snapshot is an immutable, full dump of an agent's durable state at a
// point in time, used by the resume engine to avoid replaying the entire
// event log from the beginning.
type Snapshot struct {
	AgentID            AgentID           `json:"agent_id"`
	SnapshotID         string            `json:"snapshot_id"`
	CreatedAt          time.Time         `json:"created_at"`
	Template           TemplateSnapshot  `json:"template"`
	Messages           []Message         `json:"messages"`
	Todos              []Todo            `json:"todos"`
	ToolRecords        []*ToolCallRecord `json:"tool_records"`
	LastSeq            map[Channel]uint64 `json:"last_seq"`
	PendingPermissions []string          `json:"pending_permissions,omitempty"`
}

// TemplateSnapshot is the portion of a Template embedded verbatim in a
// Snapshot; it excludes hook function values, which cannot be serialized
// and are re-attached from the live TemplateRegistry on resume.
type TemplateSnapshot struct {
	ID            string          `json:"id"`
	SystemPrompt  string          `json:"system_prompt,omitempty"`
	Tools         []string        `json:"tools,omitempty"`
	PermissionMode string         `json:"permission_mode,omitempty"`
	RequireApproval []string      `json:"require_approval,omitempty"`
}
