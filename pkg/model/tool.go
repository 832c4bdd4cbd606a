package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ToolCallState is a node in the tool-call lifecycle state machine
// described in the runtime's durability model. States only move forward;
// ToolCallRecord.Advance rejects any back-transition.
type ToolCallState string

const (
	ToolStatePending   ToolCallState = "PENDING"
	ToolStatePermitted ToolCallState = "PERMITTED"
	ToolStateDenied    ToolCallState = "DENIED"
	ToolStateRunning   ToolCallState = "RUNNING"
	ToolStateErrored   ToolCallState = "ERRORED"
	ToolStateCompleted ToolCallState = "COMPLETED"
	ToolStateSealed    ToolCallState = "SEALED"
)

// validTransitions enumerates the declared DAG from spec §3. A transition
// not present here is rejected by Advance.
var validTransitions = map[ToolCallState][]ToolCallState{
	ToolStatePending:   {ToolStatePermitted, ToolStateDenied, ToolStateSealed},
	ToolStatePermitted: {ToolStateRunning, ToolStateSealed},
	ToolStateRunning:   {ToolStateCompleted, ToolStateErrored, ToolStateSealed},
	ToolStateDenied:    {ToolStateCompleted},
	ToolStateErrored:   {ToolStateCompleted},
	ToolStateCompleted: {},
	ToolStateSealed:    {},
}

// ToolOutcome is the terminal result recorded for a tool call.
type ToolOutcome struct {
	Content         string `json:"content"`
	IsError         bool   `json:"is_error,omitempty"`
	ValidationError bool   `json:"_validation_error,omitempty"`
}

// ToolCallRecord tracks a single tool_use/tool_result pairing through its
// permission, execution, and persistence lifecycle.
type ToolCallRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Args        json.RawMessage `json:"args"`
	State       ToolCallState   `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Outcome     *ToolOutcome    `json:"outcome,omitempty"`
}

// NewToolCallRecord creates a record in the PENDING state.
func NewToolCallRecord(id, name string, args json.RawMessage) *ToolCallRecord {
	return &ToolCallRecord{
		ID:        id,
		Name:      name,
		Args:      args,
		State:     ToolStatePending,
		CreatedAt: time.Now(),
	}
}

// Advance transitions the record to `to`, rejecting any move not present in
// the declared DAG and any move once the record is terminal.
func (r *ToolCallRecord) Advance(to ToolCallState) error {
	if r.State == ToolStateCompleted || r.State == ToolStateSealed {
		return fmt.Errorf("tool call %s: record is terminal (%s), cannot advance to %s", r.ID, r.State, to)
	}
	allowed := validTransitions[r.State]
	ok := false
	for _, s := range allowed {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("tool call %s: illegal transition %s -> %s", r.ID, r.State, to)
	}
	r.State = to
	return nil
}

// Complete advances the record to COMPLETED (or terminal DENIED/ERRORED
// pass-through) recording the outcome, and stamps CompletedAt.
func (r *ToolCallRecord) Complete(outcome ToolOutcome) error {
	if err := r.Advance(ToolStateCompleted); err != nil {
		return err
	}
	now := time.Now()
	r.CompletedAt = &now
	r.Outcome = &outcome
	return nil
}

// Seal transitions a non-terminal record to SEALED with a synthetic
// error outcome carrying reason, used by crash-resume and by Fork.
func (r *ToolCallRecord) Seal(reason string) error {
	if err := r.Advance(ToolStateSealed); err != nil {
		return err
	}
	now := time.Now()
	r.CompletedAt = &now
	r.Outcome = &ToolOutcome{Content: reason, IsError: true}
	return nil
}

// IsTerminal reports whether the record can no longer transition.
func (r *ToolCallRecord) IsTerminal() bool {
	return r.State == ToolStateCompleted || r.State == ToolStateSealed
}

// ToolDescriptor is the exported shape of a registered tool: its schema,
// and metadata flags consulted by the permission engine and executor.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Mutates     bool            `json:"mutates,omitempty"`
	Concurrent  bool            `json:"concurrent,omitempty"`
	PlanOnly    bool            `json:"plan_only,omitempty"`
	Async       bool            `json:"async,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
	MaxRetries  int             `json:"max_retries,omitempty"`
	Source      string          `json:"source,omitempty"` // "" = local, "remote" = tool-server
	Server      string          `json:"server,omitempty"`
	Transport   string          `json:"transport,omitempty"`
}
