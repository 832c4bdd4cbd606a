package model

import "testing"

func TestToolCallRecordAdvanceRejectsBackTransition(t *testing.T) {
	r := NewToolCallRecord("call-1", "read_file", nil)
	if err := r.Advance(ToolStatePermitted); err != nil {
		t.Fatalf("Advance(PERMITTED) error = %v", err)
	}
	if err := r.Advance(ToolStateRunning); err != nil {
		t.Fatalf("Advance(RUNNING) error = %v", err)
	}
	if err := r.Advance(ToolStatePending); err == nil {
		t.Fatalf("expected back-transition RUNNING -> PENDING to be rejected")
	}
	if r.State != ToolStateRunning {
		t.Fatalf("rejected transition must not mutate state, got %s", r.State)
	}
}

func TestToolCallRecordTerminalStatesAreImmutable(t *testing.T) {
	r := NewToolCallRecord("call-1", "read_file", nil)
	_ = r.Advance(ToolStatePermitted)
	_ = r.Advance(ToolStateRunning)
	if err := r.Complete(ToolOutcome{Content: "ok"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !r.IsTerminal() {
		t.Fatalf("expected COMPLETED to be terminal")
	}
	if err := r.Advance(ToolStateErrored); err == nil {
		t.Fatalf("expected advance from terminal COMPLETED to be rejected")
	}
	if err := r.Seal("crash"); err == nil {
		t.Fatalf("expected Seal on terminal record to be rejected")
	}
}

func TestToolCallRecordSealFromPending(t *testing.T) {
	r := NewToolCallRecord("call-1", "read_file", nil)
	if err := r.Seal("agent crashed before permission decided"); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !r.IsTerminal() || r.State != ToolStateSealed {
		t.Fatalf("expected SEALED terminal state, got %s", r.State)
	}
	if r.Outcome == nil || !r.Outcome.IsError {
		t.Fatalf("expected sealed outcome to be marked as error")
	}
}

func TestToolCallRecordDeniedMustStillComplete(t *testing.T) {
	r := NewToolCallRecord("call-1", "delete_file", nil)
	if err := r.Advance(ToolStateDenied); err != nil {
		t.Fatalf("Advance(DENIED) error = %v", err)
	}
	if r.IsTerminal() {
		t.Fatalf("DENIED alone is not terminal; it must still resolve to COMPLETED with the denial outcome")
	}
	if err := r.Complete(ToolOutcome{Content: "permission denied", IsError: true}); err != nil {
		t.Fatalf("Complete() after denial error = %v", err)
	}
}
