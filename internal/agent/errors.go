package agent

import (
	"errors"
	"fmt"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// Sentinel errors for orchestrator-level failures that don't carry the
// richer AgentError context (config/lifecycle problems rather than
// in-turn failures).
var (
	ErrNoProvider       = errors.New("agent: no model provider configured")
	ErrMaxToolRounds    = errors.New("agent: exceeded max tool rounds")
	ErrTurnTimeout      = errors.New("agent: turn exceeded timeoutMs")
	ErrAgentDisposed    = errors.New("agent: agent has been disposed")
	ErrResumeCorruption = errors.New("agent: snapshot/event log mismatch on resume")
	ErrTemplateNotFound = errors.New("agent: template not found")
	ErrUnknownStrategy  = errors.New("agent: unknown resume strategy")
)

// AgentError is the structured error surfaced on an agent's monitor
// channel and returned from chat() when a turn ends abnormally. Kind
// mirrors the wire-level taxonomy in model.ErrorKind so the reason an
// agent stopped is legible to subscribers without parsing Detail.
type AgentError struct {
	Kind   model.ErrorKind
	Detail string
	Cause  error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent: %s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("agent: %s: %s", e.Kind, e.Detail)
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

// LoopError wraps an AgentError with the main-loop phase it occurred in
// (spec §4.1's steps), for diagnostics and for tape replay to know how
// far a turn got before failing.
type LoopError struct {
	Phase string
	*AgentError
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent: phase %s: %s", e.Phase, e.AgentError.Error())
}

func (e *LoopError) Unwrap() error {
	return e.AgentError
}
