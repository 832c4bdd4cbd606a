package agent

import (
	"errors"
	"strings"
	"testing"

	"github.com/nexusruntime/agentrt/pkg/model"
)

func TestAgentErrorFormatsKindAndDetail(t *testing.T) {
	err := &AgentError{Kind: model.ErrToolTimeout, Detail: "tool bash exceeded 30s"}
	got := err.Error()
	want := "agent: tool_timeout: tool bash exceeded 30s"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestAgentErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &AgentError{Kind: model.ErrProviderError, Detail: "stream failed", Cause: cause}

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty Error() with cause")
	}
}

func TestLoopErrorIncludesPhase(t *testing.T) {
	inner := &AgentError{Kind: model.ErrHookError, Detail: "preModel hook panicked"}
	err := &LoopError{Phase: "preModel", AgentError: inner}

	got := err.Error()
	if !strings.Contains(got, "phase preModel") {
		t.Fatalf("expected LoopError.Error() to name the phase, got %q", got)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected errors.Is to find wrapped AgentError")
	}
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNoProvider, ErrMaxToolRounds, ErrTurnTimeout, ErrAgentDisposed,
		ErrResumeCorruption, ErrTemplateNotFound, ErrUnknownStrategy,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Fatalf("sentinel %v unexpectedly matches %v", a, b)
			}
		}
	}
}
