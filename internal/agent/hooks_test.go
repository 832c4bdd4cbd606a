package agent

import (
	"context"
	"log/slog"
	"testing"

	"github.com/nexusruntime/agentrt/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRunPreModelHaltsOnExplicitHalt(t *testing.T) {
	var calledSecond bool
	hooks := HookSet{
		PreModel: []PreModelHook{
			func(ctx context.Context, messages []model.Message) HookOutcome {
				return HookOutcome{Halt: "budget exceeded"}
			},
			func(ctx context.Context, messages []model.Message) HookOutcome {
				calledSecond = true
				return HookOutcome{}
			},
		},
	}

	outcome := hooks.runPreModel(context.Background(), discardLogger(), nil)
	if outcome.Halt != "budget exceeded" {
		t.Fatalf("expected halt reason to propagate, got %q", outcome.Halt)
	}
	if calledSecond {
		t.Fatalf("expected chain to stop at the halting hook")
	}
}

func TestRunPreModelRecoversPanic(t *testing.T) {
	hooks := HookSet{
		PreModel: []PreModelHook{
			func(ctx context.Context, messages []model.Message) HookOutcome {
				panic("boom")
			},
		},
	}

	outcome := hooks.runPreModel(context.Background(), discardLogger(), nil)
	if outcome.halted() {
		t.Fatalf("expected a panicking hook to be treated as a non-halting outcome")
	}
}

func TestRunPostToolUseThreadsReplace(t *testing.T) {
	call := model.ToolCallRecord{Name: "bash"}
	original := model.ToolOutcome{Content: "raw output"}
	redacted := model.ToolOutcome{Content: "[redacted]"}

	hooks := HookSet{
		PostToolUse: map[string][]PostToolUseHook{
			"bash": {
				func(ctx context.Context, call model.ToolCallRecord, outcome model.ToolOutcome) HookOutcome {
					return HookOutcome{Replace: &redacted}
				},
			},
		},
	}

	final, outcome := hooks.runPostToolUse(context.Background(), discardLogger(), call, original)
	if outcome.halted() {
		t.Fatalf("did not expect a halt")
	}
	if final.Content != "[redacted]" {
		t.Fatalf("expected replaced outcome to win, got %q", final.Content)
	}
}

func TestRunPreToolUseStopsAtReplace(t *testing.T) {
	call := model.ToolCallRecord{Name: "write_file"}
	skip := model.ToolOutcome{Content: "skipped by hook"}
	var calledSecond bool

	hooks := HookSet{
		PreToolUse: map[string][]PreToolUseHook{
			"write_file": {
				func(ctx context.Context, call model.ToolCallRecord) HookOutcome {
					return HookOutcome{Replace: &skip}
				},
				func(ctx context.Context, call model.ToolCallRecord) HookOutcome {
					calledSecond = true
					return HookOutcome{}
				},
			},
		},
	}

	outcome := hooks.runPreToolUse(context.Background(), discardLogger(), call)
	if outcome.Replace == nil || outcome.Replace.Content != "skipped by hook" {
		t.Fatalf("expected replace outcome from first hook, got %+v", outcome.Replace)
	}
	if calledSecond {
		t.Fatalf("expected chain to stop once a hook returns Replace")
	}
}

func TestRunMessagesChangedCallsAllHooksInOrder(t *testing.T) {
	var order []int
	hooks := HookSet{
		MessagesChanged: []MessagesChangedHook{
			func(ctx context.Context, messages []model.Message) HookOutcome {
				order = append(order, 1)
				return HookOutcome{}
			},
			func(ctx context.Context, messages []model.Message) HookOutcome {
				order = append(order, 2)
				return HookOutcome{}
			},
		},
	}

	hooks.runMessagesChanged(context.Background(), discardLogger(), nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected hooks to run in declaration order, got %v", order)
	}
}
