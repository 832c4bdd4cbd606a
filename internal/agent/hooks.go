package agent

import (
	"context"
	"log/slog"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// HookOutcome is what a hook returns after observing (and optionally
// rewriting or halting) a lifecycle event, per spec §4.8: a hook may
// mutate the passed payload, request a replacement outcome, or halt the
// turn/tool call outright.
type HookOutcome struct {
	// Replace, if non-nil, overrides the tool outcome a postToolUse hook
	// observed. Ignored by preModel/postModel/messagesChanged hooks.
	Replace *model.ToolOutcome

	// Halt, if non-empty, aborts the current turn (template-level hooks)
	// or the current tool call (preToolUse hooks) with this reason. A
	// postToolUse hook runs after the call has executed, so its Halt only
	// appends the reason to the outcome content; messagesChanged outcomes
	// are ignored.
	Halt string
}

func (o HookOutcome) halted() bool { return o.Halt != "" }

// PreModelHook runs before a model request is dispatched. It may inspect
// or mutate messages in place; returning Halt aborts the turn before any
// provider call is made.
type PreModelHook func(ctx context.Context, messages []model.Message) HookOutcome

// PostModelHook runs after an assistant message has streamed to
// completion and been persisted.
type PostModelHook func(ctx context.Context, assistant model.Message) HookOutcome

// MessagesChangedHook runs whenever the durable message log is appended
// to, regardless of cause (user input, assistant output, tool result,
// compaction). It is observe-only: the HookOutcome it returns is
// discarded, so neither Replace nor Halt has any effect.
type MessagesChangedHook func(ctx context.Context, messages []model.Message) HookOutcome

// PreToolUseHook runs before a tool call is dispatched, ahead of the
// permission check. Returning Replace short-circuits execution
// entirely with the given result; returning Halt aborts the call.
type PreToolUseHook func(ctx context.Context, call model.ToolCallRecord) HookOutcome

// PostToolUseHook runs after a tool call completes (successfully or not).
// Returning Replace rewrites the recorded outcome before it is appended
// to the message log and fanned out on the progress channel.
type PostToolUseHook func(ctx context.Context, call model.ToolCallRecord, outcome model.ToolOutcome) HookOutcome

// HookSet is the ordered collection of hooks attached to a Template
// (preModel/postModel/messagesChanged) and, per spec §4.8, to individual
// tools (preToolUse/postToolUse) — tool-level hooks are registered here
// too, keyed by tool name, since HookSet is carried on Template rather
// than on each ToolSpec.
type HookSet struct {
	PreModel        []PreModelHook
	PostModel       []PostModelHook
	MessagesChanged []MessagesChangedHook
	PreToolUse      map[string][]PreToolUseHook
	PostToolUse     map[string][]PostToolUseHook
}

// runPreModel executes the preModel chain in declaration order. A hook
// error is caught and reported but does not halt the turn; only an
// explicit Halt outcome does (spec §4.8).
func (h HookSet) runPreModel(ctx context.Context, logger *slog.Logger, messages []model.Message) HookOutcome {
	for i, hook := range h.PreModel {
		outcome := runHookSafely(ctx, logger, "preModel", i, func() HookOutcome {
			return hook(ctx, messages)
		})
		if outcome.halted() {
			return outcome
		}
	}
	return HookOutcome{}
}

func (h HookSet) runPostModel(ctx context.Context, logger *slog.Logger, assistant model.Message) HookOutcome {
	for i, hook := range h.PostModel {
		outcome := runHookSafely(ctx, logger, "postModel", i, func() HookOutcome {
			return hook(ctx, assistant)
		})
		if outcome.halted() {
			return outcome
		}
	}
	return HookOutcome{}
}

func (h HookSet) runMessagesChanged(ctx context.Context, logger *slog.Logger, messages []model.Message) {
	for i, hook := range h.MessagesChanged {
		runHookSafely(ctx, logger, "messagesChanged", i, func() HookOutcome {
			return hook(ctx, messages)
		})
	}
}

// runPreToolUse runs the chain registered for call.Name. An outcome
// with Replace set means the caller should short-circuit execution with
// that result instead of dispatching the tool.
func (h HookSet) runPreToolUse(ctx context.Context, logger *slog.Logger, call model.ToolCallRecord) HookOutcome {
	for i, hook := range h.PreToolUse[call.Name] {
		outcome := runHookSafely(ctx, logger, "preToolUse", i, func() HookOutcome {
			return hook(ctx, call)
		})
		if outcome.halted() || outcome.Replace != nil {
			return outcome
		}
	}
	return HookOutcome{}
}

// runPostToolUse runs the chain registered for call.Name, threading
// each hook's Replace into the next so later hooks see earlier rewrites.
func (h HookSet) runPostToolUse(ctx context.Context, logger *slog.Logger, call model.ToolCallRecord, outcome model.ToolOutcome) (model.ToolOutcome, HookOutcome) {
	current := outcome
	for i, hook := range h.PostToolUse[call.Name] {
		result := runHookSafely(ctx, logger, "postToolUse", i, func() HookOutcome {
			return hook(ctx, call, current)
		})
		if result.halted() {
			return current, result
		}
		if result.Replace != nil {
			current = *result.Replace
		}
	}
	return current, HookOutcome{}
}

// runHookSafely recovers a panicking hook, logs the panic at error level
// and returns an empty outcome so the turn continues. The failure is only
// logged: no monitor:error event is published for it.
func runHookSafely(ctx context.Context, logger *slog.Logger, phase string, index int, fn func() HookOutcome) (outcome HookOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("hook panicked", "phase", phase, "index", index, "recovered", r)
			outcome = HookOutcome{}
		}
	}()
	return fn()
}
