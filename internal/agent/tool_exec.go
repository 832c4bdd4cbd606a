package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nexusruntime/agentrt/internal/permission"
	"github.com/nexusruntime/agentrt/internal/toolregistry"
	"github.com/nexusruntime/agentrt/internal/tracing"
	"github.com/nexusruntime/agentrt/pkg/model"
)

// toolCallRequest is one tool_use block extracted from an assistant
// message, queued for the §4.4 lifecycle.
type toolCallRequest struct {
	ID   string
	Name string
	Args json.RawMessage
}

// pendingToolCall is a tool call left in ModeApproval's Pending state: the
// permission request has been persisted but no human has decided it yet.
// The Agent holds one of these per outstanding call on its paused round
// until Decide resolves it, or its TTL auto-denies it.
type pendingToolCall struct {
	req   toolCallRequest
	record *model.ToolCallRecord
	desc  model.ToolDescriptor
	known bool
	timer *time.Timer
}

// runToolCalls drives every request through the lifecycle in
// runToolLifecycle, respecting spec §4.4's concurrency rule: tools whose
// descriptor declares Concurrent run in parallel with each other, every
// other tool runs sequentially in model-emitted order. A call that lands
// in ModeApproval's Pending state returns a pendingToolCall instead of a
// finished result block; the caller (chat.go) surfaces that as a paused
// round rather than assembling an incomplete tool_result message.
func (a *Agent) runToolCalls(ctx context.Context, requests []toolCallRequest) (map[string]model.ContentBlock, map[string]*pendingToolCall) {
	blocks := make(map[string]model.ContentBlock, len(requests))
	pendings := make(map[string]*pendingToolCall)
	var mu sync.Mutex

	run := func(i int) {
		block, pending := a.runToolLifecycle(ctx, requests[i])
		mu.Lock()
		if pending != nil {
			pendings[requests[i].ID] = pending
		} else {
			blocks[requests[i].ID] = block
		}
		mu.Unlock()
	}

	var sequential []int
	var concurrent []int
	for i, req := range requests {
		if desc, ok := a.toolDescriptor(req.Name); ok && desc.Concurrent {
			concurrent = append(concurrent, i)
		} else {
			sequential = append(sequential, i)
		}
	}

	var wg sync.WaitGroup
	for _, i := range concurrent {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run(i)
		}(i)
	}
	for _, i := range sequential {
		run(i)
	}
	wg.Wait()

	return blocks, pendings
}

// orderedResultBlocks rebuilds the tool_result content in the order the
// model originally emitted the tool_use blocks, regardless of which
// request settled (or was resumed) first.
func orderedResultBlocks(requests []toolCallRequest, blocks map[string]model.ContentBlock) []model.ContentBlock {
	out := make([]model.ContentBlock, len(requests))
	for i, req := range requests {
		out[i] = blocks[req.ID]
	}
	return out
}

func (a *Agent) toolDescriptor(name string) (model.ToolDescriptor, bool) {
	tool, ok := a.deps.Tools.Get(name)
	if !ok {
		return model.ToolDescriptor{}, false
	}
	return tool.Descriptor(), true
}

// runToolLifecycle implements spec §4.4 for a single tool_use block up to
// the point a decision is known. For every mode except an approval-mode
// pause it returns the finished tool_result block. For an approval-mode
// pause it returns a pendingToolCall instead — resumePendingToolCall
// (agent.go) finishes the call later, once Decide resolves it.
func (a *Agent) runToolLifecycle(ctx context.Context, req toolCallRequest) (model.ContentBlock, *pendingToolCall) {
	ctx, span := a.runtime.Tracer.StartToolCall(ctx, string(a.id), req.ID, req.Name)
	defer span.End()

	record := model.NewToolCallRecord(req.ID, req.Name, req.Args)
	a.putToolRecord(record)
	a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventMessagesChanged})

	// Step 2: preToolUse hook may short-circuit with a replacement outcome.
	if outcome := a.template.Hooks.runPreToolUse(ctx, a.runtime.Logger, *record); outcome.Replace != nil {
		_ = record.Complete(*outcome.Replace)
		return a.finishToolCall(ctx, req, record, *outcome.Replace, false), nil
	} else if outcome.halted() {
		out := model.ToolOutcome{Content: "turn halted by preToolUse hook: " + outcome.Halt, IsError: true}
		_ = record.Complete(out)
		return a.finishToolCall(ctx, req, record, out, false), nil
	}

	// Step 3: permission check. tool:start is always emitted, per spec.
	desc, known := a.toolDescriptor(req.Name)
	decision, reason, err := a.deps.Permissions.Decide(ctx, a.id, req.ID, desc)
	a.publish(ctx, model.ChannelProgress, model.Event{
		Type: model.EventToolStart, ToolCallID: req.ID, ToolName: req.Name, ToolPhase: string(permission.DecisionPending),
	})
	if err != nil {
		out := model.ToolOutcome{Content: "permission check failed: " + err.Error(), IsError: true}
		_ = record.Advance(model.ToolStateDenied)
		_ = record.Complete(out)
		return a.finishToolCall(ctx, req, record, out, true), nil
	}
	if decision == permission.DecisionDenied {
		return a.denyToolCall(ctx, req, record, reason), nil
	}
	if decision == permission.DecisionPending {
		if a.template.Permission.Mode == string(permission.ModeApproval) {
			return model.ContentBlock{}, a.pauseToolCall(ctx, req, record, desc, known, reason)
		}
		// Plan mode: the call queues without executing. Surface as a
		// non-error outcome so the model sees it was deferred, not denied.
		out := model.ToolOutcome{Content: "queued: " + reason}
		return a.finishToolCall(ctx, req, record, out, false), nil
	}
	if err := record.Advance(model.ToolStatePermitted); err != nil {
		out := model.ToolOutcome{Content: err.Error(), IsError: true}
		_ = record.Complete(out)
		return a.finishToolCall(ctx, req, record, out, true), nil
	}

	return a.executeTool(ctx, req, record, desc, known), nil
}

// denyToolCall finishes req with a DENIED outcome, used both for an
// outright policy denial and for a human rejecting a paused approval.
func (a *Agent) denyToolCall(ctx context.Context, req toolCallRequest, record *model.ToolCallRecord, reason string) model.ContentBlock {
	_ = record.Advance(model.ToolStateDenied)
	out := model.ToolOutcome{Content: "denied: " + reason, IsError: true}
	_ = record.Complete(out)
	a.publish(ctx, model.ChannelControl, model.Event{
		Type: model.EventPermissionDecided, PermissionCallID: req.ID, Decision: "deny", Note: reason,
	})
	return a.finishToolCall(ctx, req, record, out, true)
}

// pauseToolCall suspends req on an approval-mode Pending decision: it
// publishes permission_required, schedules a TTL auto-deny, and returns
// the pendingToolCall the Agent holds until Decide resolves it. Unlike
// the teacher's ApprovalChecker, which only ever produces a synthetic
// error tool_result and lets the round continue immediately, a true
// pause here means the round does not complete until the human decision
// arrives — surfacing ChatPaused to the caller per spec §4.1/§6.1.
func (a *Agent) pauseToolCall(ctx context.Context, req toolCallRequest, record *model.ToolCallRecord, desc model.ToolDescriptor, known bool, reason string) *pendingToolCall {
	a.publish(ctx, model.ChannelControl, model.Event{
		Type: model.EventPermissionRequired, PermissionCallID: req.ID, ToolCallID: req.ID, ToolName: req.Name, Note: reason,
	})

	ttl := a.deps.Permissions.PolicyFor(a.id).RequestTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	pending := &pendingToolCall{req: req, record: record, desc: desc, known: known}
	pending.timer = time.AfterFunc(ttl, func() {
		_ = a.Decide(context.Background(), req.ID, false, "approval request timed out")
	})
	return pending
}

// executeTool runs steps 4-8 of the §4.4 lifecycle against a record
// already advanced to PERMITTED: schema validation, execution honoring
// the descriptor's timeout, the postToolUse hook, and the terminal
// events. Shared by the normal allow path and by resumePendingToolCall
// once a human approves a paused call.
func (a *Agent) executeTool(ctx context.Context, req toolCallRequest, record *model.ToolCallRecord, desc model.ToolDescriptor, known bool) model.ContentBlock {
	// Step 4: schema validation (toolregistry.Execute validates before
	// dispatch and returns a synthetic validation-error outcome rather
	// than a Go error on failure).
	if !known {
		out := model.ToolOutcome{Content: "tool not found: " + req.Name, IsError: true, ValidationError: true}
		_ = record.Advance(model.ToolStateRunning)
		_ = record.Complete(out)
		return a.finishToolCall(ctx, req, record, out, true)
	}
	if err := a.deps.Tools.Validate(req.Name, req.Args); err != nil {
		out := model.ToolOutcome{Content: err.Error(), IsError: true, ValidationError: true}
		_ = record.Advance(model.ToolStateRunning)
		_ = record.Complete(out)
		return a.finishToolCall(ctx, req, record, out, true)
	}

	if err := record.Advance(model.ToolStateRunning); err != nil {
		out := model.ToolOutcome{Content: err.Error(), IsError: true}
		_ = record.Complete(out)
		return a.finishToolCall(ctx, req, record, out, true)
	}

	// Step 5: execute, honoring the descriptor's timeout if any.
	execCtx := ctx
	var cancel context.CancelFunc
	if desc.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, desc.Timeout)
		defer cancel()
	}

	start := time.Now()
	outcome, execErr := a.deps.Tools.Execute(execCtx, req.Name, req.Args)
	duration := time.Since(start)
	isError := outcome.IsError

	if execErr != nil {
		out := model.ToolOutcome{Content: execErr.Error(), IsError: true}
		if execCtx.Err() == context.DeadlineExceeded {
			out.Content = "timeout"
		}
		a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventToolError, ToolCallID: req.ID, ToolName: req.Name, ErrorMessage: out.Content})
		_ = record.Advance(model.ToolStateErrored)
		_ = record.Complete(out)
		return a.finishToolCall(ctx, req, record, out, true)
	}
	if isError {
		a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventToolError, ToolCallID: req.ID, ToolName: req.Name, ErrorMessage: outcome.Content})
	}

	// Step 6: postToolUse hook may rewrite the outcome.
	final, hookOutcome := a.template.Hooks.runPostToolUse(ctx, a.runtime.Logger, *record, outcome)
	if hookOutcome.halted() {
		final.Content += " (postToolUse hook requested halt: " + hookOutcome.Halt + ")"
	}

	_ = record.Complete(final)
	a.publish(ctx, model.ChannelMonitor, model.Event{
		Type: model.EventToolExecuted, ToolCallID: req.ID, ToolName: req.Name, DurationMS: duration.Milliseconds(),
	})
	return a.finishToolCall(ctx, req, record, final, final.IsError)
}

// finishToolCall emits the step-7/8 terminal events and returns the
// tool_result content block.
func (a *Agent) finishToolCall(ctx context.Context, req toolCallRequest, record *model.ToolCallRecord, outcome model.ToolOutcome, isError bool) model.ContentBlock {
	tracing.RecordOutcome(trace.SpanFromContext(ctx), isError, outcome.Content)
	a.publish(ctx, model.ChannelProgress, model.Event{
		Type: model.EventToolEnd, ToolCallID: req.ID, ToolName: req.Name, Outcome: &outcome, IsError: isError,
	})
	return model.ToolResultBlock(req.ID, outcome.Content, isError)
}

func (a *Agent) toolSpecsForTemplate() []toolregistry.Tool {
	var specs []toolregistry.Tool
	for _, name := range a.template.Tools {
		if t, ok := a.deps.Tools.Get(name); ok {
			specs = append(specs, t)
		}
	}
	return specs
}
