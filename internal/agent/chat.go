package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/nexusruntime/agentrt/pkg/model"
	"github.com/nexusruntime/agentrt/pkg/provider"
)

// Chat drains the inbox starting from input and runs the main loop of
// spec §4.1 to a terminal condition, blocking the caller until it
// resolves. Only one Chat call runs at a time per Agent, enforced by
// running the whole turn on the actor loop.
func (a *Agent) Chat(ctx context.Context, input string) ChatResult {
	var result ChatResult
	a.submit(func() {
		result = a.runTurn(ctx, input)
	})
	return result
}

// runTurn executes step 1 of the main loop and hands off to runRounds.
// It always runs on the actor goroutine (invoked via submit), so no
// locking is needed around a.messages beyond what publish/putToolRecord
// already do for readers on other goroutines (Status, GetTodos, Snapshot).
func (a *Agent) runTurn(ctx context.Context, input string) ChatResult {
	if timeout := a.runtime.turnTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Step 1: drain the inbox into the turn's user message, per spec §4.1
	// ("when the model loop is idle, the next inbox item becomes the next
	// user message"). input is itself enqueued as a user-kind item first,
	// so a plain Chat(ctx, "text") call behaves exactly as a direct
	// Send(InboxUser, "text") would — but anything already queued ahead of
	// it (a reminder from the scheduler, a Room mention) drains first.
	if input != "" {
		a.inbox.Push(InboxItem{Kind: InboxUser, Text: input})
	}
	a.appendMessage(ctx, a.nextInboxMessage())

	return a.runRounds(ctx, 0)
}

// nextInboxMessage pops the head of the inbox and wraps it in the
// user message shape spec §4.1 requires for its kind: a plain user item
// becomes a text block, reminder and mention items become a
// system_reminder block so the model can distinguish them from literal
// user intent. An empty inbox (nothing queued, no input this call)
// yields an empty user message rather than blocking.
func (a *Agent) nextInboxMessage() model.Message {
	msg := model.Message{ID: model.NewID(), Role: model.RoleUser, CreatedAt: time.Now()}
	item, ok := a.inbox.Pop()
	if !ok {
		return msg
	}
	switch item.Kind {
	case InboxReminder:
		msg.Content = []model.ContentBlock{model.SystemReminder("reminder", item.Text)}
	case InboxMention:
		msg.Content = []model.ContentBlock{model.SystemReminder("mention", fmt.Sprintf("@%s: %s", item.FromAlias, item.Text))}
	default:
		msg.Content = []model.ContentBlock{model.Text(item.Text)}
	}
	return msg
}

// runRounds executes steps 2-8 of the main loop starting at round,
// looping back to step 3 after every completed tool round. It is also
// the resumption point once a paused round's last pendingToolCall
// resolves, so a round number other than 0 means the turn is continuing
// past an approval pause rather than starting fresh.
func (a *Agent) runRounds(ctx context.Context, startRound int) ChatResult {
	for round := startRound; ; round++ {
		if round >= a.runtime.MaxToolRounds {
			agentErr := &AgentError{Kind: model.ErrToolRuntime, Detail: "exceeded max tool rounds"}
			a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventError, ErrorKind: string(agentErr.Kind), ErrorMessage: agentErr.Error()})
			a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventDone, DoneError: true})
			return ChatResult{Status: ChatError, Err: ErrMaxToolRounds}
		}

		// Step 2: preModel hooks.
		if outcome := a.template.Hooks.runPreModel(ctx, a.runtime.Logger, a.snapshotMessages()); outcome.halted() {
			a.publish(ctx, model.ChannelControl, model.Event{Type: model.EventAgentHalted, Note: outcome.Halt})
			return ChatResult{Status: ChatError, Err: fmt.Errorf("agent: preModel hook halted turn: %s", outcome.Halt)}
		}

		// Steps 3-5: stream the model turn, persist the assistant message.
		turnCtx, turnSpan := a.runtime.Tracer.StartModelTurn(ctx, string(a.id), round)
		assistant, toolCalls, err := a.streamTurn(turnCtx)
		if err != nil {
			turnSpan.RecordError(err)
			turnSpan.SetStatus(codes.Error, err.Error())
			turnSpan.End()
			agentErr := &AgentError{Kind: model.ErrProviderError, Detail: "model stream failed", Cause: err}
			a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventError, ErrorKind: string(agentErr.Kind), ErrorMessage: agentErr.Error()})
			a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventDone, DoneError: true})
			return ChatResult{Status: ChatError, Err: agentErr}
		}
		turnSpan.SetStatus(codes.Ok, "")
		turnSpan.End()
		a.appendMessage(ctx, assistant)

		if outcome := a.template.Hooks.runPostModel(ctx, a.runtime.Logger, assistant); outcome.halted() {
			a.publish(ctx, model.ChannelControl, model.Event{Type: model.EventAgentHalted, Note: outcome.Halt})
			return ChatResult{Status: ChatError, Err: fmt.Errorf("agent: postModel hook halted turn: %s", outcome.Halt)}
		}

		if len(toolCalls) == 0 {
			// Step 8: no tool calls this round, turn is done.
			a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventDone})
			a.advanceStep()
			return ChatResult{Status: ChatOK, Text: textOfMessage(assistant)}
		}

		// Step 6: run every tool_use block through the §4.4 lifecycle.
		blocks, pendings := a.runToolCalls(ctx, toolCalls)
		if len(pendings) > 0 {
			ids := make([]string, 0, len(pendings))
			for id := range pendings {
				ids = append(ids, id)
			}
			a.pausedRound = &pausedRound{round: round, toolCalls: toolCalls, blocks: blocks, pending: pendings}
			return ChatResult{Status: ChatPaused, PermissionIDs: ids}
		}

		// Step 7: loop back to step 3 with the tool_result message appended.
		toolResultMsg := model.Message{ID: model.NewID(), Role: model.RoleUser, Content: orderedResultBlocks(toolCalls, blocks), CreatedAt: time.Now()}
		a.appendMessage(ctx, toolResultMsg)
		a.advanceStep()
	}
}

func (a *Agent) advanceStep() {
	a.mu.Lock()
	a.stepCount++
	a.mu.Unlock()
	a.scheduler.AdvanceStep()
}

// appendMessage persists msg to the durable log, appends it to the
// in-memory transcript, and fans out messages_changed.
func (a *Agent) appendMessage(ctx context.Context, msg model.Message) {
	a.mu.Lock()
	a.messages = append(a.messages, msg)
	a.mu.Unlock()

	if err := a.deps.Store.AppendMessage(ctx, a.id, msg); err != nil {
		a.runtime.Logger.Error("agent: append message failed", "agent_id", a.id, "err", err)
	}

	a.template.Hooks.runMessagesChanged(ctx, a.runtime.Logger, a.snapshotMessages())
	a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventMessagesChanged})
}

func (a *Agent) snapshotMessages() []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// contextWindow returns the message slice a model turn actually sends to
// the ModelProvider: the full durable history, optionally compacted by
// the Context manager. The durable log (a.messages, the store) is never
// mutated by compaction — only the provider-facing view shrinks, so
// resume always reconstructs full, uncompacted history and compaction
// is re-derived identically on the next turn.
func (a *Agent) contextWindow(ctx context.Context) []model.Message {
	messages := a.snapshotMessages()
	if a.runtime.Context == nil {
		return messages
	}
	result := a.runtime.Context.Compact(messages)
	if result.Compacted {
		a.publish(ctx, model.ChannelMonitor, model.Event{
			Type:         model.EventContextCompacted,
			RemovedCount: result.RemovedCount,
			TokensFreed:  result.TokensFreed,
		})
	}
	return result.Messages
}

// streamTurn calls the ModelProvider, translates chunks into progress
// events (step 4), and accumulates content blocks into the next
// assistant message, extracting any tool_use blocks as lifecycle
// requests.
func (a *Agent) streamTurn(ctx context.Context) (model.Message, []toolCallRequest, error) {
	req := provider.CompletionRequest{
		Messages:  a.contextWindow(ctx),
		System:    a.template.SystemPrompt,
		Tools:     a.providerToolSpecs(),
		MaxTokens: 4096,
	}

	chunks, errc := a.deps.Provider.Stream(ctx, req)

	var blocks []model.ContentBlock
	var textBuilder, thinkBuilder string
	var textOpen, thinkOpen bool
	pendingTool := map[int]*model.ContentBlock{}
	pendingToolJSON := map[int]string{}

	for chunk := range chunks {
		switch chunk.Type {
		case provider.ChunkContentBlockStart:
			if chunk.ContentBlock != nil && chunk.ContentBlock.Type == model.BlockToolUse {
				cp := *chunk.ContentBlock
				pendingTool[chunk.Index] = &cp
				a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventToolAnnounce, ToolCallID: cp.ToolUseID, ToolName: cp.ToolName})
			}
		case provider.ChunkContentBlockDelta:
			if chunk.Delta == nil {
				continue
			}
			switch chunk.Delta.Type {
			case provider.DeltaText:
				if !textOpen {
					a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventTextChunkStart})
					textOpen = true
				}
				textBuilder += chunk.Delta.Text
				a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventTextChunk, Text: chunk.Delta.Text})
			case provider.DeltaThinking:
				if a.runtime.ExposeThinking {
					if !thinkOpen {
						a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventThinkChunkStart})
						thinkOpen = true
					}
					thinkBuilder += chunk.Delta.Text
					a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventThinkChunk, Text: chunk.Delta.Text})
				}
			case provider.DeltaInputJSON:
				pendingToolJSON[chunk.Index] += chunk.Delta.PartialJSON
			}
		case provider.ChunkContentBlockStop:
			if tb, ok := pendingTool[chunk.Index]; ok {
				if js := pendingToolJSON[chunk.Index]; js != "" {
					tb.ToolInput = json.RawMessage(js)
				}
				blocks = append(blocks, *tb)
				delete(pendingTool, chunk.Index)
			}
		}
	}

	if textOpen {
		a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventTextChunkEnd})
	}
	if thinkOpen {
		a.publish(ctx, model.ChannelProgress, model.Event{Type: model.EventThinkChunkEnd})
	}
	if textBuilder != "" {
		blocks = append([]model.ContentBlock{model.Text(textBuilder)}, blocks...)
	}
	if thinkBuilder != "" && a.runtime.RetainThinking {
		blocks = append(blocks, model.ContentBlock{Type: model.BlockReasoning, Text: thinkBuilder})
	}

	select {
	case err, ok := <-errc:
		if ok && err != nil {
			return model.Message{}, nil, err
		}
	default:
	}

	assistant := model.Message{ID: model.NewID(), Role: model.RoleAssistant, Content: blocks, CreatedAt: time.Now()}

	var toolCalls []toolCallRequest
	for _, b := range assistant.ToolUseBlocks() {
		toolCalls = append(toolCalls, toolCallRequest{ID: b.ToolUseID, Name: b.ToolName, Args: b.ToolInput})
	}
	return assistant, toolCalls, nil
}

func textOfMessage(msg model.Message) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == model.BlockText {
			out += b.Text
		}
	}
	return out
}
