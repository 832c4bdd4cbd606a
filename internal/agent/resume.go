package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nexusruntime/agentrt/internal/store"
	"github.com/nexusruntime/agentrt/pkg/model"
)

// ResumeStrategy selects how Resume reconstructs an Agent's in-memory
// state from durable storage, per spec §4.6.
type ResumeStrategy string

const (
	// ResumeManual loads the newest snapshot and replays events after its
	// lastSeq. No side effects re-execute.
	ResumeManual ResumeStrategy = "manual"

	// ResumeCrash does everything ResumeManual does, plus seals every
	// ToolCallRecord left in a non-terminal state.
	ResumeCrash ResumeStrategy = "crash"

	// ResumeTruncate discards unfinished turns back to the last clean
	// model-response boundary, used when corruption is detected.
	ResumeTruncate ResumeStrategy = "truncate"
)

// resumeFromStore loads the newest snapshot (if any) and replays events
// after its lastSeq, applying strategy-specific recovery.
func (a *Agent) resumeFromStore(ctx context.Context, strategy ResumeStrategy) error {
	switch strategy {
	case "":
		strategy = ResumeManual
	case ResumeManual, ResumeCrash, ResumeTruncate:
	default:
		return ErrUnknownStrategy
	}

	snap, err := a.deps.Store.LatestSnapshot(ctx, a.id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// No snapshot yet: replay the entire log from the beginning.
	case err != nil:
		return fmt.Errorf("agent: resume: load snapshot: %w", err)
	default:
		a.applySnapshot(snap)
	}

	// messages.log, not the snapshot, is the authoritative message history:
	// a snapshot only captures messages up to the moment it was taken, and
	// turns since then kept appending to the durable log via appendMessage.
	// Loading it here supersedes whatever applySnapshot just set.
	messages, err := a.deps.Store.LoadMessages(ctx, a.id)
	if err != nil {
		return fmt.Errorf("agent: resume: load messages: %w", err)
	}
	if len(messages) > 0 {
		a.messages = messages
	}

	fromSeq := a.minLastSeq()
	events, err := a.deps.Store.ReplayFrom(ctx, a.id, fromSeq)
	if err != nil {
		return fmt.Errorf("agent: resume: replay events: %w", err)
	}
	a.applyReplayedEvents(events)

	if strategy == ResumeTruncate {
		if err := a.truncateToCleanBoundary(); err != nil {
			return fmt.Errorf("%w: %v", ErrResumeCorruption, err)
		}
	}

	if strategy == ResumeCrash {
		// Seal before validating: an in-flight tool call with no paired
		// tool_result is exactly what crash resume expects to find, not
		// corruption. Sealing synthesizes the missing tool_result first so
		// the invariant check below only still fires on genuine corruption.
		sealed := a.sealNonTerminalToolCalls()
		if err := a.validateResumeInvariants(); err != nil {
			return fmt.Errorf("%w: %v", ErrResumeCorruption, err)
		}
		a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventAgentResumed, Strategy: string(strategy), Sealed: sealed})
		return nil
	}

	if err := a.validateResumeInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrResumeCorruption, err)
	}

	a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventAgentResumed, Strategy: string(strategy)})
	return nil
}

func (a *Agent) applySnapshot(snap model.Snapshot) {
	a.messages = append([]model.Message(nil), snap.Messages...)
	a.todos = append([]model.Todo(nil), snap.Todos...)
	for _, r := range snap.ToolRecords {
		a.toolRecords[r.ID] = r
	}
	for ch, seq := range snap.LastSeq {
		a.lastSeq[ch] = seq
	}
}

// minLastSeq returns the smallest per-channel bookmark the snapshot
// carried, used as ReplayFrom's single scalar cursor. Store.ReplayFrom
// filters by a single fromSeq across all channels even though each
// channel's seq counter advances independently, so using the minimum
// (rather than the maximum) guarantees no channel's unreplayed events
// are skipped; a channel that is already further ahead just re-applies
// a few already-known events, which applyReplayedEvents treats as a
// no-op bookmark bump.
func (a *Agent) minLastSeq() uint64 {
	var min uint64
	first := true
	for _, seq := range a.lastSeq {
		if first || seq < min {
			min = seq
			first = false
		}
	}
	return min
}

// applyReplayedEvents folds the post-snapshot event log back into
// in-memory state. Message content itself is already current by the time
// this runs: resumeFromStore loads messages.log directly via
// Store.LoadMessages. What's left here is advancing the per-channel seq
// bookmarks so the agent resumes Subscribe-ing and publishing from the
// right cursor; EventTodoChanged/EventMessagesChanged carry no payload of
// their own to fold in beyond that.
func (a *Agent) applyReplayedEvents(events []model.EventEnvelope) {
	for _, env := range events {
		if env.Seq > a.lastSeq[env.Channel] {
			a.lastSeq[env.Channel] = env.Seq
		}
	}
}

// truncateToCleanBoundary drops trailing messages back to the last
// assistant message with no unresolved tool_use blocks.
func (a *Agent) truncateToCleanBoundary() error {
	for i := len(a.messages) - 1; i >= 0; i-- {
		msg := a.messages[i]
		if msg.Role != model.RoleAssistant {
			continue
		}
		if len(msg.ToolUseBlocks()) == 0 {
			a.messages = a.messages[:i+1]
			return nil
		}
	}
	a.messages = nil
	return nil
}

// validateResumeInvariants checks that every tool_use in the message log
// is paired with a tool_result. It does not inspect ToolCallRecord states,
// so a record left non-terminal does not fail validation.
func (a *Agent) validateResumeInvariants() error {
	toolUseIDs := map[string]bool{}
	toolResultIDs := map[string]bool{}
	for _, msg := range a.messages {
		for _, b := range msg.Content {
			switch b.Type {
			case model.BlockToolUse:
				toolUseIDs[b.ToolUseID] = true
			case model.BlockToolResult:
				toolResultIDs[b.ToolUseRefID] = true
			}
		}
	}
	// Collect every unpaired tool_use rather than stopping at the first: a
	// corrupted log frequently drops more than one pairing, and a single
	// combined error tells the operator the full extent of the damage
	// instead of forcing a fix-rerun-fix loop one id at a time.
	var result *multierror.Error
	for id := range toolUseIDs {
		if !toolResultIDs[id] {
			result = multierror.Append(result, fmt.Errorf("tool_use %q has no paired tool_result", id))
		}
	}
	return result.ErrorOrNil()
}

// sealNonTerminalToolCalls transitions every ToolCallRecord left in
// PENDING/PERMITTED/RUNNING to SEALED and synthesizes an error
// tool_result so the model sees a consistent history on the next turn.
func (a *Agent) sealNonTerminalToolCalls() []string {
	sealed, resultBlocks := sealNonTerminalRecords(a.toolRecords, "sealed on resume")
	if len(resultBlocks) > 0 {
		a.messages = append(a.messages, model.Message{
			ID: model.NewID(), Role: model.RoleUser, Content: resultBlocks, CreatedAt: time.Now(),
		})
	}
	return sealed
}

// sealNonTerminalRecords seals every record still in a non-terminal state
// with reason and returns both the sealed IDs and the synthesized
// tool_result blocks to append to whatever message log owns records.
// Shared by crash-resume (above) and Fork, which both need to guarantee
// invariant 1 (every tool_use is paired with a tool_result) never survives
// into a new in-memory state with a tool call still in flight.
func sealNonTerminalRecords(records map[string]*model.ToolCallRecord, reason string) ([]string, []model.ContentBlock) {
	var sealed []string
	var resultBlocks []model.ContentBlock
	for _, r := range records {
		if r.IsTerminal() {
			continue
		}
		_ = r.Seal(reason)
		sealed = append(sealed, r.ID)
		resultBlocks = append(resultBlocks, model.ToolResultBlock(r.ID, reason, true))
	}
	return sealed, resultBlocks
}
