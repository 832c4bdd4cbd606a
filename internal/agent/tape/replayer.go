package tape

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nexusruntime/agentrt/pkg/provider"
)

// ErrTapeExhausted is returned once every recorded turn has been replayed.
var ErrTapeExhausted = errors.New("tape: exhausted, no more recorded turns")

// ReplayMode controls how strictly Replayer checks an incoming request
// against what was recorded.
type ReplayMode int

const (
	// ReplayLoose ignores the request entirely and returns the next
	// recorded turn's chunks in order. This is the default: most tests
	// only care that resume/compaction/snapshot logic drives the agent
	// through the same turn sequence, not that the exact request bytes
	// match byte for byte.
	ReplayLoose ReplayMode = iota

	// ReplayStrict records a Mismatch whenever the incoming request's
	// shape (message count, system prompt) differs from what was
	// recorded for that turn index.
	ReplayStrict
)

// Mismatch records one divergence Replayer noticed in ReplayStrict mode.
type Mismatch struct {
	TurnIndex int
	Field     string
	Expected  string
	Actual    string
}

// Replayer implements provider.ModelProvider by returning a Tape's
// recorded chunks in order, one turn per Stream call, without performing
// any real model inference.
type Replayer struct {
	tape *Tape
	mode ReplayMode

	mu        sync.Mutex
	turnIdx   int
	mismatches []Mismatch
}

// NewReplayer creates a replayer over tape, starting at its first turn.
func NewReplayer(t *Tape) *Replayer {
	return &Replayer{tape: t.Clone(), mode: ReplayLoose}
}

// WithMode sets the replay strictness and returns the replayer for chaining.
func (r *Replayer) WithMode(mode ReplayMode) *Replayer {
	r.mode = mode
	return r
}

func (r *Replayer) Name() string { return "tape-replayer:" + r.tape.ProviderName }

func (r *Replayer) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResult, error) {
	chunks, _ := r.Stream(ctx, req)
	var result provider.CompletionResult
	for c := range chunks {
		if c.ContentBlock != nil {
			result.Content = append(result.Content, *c.ContentBlock)
		}
		if c.Usage != nil {
			result.Usage = c.Usage
		}
	}
	return result, nil
}

// Stream returns the next recorded turn's chunks, in order, regardless of
// what req actually contains (unless WithMode(ReplayStrict) was set, in
// which case a divergence is recorded but playback still proceeds — the
// replayer never fails a turn on mismatch, only surfaces it via
// Mismatches for the caller to assert on).
func (r *Replayer) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.Chunk, <-chan error) {
	r.mu.Lock()
	if r.turnIdx >= len(r.tape.Turns) {
		r.mu.Unlock()
		errc := make(chan error, 1)
		errc <- ErrTapeExhausted
		close(errc)
		out := make(chan provider.Chunk)
		close(out)
		return out, errc
	}
	turn := r.tape.Turns[r.turnIdx]
	idx := r.turnIdx
	r.turnIdx++
	r.mu.Unlock()

	if r.mode == ReplayStrict {
		r.checkMismatch(idx, req, turn.Request)
	}

	out := make(chan provider.Chunk, len(turn.Chunks)+1)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, c := range turn.Chunks {
			select {
			case <-ctx.Done():
				return
			case out <- c:
			}
		}
	}()
	return out, errc
}

func (r *Replayer) checkMismatch(turnIndex int, actual, expected provider.CompletionRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if expected.System != "" && actual.System != expected.System {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: turnIndex, Field: "system", Expected: expected.System, Actual: actual.System,
		})
	}
	if len(actual.Messages) != len(expected.Messages) {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: turnIndex,
			Field:     "message_count",
			Expected:  fmt.Sprintf("%d", len(expected.Messages)),
			Actual:    fmt.Sprintf("%d", len(actual.Messages)),
		})
	}
}

// Mismatches returns every divergence recorded so far in ReplayStrict mode.
func (r *Replayer) Mismatches() []Mismatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mismatch(nil), r.mismatches...)
}

// Reset rewinds the replayer to the tape's first turn.
func (r *Replayer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turnIdx = 0
	r.mismatches = nil
}

// CurrentTurn returns the index of the next turn Stream will return.
func (r *Replayer) CurrentTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnIdx
}
