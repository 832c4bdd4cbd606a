package tape

import (
	"context"
	"time"

	"github.com/nexusruntime/agentrt/pkg/provider"
)

// Recorder wraps a real provider.ModelProvider, capturing every Stream
// call's request and resulting chunks onto a Tape as they happen. It
// implements provider.ModelProvider itself so it can be dropped into
// Deps.Provider in place of the provider it wraps.
type Recorder struct {
	inner provider.ModelProvider
	tape  *Tape
}

// NewRecorder starts recording inner's turns onto a fresh Tape.
func NewRecorder(inner provider.ModelProvider) *Recorder {
	return &Recorder{inner: inner, tape: New(inner.Name())}
}

func (r *Recorder) Name() string { return r.inner.Name() }

func (r *Recorder) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResult, error) {
	return r.inner.Complete(ctx, req)
}

// Stream delegates to the wrapped provider, draining its chunk channel
// onto a buffered replacement channel so callers see the same stream
// while every chunk is also appended to the current turn.
func (r *Recorder) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.Chunk, <-chan error) {
	start := time.Now()
	inChunks, inErr := r.inner.Stream(ctx, req)

	out := make(chan provider.Chunk, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		var chunks []provider.Chunk
		for c := range inChunks {
			chunks = append(chunks, c)
			out <- c
		}
		r.tape.AddTurn(Turn{Request: req, Chunks: chunks, Duration: time.Since(start)})
		if err, ok := <-inErr; ok && err != nil {
			errc <- err
		}
		close(errc)
	}()

	return out, errc
}

// Tape returns the tape recorded so far. Safe to call after the
// conversation under test has run to completion; the recorder does not
// guard concurrent access from multiple in-flight Stream calls because
// agent.Agent never calls Stream for the same agent from more than one
// goroutine at a time (spec's single-actor-per-agent rule).
func (r *Recorder) Tape() *Tape { return r.tape }

// Save marshals the recorded tape to JSON.
func (r *Recorder) Save() ([]byte, error) { return r.tape.Marshal() }
