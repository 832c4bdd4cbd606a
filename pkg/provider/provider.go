// Package provider defines the ModelProvider capability the orchestrator
// drives: a streaming, tool-aware completion interface. Concrete wire
// adapters are out of scope for the runtime core; this package carries
// two thin reference implementations, Anthropic (anthropic.go) and
// OpenAI (openai.go).
package provider

import (
	"context"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// ToolSpec describes a tool as presented to the model, independent of the
// concrete wire format a given provider adapter translates it into.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte // JSON Schema
}

// CompletionRequest is provider-agnostic input to a single model turn.
type CompletionRequest struct {
	Messages      []model.Message
	System        string
	Tools         []ToolSpec
	Temperature   *float64
	MaxTokens     int
	ExtraHeaders  map[string]string
	ExtraBody     map[string]any
	Multimodal    bool
}

// Usage reports token accounting for a completed request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResult is the non-streaming response to Complete.
type CompletionResult struct {
	Content []model.ContentBlock
	Usage   *Usage
}

// ChunkType discriminates the variants of a streamed Chunk.
type ChunkType string

const (
	ChunkMessageStart      ChunkType = "message_start"
	ChunkContentBlockStart ChunkType = "content_block_start"
	ChunkContentBlockDelta ChunkType = "content_block_delta"
	ChunkContentBlockStop  ChunkType = "content_block_stop"
	ChunkMessageDelta      ChunkType = "message_delta"
	ChunkMessageStop       ChunkType = "message_stop"
)

// DeltaType discriminates the variants of a ContentBlockDelta.
type DeltaType string

const (
	DeltaText         DeltaType = "text_delta"
	DeltaInputJSON    DeltaType = "input_json_delta"
	DeltaThinking     DeltaType = "thinking_delta"
)

// Delta carries the incremental payload of a content_block_delta chunk.
type Delta struct {
	Type        DeltaType
	Text        string
	PartialJSON string
}

// Chunk is a single element of a provider's streamed response.
type Chunk struct {
	Type         ChunkType
	Index        int
	ContentBlock *model.ContentBlock
	Delta        *Delta
	Usage        *Usage
}

// ModelProvider is the external capability the orchestrator drives. Wire
// adapters for concrete providers are out of this runtime's scope; only
// the interface and chunk-translation contract are specified here.
type ModelProvider interface {
	// Complete performs a single non-streaming model turn.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)

	// Stream performs a single model turn, yielding chunks on the
	// returned channel. The channel is closed when the stream ends or
	// ctx is cancelled; a send on errc (if non-nil writes occurred)
	// indicates a provider_error per the runtime's error taxonomy.
	Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, <-chan error)

	// Name identifies the provider for API-key resolution and logging.
	Name() string
}
