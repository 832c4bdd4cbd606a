package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// Anthropic is a ModelProvider backed by Claude's Messages API.
type Anthropic struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropic creates an Anthropic-backed ModelProvider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provider: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) model(req CompletionRequest) string {
	// CompletionRequest has no explicit model field; callers select a
	// model via ExtraBody["model"], falling back to defaultModel.
	if m, ok := req.ExtraBody["model"].(string); ok && m != "" {
		return m
	}
	return p.defaultModel
}

func (p *Anthropic) maxTokens(req CompletionRequest) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	return 4096
}

func (p *Anthropic) buildParams(req CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessagesAnthropic(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("provider: anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  messages,
		MaxTokens: p.maxTokens(req),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsAnthropic(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("provider: anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *Anthropic) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	chunks, errc := p.Stream(ctx, req)

	var blocks []model.ContentBlock
	var usage Usage
	var text strings.Builder
	var toolInput strings.Builder
	var toolID, toolName string
	inTool := false

	for c := range chunks {
		switch c.Type {
		case ChunkContentBlockStart:
			if c.ContentBlock != nil && c.ContentBlock.Type == model.BlockToolUse {
				inTool = true
				toolID = c.ContentBlock.ToolUseID
				toolName = c.ContentBlock.ToolName
				toolInput.Reset()
			}
		case ChunkContentBlockDelta:
			if c.Delta == nil {
				continue
			}
			switch c.Delta.Type {
			case DeltaText:
				text.WriteString(c.Delta.Text)
			case DeltaInputJSON:
				toolInput.WriteString(c.Delta.PartialJSON)
			}
		case ChunkContentBlockStop:
			if inTool {
				blocks = append(blocks, model.ToolUse(toolID, toolName, json.RawMessage(toolInput.String())))
				inTool = false
			}
		case ChunkMessageDelta, ChunkMessageStart:
			if c.Usage != nil {
				if c.Usage.InputTokens > 0 {
					usage.InputTokens = c.Usage.InputTokens
				}
				if c.Usage.OutputTokens > 0 {
					usage.OutputTokens = c.Usage.OutputTokens
				}
			}
		}
	}
	if err := <-errc; err != nil {
		return CompletionResult{}, err
	}
	if text.Len() > 0 {
		blocks = append([]model.ContentBlock{model.Text(text.String())}, blocks...)
	}
	return CompletionResult{Content: blocks, Usage: &usage}, nil
}

func (p *Anthropic) Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		params, err := p.buildParams(req)
		if err != nil {
			errc <- err
			return
		}

		var stream *anthropicStream
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			s := p.client.Messages.NewStreaming(ctx, params)
			stream = &anthropicStream{s: s}
			err = nil
			if !isRetryableAnthropicErr(stream.checkErr()) {
				break
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				case <-time.After(backoff):
				}
			}
		}

		processAnthropicStream(stream, out)
		if err := stream.s.Err(); err != nil {
			errc <- fmt.Errorf("provider: anthropic: stream error: %w", err)
		}
	}()

	return out, errc
}

// anthropicStream wraps the SDK's stream so retry probing and processing
// share one object without re-exporting the generic ssestream type here.
type anthropicStream struct {
	s interface {
		Next() bool
		Current() anthropic.MessageStreamEventUnion
		Err() error
	}
}

func (a *anthropicStream) checkErr() error {
	if a == nil || a.s == nil {
		return nil
	}
	return a.s.Err()
}

func isRetryableAnthropicErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"rate_limit", "429", "500", "502", "503", "504", "timeout", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func processAnthropicStream(stream *anthropicStream, out chan<- Chunk) {
	if stream == nil {
		return
	}
	for stream.s.Next() {
		event := stream.s.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			out <- Chunk{Type: ChunkMessageStart, Usage: &Usage{InputTokens: int(ms.Message.Usage.InputTokens)}}
		case "content_block_start":
			cbs := event.AsContentBlockStart()
			block := cbs.ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				cb := model.ToolUse(tu.ID, tu.Name, nil)
				out <- Chunk{Type: ChunkContentBlockStart, Index: int(cbs.Index), ContentBlock: &cb}
			}
		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			switch cbd.Delta.Type {
			case "text_delta":
				if cbd.Delta.Text != "" {
					out <- Chunk{Type: ChunkContentBlockDelta, Index: int(cbd.Index), Delta: &Delta{Type: DeltaText, Text: cbd.Delta.Text}}
				}
			case "input_json_delta":
				if cbd.Delta.PartialJSON != "" {
					out <- Chunk{Type: ChunkContentBlockDelta, Index: int(cbd.Index), Delta: &Delta{Type: DeltaInputJSON, PartialJSON: cbd.Delta.PartialJSON}}
				}
			case "thinking_delta":
				if cbd.Delta.Thinking != "" {
					out <- Chunk{Type: ChunkContentBlockDelta, Index: int(cbd.Index), Delta: &Delta{Type: DeltaThinking, Text: cbd.Delta.Thinking}}
				}
			}
		case "content_block_stop":
			cbs := event.AsContentBlockStop()
			out <- Chunk{Type: ChunkContentBlockStop, Index: int(cbs.Index)}
		case "message_delta":
			md := event.AsMessageDelta()
			out <- Chunk{Type: ChunkMessageDelta, Usage: &Usage{OutputTokens: int(md.Usage.OutputTokens)}}
		case "message_stop":
			out <- Chunk{Type: ChunkMessageStop}
			return
		}
	}
}

func convertMessagesAnthropic(messages []model.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		var content []anthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch b.Type {
			case model.BlockText:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case model.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolUseRefID, b.ResultText, b.IsError))
			case model.BlockToolUse:
				var input map[string]any
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("tool_use %s: invalid input JSON: %w", b.ToolUseID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			}
		}
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertToolsAnthropic(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition after conversion", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out, nil
}
