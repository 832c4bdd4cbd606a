package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// OpenAI is a ModelProvider backed by the Chat Completions API.
type OpenAI struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAI provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewOpenAI creates an OpenAI-backed ModelProvider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provider: openai API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}

	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(oaiCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) model(req CompletionRequest) string {
	if m, ok := req.ExtraBody["model"].(string); ok && m != "" {
		return m
	}
	return p.defaultModel
}

func (p *OpenAI) buildRequest(req CompletionRequest) (openai.ChatCompletionRequest, error) {
	messages, err := convertMessagesOpenAI(req.Messages, req.System)
	if err != nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("provider: openai: convert messages: %w", err)
	}

	out := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		out.Tools = convertToolsOpenAI(req.Tools)
	}
	return out, nil
}

func (p *OpenAI) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	chunks, errc := p.Stream(ctx, req)

	var blocks []model.ContentBlock
	var usage Usage
	var text strings.Builder

	for c := range chunks {
		switch c.Type {
		case ChunkContentBlockDelta:
			if c.Delta != nil && c.Delta.Type == DeltaText {
				text.WriteString(c.Delta.Text)
			}
		case ChunkContentBlockStart:
			if c.ContentBlock != nil && c.ContentBlock.Type == model.BlockToolUse {
				blocks = append(blocks, *c.ContentBlock)
			}
		case ChunkMessageDelta:
			if c.Usage != nil {
				usage = *c.Usage
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

// pendingToolCall accumulates a streamed tool_call's fields across chunks,
// keyed by the delta's index, mirroring the teacher's index-keyed map.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAI) Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		oaiReq, err := p.buildRequest(req)
		if err != nil {
			errc <- err
			return
		}

		var stream *openai.ChatCompletionStream
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.client.CreateChatCompletionStream(ctx, oaiReq)
			if err == nil || !isRetryableOpenAIErr(err) {
				break
			}
			if attempt < p.maxRetries {
				select {
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				case <-time.After(p.retryDelay * time.Duration(attempt+1)):
				}
			}
		}
		if err != nil {
			errc <- fmt.Errorf("provider: openai: create stream: %w", err)
			return
		}
		defer stream.Close()

		out <- Chunk{Type: ChunkMessageStart}
		processOpenAIStream(stream, out, errc)
		out <- Chunk{Type: ChunkMessageStop}
	}()

	return out, errc
}

func processOpenAIStream(stream *openai.ChatCompletionStream, out chan<- Chunk, errc chan<- error) {
	toolCalls := make(map[int]*pendingToolCall)

	flush := func() {
		for i, tc := range toolCalls {
			if tc.id == "" || tc.name == "" {
				continue
			}
			block := model.ToolUse(tc.id, tc.name, json.RawMessage(tc.args.String()))
			out <- Chunk{Type: ChunkContentBlockStart, Index: i, ContentBlock: &block}
		}
		toolCalls = make(map[int]*pendingToolCall)
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flush()
			return
		}
		if err != nil {
			errc <- fmt.Errorf("provider: openai: stream recv: %w", err)
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- Chunk{Type: ChunkContentBlockDelta, Delta: &Delta{Type: DeltaText, Text: delta.Content}}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &pendingToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].id = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].args.WriteString(tc.Function.Arguments)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}

		if resp.Usage != nil {
			out <- Chunk{Type: ChunkMessageDelta, Usage: &Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}}
		}
	}
}

func isRetryableOpenAIErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func convertMessagesOpenAI(messages []model.Message, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			continue

		case model.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: textOf(msg)})

		case model.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: textOf(msg)}
			var toolResults []model.ContentBlock
			for _, b := range msg.Content {
				switch b.Type {
				case model.BlockToolUse:
					oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
						ID:   b.ToolUseID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.ToolName,
							Arguments: string(b.ToolInput),
						},
					})
				case model.BlockToolResult:
					toolResults = append(toolResults, b)
				}
			}
			out = append(out, oaiMsg)
			for _, tr := range toolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.ResultText,
					ToolCallID: tr.ToolUseRefID,
				})
			}
		}
	}
	return out, nil
}

func textOf(msg model.Message) string {
	var sb strings.Builder
	for _, b := range msg.Content {
		if b.Type == model.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func convertToolsOpenAI(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}
