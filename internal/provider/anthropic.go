package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// The Messages API requires an explicit output budget.
const defaultAnthropicMaxTokens = 4096

// maxEmptyStreamEvents bounds consecutive events that produce no
// output before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// Anthropic talks to the Anthropic Messages API. Transcript messages
// in the OpenAI wire shape are converted to content blocks: system
// messages move to the system parameter, tool results become
// tool_result blocks grouped into one user message per assistant turn.
type Anthropic struct {
	client     anthropic.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewAnthropic builds the provider for cfg with a resolved API key.
func NewAnthropic(cfg config.ModelConfig, key string) *Anthropic {
	// Retries run through withRetry here, not the SDK's own layer.
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:     anthropic.NewClient(opts...),
		model:      cfg.Name,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     slog.Default().With("component", "provider.anthropic"),
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Tools: true, Vision: true, JSONSchema: false}
}

// Call blocks until the completion finishes, retrying transient
// failures with linear backoff.
func (p *Anthropic) Call(ctx context.Context, req *models.LLMRequest) (*models.ChatCompletion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := withRetry(ctx, p.maxRetries, p.retryDelay, p.logger, func() (*anthropic.Message, *ProviderError) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, p.wrapError(err, string(params.Model))
		}
		return msg, nil
	})
	if err != nil {
		return nil, err
	}
	return convertAnthropicMessage(msg), nil
}

// Stream opens a streaming completion and converts Messages API events
// to indexed deltas: each tool_use block takes the next index, its
// input_json_delta fragments carry the argument text, and the stop
// reason maps to the terminal finish reason. Only stream creation is
// retried.
func (p *Anthropic) Stream(ctx context.Context, req *models.LLMRequest) (<-chan *models.ChatCompletionChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	// NewStreaming issues the request eagerly and carries any failure
	// in the stream handle instead of returning it.
	stream, err := withRetry(ctx, p.maxRetries, p.retryDelay, p.logger, func() (*ssestream.Stream[anthropic.MessageStreamEventUnion], *ProviderError) {
		stream := p.client.Messages.NewStreaming(ctx, params)
		if err := stream.Err(); err != nil {
			stream.Close()
			return nil, p.wrapError(err, string(params.Model))
		}
		return stream, nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *models.ChatCompletionChunk)
	go p.forward(ctx, stream, chunks)
	return chunks, nil
}

func (p *Anthropic) forward(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *models.ChatCompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	send := func(c *models.ChatCompletionChunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	toolIndex := -1
	inToolBlock := false
	var finish models.FinishReason
	empty := 0

	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			// Carries usage only; nothing to forward.

		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type != "tool_use" {
				break
			}
			toolUse := start.ContentBlock.AsToolUse()
			toolIndex++
			inToolBlock = true
			if !send(&models.ChatCompletionChunk{ToolCalls: []models.ToolCallDelta{{
				Index: toolIndex,
				ID:    toolUse.ID,
				Name:  toolUse.Name,
			}}}) {
				return
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					processed = false
					break
				}
				if !send(&models.ChatCompletionChunk{Content: delta.Text}) {
					return
				}
			case "input_json_delta":
				if delta.PartialJSON == "" || !inToolBlock {
					processed = false
					break
				}
				if !send(&models.ChatCompletionChunk{ToolCalls: []models.ToolCallDelta{{
					Index:     toolIndex,
					Arguments: delta.PartialJSON,
				}}}) {
					return
				}
			default:
				processed = false
			}

		case "content_block_stop":
			inToolBlock = false

		case "message_delta":
			if reason := event.AsMessageDelta().Delta.StopReason; reason != "" {
				finish = anthropicFinishReason(string(reason))
			}

		case "message_stop":
			if finish == "" {
				finish = models.FinishReasonStop
			}
			send(&models.ChatCompletionChunk{FinishReason: finish})
			return

		case "error":
			var payload anthropicErrorPayload
			message := "stream error"
			if json.Unmarshal([]byte(event.RawJSON()), &payload) == nil && payload.Error.Message != "" {
				message = payload.Error.Message
			}
			send(&models.ChatCompletionChunk{Err: &ProviderError{
				Provider: "anthropic",
				Model:    p.model,
				Code:     payload.Error.Type,
				Message:  message,
			}})
			return

		default:
			processed = false
		}

		if processed {
			empty = 0
		} else if empty++; empty >= maxEmptyStreamEvents {
			send(&models.ChatCompletionChunk{Err: p.wrapError(
				fmt.Errorf("stream malformed: %d consecutive empty events", empty), p.model)})
			return
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = p.wrapError(err, p.model)
		}
		send(&models.ChatCompletionChunk{Err: err})
		return
	}
	// Ended without message_stop; close out with a clean stop.
	send(&models.ChatCompletionChunk{FinishReason: models.FinishReasonStop})
}

func (p *Anthropic) buildParams(req *models.LLMRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system := systemText(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// systemText joins every system message; the Messages API takes the
// system prompt as a parameter, not a transcript entry.
func systemText(msgs []models.Message) string {
	var parts []string
	for _, m := range msgs {
		if m.Role == models.RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func convertAnthropicMessages(msgs []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	// Tool results answering one assistant turn must share a single
	// user message.
	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			continue
		case models.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flushResults()

		var blocks []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("tool call %s: invalid arguments: %w", tc.ID, err)
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	flushResults()
	return out, nil
}

func convertAnthropicTools(tools []models.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil && t.Description != "" {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out, nil
}

func convertAnthropicMessage(msg *anthropic.Message) *models.ChatCompletion {
	out := &models.ChatCompletion{
		ID:           msg.ID,
		Model:        string(msg.Model),
		FinishReason: anthropicFinishReason(string(msg.StopReason)),
		Usage: models.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var content strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:   toolUse.ID,
				Type: "function",
				Function: models.FunctionCall{
					Name:      toolUse.Name,
					Arguments: string(toolUse.Input),
				},
			})
		}
	}
	out.Content = content.String()
	return out
}

// anthropicFinishReason maps a Messages API stop reason onto the
// OpenAI-shaped finish reasons the orchestrator consumes.
func anthropicFinishReason(stop string) models.FinishReason {
	switch stop {
	case "":
		return ""
	case "tool_use":
		return models.FinishReasonToolCalls
	case "max_tokens":
		return models.FinishReasonLength
	case "refusal":
		return models.FinishReasonContentFilter
	default:
		// end_turn, stop_sequence, pause_turn
		return models.FinishReasonStop
	}
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *Anthropic) wrapError(err error, model string) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	out := &ProviderError{Provider: "anthropic", Model: model, Cause: err}

	var apiErr *anthropic.Error
	switch {
	case errors.As(err, &apiErr):
		out.Status = apiErr.StatusCode
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				out.Message = payload.Error.Message
				out.Code = payload.Error.Type
			}
		}
		if out.Message == "" {
			out.Message = "request failed"
		}
		out.Retryable = retryableStatus(out.Status)
	case errors.Is(err, context.DeadlineExceeded):
		out.Message = "request timed out"
		out.Retryable = true
	default:
		out.Message = err.Error()
		out.Retryable = retryableMessage(out.Message)
	}
	return out
}
