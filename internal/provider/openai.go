package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// OpenAI talks to any OpenAI-compatible chat-completions endpoint.
// A BaseURL override in the model config points it at self-hosted or
// proxy deployments.
type OpenAI struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewOpenAI builds the provider for cfg with a resolved API key.
func NewOpenAI(cfg config.ModelConfig, key string) *OpenAI {
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Name,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     slog.Default().With("component", "provider.openai"),
	}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Tools: true, Vision: true, JSONSchema: true}
}

// Call blocks until the completion finishes, retrying transient
// failures with linear backoff.
func (p *OpenAI) Call(ctx context.Context, req *models.LLMRequest) (*models.ChatCompletion, error) {
	chatReq := p.convertRequest(req)
	chatReq.Stream = false

	resp, err := withRetry(ctx, p.maxRetries, p.retryDelay, p.logger, func() (openai.ChatCompletionResponse, *ProviderError) {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return openai.ChatCompletionResponse{}, p.wrapError(err, chatReq.Model)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return convertOpenAIResponse(resp), nil
}

// Stream opens a streaming completion and forwards raw deltas. Only
// stream creation is retried; once the first chunk has been delivered
// a failure surfaces as a chunk carrying Err.
func (p *OpenAI) Stream(ctx context.Context, req *models.LLMRequest) (<-chan *models.ChatCompletionChunk, error) {
	chatReq := p.convertRequest(req)
	chatReq.Stream = true

	stream, err := withRetry(ctx, p.maxRetries, p.retryDelay, p.logger, func() (*openai.ChatCompletionStream, *ProviderError) {
		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return nil, p.wrapError(err, chatReq.Model)
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

func (p *OpenAI) forward(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *models.ChatCompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			} else {
				err = p.wrapError(err, p.model)
			}
			select {
			case chunks <- &models.ChatCompletionChunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := convertOpenAIDelta(resp.Choices[0])
		if chunk == nil {
			continue
		}
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

func (p *OpenAI) convertRequest(req *models.LLMRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	if len(req.Tools) > 0 {
		out.Tools = convertOpenAITools(req.Tools)
	}
	return out
}

func convertOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func convertOpenAITools(tools []models.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil || schema == nil {
			// A bad schema degrades to an empty object schema so the
			// remaining tools still reach the model.
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

func convertOpenAIResponse(resp openai.ChatCompletionResponse) *models.ChatCompletion {
	out := &models.ChatCompletion{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	out.FinishReason = models.FinishReason(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func convertOpenAIDelta(choice openai.ChatCompletionStreamChoice) *models.ChatCompletionChunk {
	chunk := &models.ChatCompletionChunk{
		Content:      choice.Delta.Content,
		FinishReason: models.FinishReason(choice.FinishReason),
	}
	for _, tc := range choice.Delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, models.ToolCallDelta{
			Index:     index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if chunk.Content == "" && len(chunk.ToolCalls) == 0 && chunk.FinishReason == "" {
		return nil
	}
	return chunk
}

func (p *OpenAI) wrapError(err error, model string) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	out := &ProviderError{Provider: "openai", Model: model, Cause: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.Status = apiErr.HTTPStatusCode
		out.Message = apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			out.Code = code
		}
		out.Retryable = retryableStatus(out.Status)
	case errors.As(err, &reqErr):
		out.Status = reqErr.HTTPStatusCode
		out.Message = reqErr.Error()
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
