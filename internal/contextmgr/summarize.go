package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// SummaryPrefix marks the synthetic assistant message that replaces a
// summarized span.
const SummaryPrefix = "[Conversation summary]"

const (
	defaultMaxContext = 128000
	defaultThreshold  = 0.8
	defaultKeepRecent = 10

	// summaryMaxTokens bounds the summarizer's reply, not the span it
	// reads.
	summaryMaxTokens = 1024
)

const summaryPrompt = `Summarize the conversation below so it can stand in for the dropped messages in an ongoing coding session.

Requirements:
- Terse third-person prose. No headings, no lists.
- Keep exact file paths, commands, identifiers and error messages that were mentioned.
- Record decisions made and their reasons.
- Record unresolved tasks and open problems.
- Do not invent details absent from the conversation.

Conversation:
%s`

// Summarizer condenses a transcript span into prose.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []models.Message) (string, error)
}

// SummarizeOlder replaces the oldest span of a transcript with one
// synthetic assistant message once the estimated token count crosses
// the configured share of the model context. Summarization blocks the
// turn; failures degrade to the sliding window so a broken summarizer
// model never stalls the session.
type SummarizeOlder struct {
	est        *Estimator
	summarizer Summarizer
	maxContext int
	threshold  float64
	keepRecent int
	window     *SlidingWindow
	logger     *slog.Logger
}

// NewSummarizeOlder builds the strategy for the given model using its
// context length and the thresholds in cfg.
func NewSummarizeOlder(cfg config.ContextConfig, model config.ModelConfig, summarizer Summarizer) *SummarizeOlder {
	maxContext := model.MaxContextLength
	if maxContext <= 0 {
		maxContext = defaultMaxContext
	}
	threshold := cfg.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	keep := cfg.KeepRecent
	if keep <= 0 {
		keep = defaultKeepRecent
	}
	return &SummarizeOlder{
		est:        NewEstimator(model.Name),
		summarizer: summarizer,
		maxContext: maxContext,
		threshold:  threshold,
		keepRecent: keep,
		window:     NewSlidingWindow(cfg.Size),
		logger:     slog.Default().With("component", "contextmgr"),
	}
}

// Trim condenses everything older than the keepRecent tail when the
// transcript exceeds threshold times the model context.
func (s *SummarizeOlder) Trim(ctx context.Context, msgs []models.Message) ([]models.Message, error) {
	budget := int(s.threshold * float64(s.maxContext))
	total := s.est.CountMessages(msgs)
	if total <= budget {
		return msgs, nil
	}
	system, rest := splitSystem(msgs)
	if len(rest) <= s.keepRecent {
		return msgs, nil
	}
	cut := alignCut(rest, len(rest)-s.keepRecent)
	summary, err := s.summarizer.Summarize(ctx, rest[:cut])
	if err != nil {
		s.logger.Warn("summarization failed, using sliding window",
			"error", err, "dropped", cut)
		return s.window.Trim(ctx, msgs)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		s.logger.Warn("summarizer returned no content, using sliding window",
			"dropped", cut)
		return s.window.Trim(ctx, msgs)
	}
	s.logger.Info("summarized older context",
		"dropped", cut, "kept", len(rest)-cut, "tokens", total, "budget", budget)
	out := make([]models.Message, 0, len(system)+1+len(rest)-cut)
	out = append(out, system...)
	out = append(out, models.NewAssistantMessage(SummaryPrefix+" "+summary, nil))
	out = append(out, rest[cut:]...)
	return out, nil
}

// CompletionFunc is the non-streaming call of an LLM backend, as
// implemented by the provider package.
type CompletionFunc func(ctx context.Context, req *models.LLMRequest) (*models.ChatCompletion, error)

// LLMSummarizer produces summaries through a secondary, usually
// smaller, model.
type LLMSummarizer struct {
	call  CompletionFunc
	model string
}

// NewLLMSummarizer wires a provider call and the model name sent with
// each summary request.
func NewLLMSummarizer(call CompletionFunc, model string) *LLMSummarizer {
	return &LLMSummarizer{call: call, model: model}
}

// Summarize renders the span into the summary prompt and runs one
// blocking completion.
func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []models.Message) (string, error) {
	req := &models.LLMRequest{
		Model: s.model,
		Messages: []models.Message{
			models.NewUserMessage(fmt.Sprintf(summaryPrompt, renderTranscript(msgs))),
		},
		MaxTokens: summaryMaxTokens,
	}
	resp, err := s.call(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarize %d messages: %w", len(msgs), err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// renderTranscript flattens messages into role-labelled lines for the
// summary prompt.
func renderTranscript(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch {
		case m.Role == models.RoleTool:
			fmt.Fprintf(&b, "tool %s: %s\n", m.Name, m.Content)
		case m.Role == models.RoleAssistant && len(m.ToolCalls) > 0:
			if m.Content != "" {
				fmt.Fprintf(&b, "assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "assistant calls %s(%s)\n", tc.Function.Name, tc.Function.Arguments)
			}
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}
