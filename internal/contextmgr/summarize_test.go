package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
	got     []models.Message
}

func (f *fakeSummarizer) Summarize(_ context.Context, msgs []models.Message) (string, error) {
	f.calls++
	f.got = msgs
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

// wideTranscript pads each message so the heuristic estimate clears
// small budgets quickly.
func wideTranscript(n, width int) []models.Message {
	msgs := []models.Message{models.NewSystemMessage("sys")}
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("m%02d %s", i, strings.Repeat("x", width))
		if i%2 == 0 {
			msgs = append(msgs, models.NewUserMessage(content))
		} else {
			msgs = append(msgs, models.NewAssistantMessage(content, nil))
		}
	}
	return msgs
}

func TestSummarizeOlderBelowThresholdUntouched(t *testing.T) {
	cfg := config.ContextConfig{Strategy: config.StrategySummarize, Threshold: 0.8, KeepRecent: 4}
	model := config.ModelConfig{Name: "test-model", MaxContextLength: 100000}
	fake := &fakeSummarizer{summary: "unused"}

	msgs := wideTranscript(6, 10)
	out, err := NewSummarizeOlder(cfg, model, fake).Trim(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if fake.calls != 0 {
		t.Errorf("summarizer called %d times below threshold", fake.calls)
	}
	if len(out) != len(msgs) {
		t.Errorf("Trim() len = %d, want %d", len(out), len(msgs))
	}
}

func TestSummarizeOlderCondensesOldSpan(t *testing.T) {
	cfg := config.ContextConfig{Strategy: config.StrategySummarize, Threshold: 0.5, KeepRecent: 5}
	model := config.ModelConfig{Name: "test-model", MaxContextLength: 1000}
	fake := &fakeSummarizer{summary: "condensed history"}

	msgs := wideTranscript(20, 200)
	out, err := NewSummarizeOlder(cfg, model, fake).Trim(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("summarizer calls = %d, want 1", fake.calls)
	}
	if len(fake.got) != 15 {
		t.Errorf("summarized span = %d messages, want 15", len(fake.got))
	}
	if len(out) != 7 {
		t.Fatalf("Trim() len = %d, want 7 (system + summary + 5 recent)", len(out))
	}
	if out[0].Role != models.RoleSystem {
		t.Errorf("Trim() dropped the system message")
	}
	if out[1].Role != models.RoleAssistant {
		t.Errorf("summary role = %s, want assistant", out[1].Role)
	}
	want := SummaryPrefix + " condensed history"
	if out[1].Content != want {
		t.Errorf("summary content = %q, want %q", out[1].Content, want)
	}
	if !strings.HasPrefix(out[2].Content, "m15") {
		t.Errorf("first kept = %q, want m15 prefix", out[2].Content)
	}
	if err := models.ValidateToolPairing(out); err != nil {
		t.Errorf("ValidateToolPairing() error = %v", err)
	}
}

func TestSummarizeOlderDegradesOnFailure(t *testing.T) {
	cfg := config.ContextConfig{Strategy: config.StrategySummarize, Threshold: 0.5, KeepRecent: 5, Size: 6}
	model := config.ModelConfig{Name: "test-model", MaxContextLength: 1000}
	fake := &fakeSummarizer{err: errors.New("summarizer down")}

	msgs := wideTranscript(20, 200)
	out, err := NewSummarizeOlder(cfg, model, fake).Trim(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Trim() error = %v, want degrade without error", err)
	}
	if len(out) != 7 {
		t.Fatalf("Trim() len = %d, want 7 (system + 6 window)", len(out))
	}
	for _, m := range out {
		if strings.HasPrefix(m.Content, SummaryPrefix) {
			t.Errorf("degraded trim still produced a summary message")
		}
	}
	if !strings.HasPrefix(out[1].Content, "m14") {
		t.Errorf("window oldest kept = %q, want m14 prefix", out[1].Content)
	}
}

func TestSummarizeOlderAlignsCutToPairs(t *testing.T) {
	cfg := config.ContextConfig{Strategy: config.StrategySummarize, Threshold: 0.5, KeepRecent: 4}
	model := config.ModelConfig{Name: "test-model", MaxContextLength: 100}
	fake := &fakeSummarizer{summary: "condensed"}

	pad := strings.Repeat("y", 60)
	calls := []models.ToolCall{
		{ID: "c1", Type: "function", Function: models.FunctionCall{Name: "read_file", Arguments: "{}"}},
		{ID: "c2", Type: "function", Function: models.FunctionCall{Name: "list_files", Arguments: "{}"}},
	}
	msgs := []models.Message{
		models.NewSystemMessage("sys"),
		models.NewUserMessage("u1 " + pad),
		models.NewAssistantMessage("a1 "+pad, nil),
		models.NewUserMessage("u2 " + pad),
		models.NewAssistantMessage("", calls),
		models.NewToolMessage("c1", "read_file", pad),
		models.NewToolMessage("c2", "list_files", pad),
		models.NewAssistantMessage("a2 "+pad, nil),
		models.NewUserMessage("u3 " + pad),
	}
	// keepRecent 4 puts the cut on the first tool result; the aligned
	// cut swallows both results and leaves only the post-call turn.
	out, err := NewSummarizeOlder(cfg, model, fake).Trim(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if len(fake.got) != 6 {
		t.Fatalf("summarized span = %d messages, want 6", len(fake.got))
	}
	if len(out) != 4 {
		t.Fatalf("Trim() len = %d, want 4", len(out))
	}
	if !strings.HasPrefix(out[2].Content, "a2") {
		t.Errorf("first kept = %q, want a2 prefix", out[2].Content)
	}
	if err := models.ValidateToolPairing(out); err != nil {
		t.Errorf("ValidateToolPairing() error = %v", err)
	}
}

func TestNewSelectsStrategy(t *testing.T) {
	model := config.ModelConfig{Name: "test-model", MaxContextLength: 1000}

	m := New(config.ContextConfig{Strategy: config.StrategySlidingWindow, Size: 10}, model, nil)
	if _, ok := m.(*SlidingWindow); !ok {
		t.Errorf("New(sliding_window) = %T, want *SlidingWindow", m)
	}

	m = New(config.ContextConfig{Strategy: config.StrategySummarize}, model, &fakeSummarizer{})
	if _, ok := m.(*SummarizeOlder); !ok {
		t.Errorf("New(summarize) = %T, want *SummarizeOlder", m)
	}

	m = New(config.ContextConfig{Strategy: config.StrategySummarize}, model, nil)
	if _, ok := m.(*SlidingWindow); !ok {
		t.Errorf("New(summarize, nil summarizer) = %T, want *SlidingWindow", m)
	}
}

func TestLLMSummarizerBuildsPrompt(t *testing.T) {
	var captured *models.LLMRequest
	call := func(_ context.Context, req *models.LLMRequest) (*models.ChatCompletion, error) {
		captured = req
		return &models.ChatCompletion{Content: "  the summary  "}, nil
	}
	msgs := []models.Message{
		models.NewUserMessage("fix pkg/models/message.go"),
		models.NewAssistantMessage("", []models.ToolCall{{
			ID:       "c1",
			Type:     "function",
			Function: models.FunctionCall{Name: "read_file", Arguments: `{"path":"a.go"}`},
		}}),
		models.NewToolMessage("c1", "read_file", "package models"),
	}

	got, err := NewLLMSummarizer(call, "mini").Summarize(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "the summary" {
		t.Errorf("Summarize() = %q, want trimmed summary", got)
	}
	if captured.Model != "mini" {
		t.Errorf("request model = %q, want mini", captured.Model)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != models.RoleUser {
		t.Fatalf("request messages = %+v, want one user message", captured.Messages)
	}
	prompt := captured.Messages[0].Content
	for _, want := range []string{
		"fix pkg/models/message.go",
		`assistant calls read_file({"path":"a.go"})`,
		"tool read_file: package models",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLLMSummarizerError(t *testing.T) {
	sentinel := errors.New("backend down")
	call := func(context.Context, *models.LLMRequest) (*models.ChatCompletion, error) {
		return nil, sentinel
	}
	_, err := NewLLMSummarizer(call, "mini").Summarize(context.Background(), []models.Message{
		models.NewUserMessage("hi"),
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Summarize() error = %v, want wrapped sentinel", err)
	}
}
