package advisor

import (
	"context"
	"strings"
	"testing"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/prompts"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

func newTestSystemPrompt() *SystemPrompt {
	info := &fakeInfo{
		model:     "gpt-4o",
		workspace: "/work",
		session:   "s1",
		tools: []models.ToolDescriptor{
			{Name: "read_file", Description: "Read a file"},
		},
	}
	return NewSystemPrompt(prompts.NewLoader(""), info)
}

func TestSystemPromptInsertsWhenMissing(t *testing.T) {
	adv := newTestSystemPrompt()
	req := &models.LLMRequest{Messages: []models.Message{models.NewUserMessage("hi")}}
	if err := adv.BeforeStream(context.Background(), req); err != nil {
		t.Fatalf("BeforeStream() error = %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != models.RoleSystem {
		t.Fatalf("first role = %s, want system", req.Messages[0].Role)
	}
	content := req.Messages[0].Content
	for _, want := range []string{"/work", "gpt-4o", "read_file"} {
		if !strings.Contains(content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if req.Messages[1].Content != "hi" {
		t.Errorf("user message displaced: %+v", req.Messages[1])
	}
}

func TestSystemPromptKeepsExisting(t *testing.T) {
	adv := newTestSystemPrompt()
	req := &models.LLMRequest{Messages: []models.Message{
		models.NewSystemMessage("custom prompt"),
		models.NewUserMessage("hi"),
	}}
	if err := adv.BeforeCall(context.Background(), req); err != nil {
		t.Fatalf("BeforeCall() error = %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Content != "custom prompt" {
		t.Errorf("existing system prompt replaced: %q", req.Messages[0].Content)
	}
}
