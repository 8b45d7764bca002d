package advisor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/prompts"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// SystemPrompt guarantees a leading system message, rendering the
// agent role template when the transcript has none. Requests that
// already carry a system message pass through untouched, so resumed
// sessions keep their original prompt.
type SystemPrompt struct {
	Base
	loader *prompts.Loader
	info   AgentInfo
	now    func() time.Time
}

// NewSystemPrompt builds the advisor around a template loader and the
// agent view used for template variables.
func NewSystemPrompt(loader *prompts.Loader, info AgentInfo) *SystemPrompt {
	return &SystemPrompt{loader: loader, info: info, now: time.Now}
}

func (a *SystemPrompt) Name() string { return "system_prompt" }

func (a *SystemPrompt) BeforeCall(_ context.Context, req *models.LLMRequest) error {
	return a.ensure(req)
}

func (a *SystemPrompt) BeforeStream(_ context.Context, req *models.LLMRequest) error {
	return a.ensure(req)
}

func (a *SystemPrompt) ensure(req *models.LLMRequest) error {
	if len(req.Messages) > 0 && req.Messages[0].Role == models.RoleSystem {
		return nil
	}
	rendered, err := a.loader.Render(prompts.AgentTemplate, map[string]any{
		"Timestamp": a.now().Format(time.RFC1123),
		"Workspace": a.info.Workspace(),
		"OS":        runtime.GOOS,
		"Model":     a.info.ModelName(),
		"Tools":     a.info.ToolDescriptors(),
	})
	if err != nil {
		return fmt.Errorf("render system prompt: %w", err)
	}
	req.Messages = append([]models.Message{models.NewSystemMessage(rendered)}, req.Messages...)
	return nil
}
