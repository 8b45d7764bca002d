package advisor

import (
	"context"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/contextmgr"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// Context trims the outgoing transcript to the model's context budget
// before each call. Trimming runs after the system prompt and skills
// advisors so their additions count against the budget.
type Context struct {
	Base
	manager contextmgr.Manager
}

// NewContext wraps a context manager strategy.
func NewContext(manager contextmgr.Manager) *Context {
	return &Context{manager: manager}
}

func (a *Context) Name() string { return "context" }

func (a *Context) BeforeCall(ctx context.Context, req *models.LLMRequest) error {
	return a.trim(ctx, req)
}

func (a *Context) BeforeStream(ctx context.Context, req *models.LLMRequest) error {
	return a.trim(ctx, req)
}

func (a *Context) trim(ctx context.Context, req *models.LLMRequest) error {
	trimmed, err := a.manager.Trim(ctx, req.Messages)
	if err != nil {
		return err
	}
	req.Messages = trimmed
	return nil
}
