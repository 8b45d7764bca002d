package agent

import (
	"context"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// Approver decides whether a tool call that requests approval may
// run. The composer implements it as an interactive y/n prompt. A
// false result refuses the single call; an error cancels the whole
// turn, so a Ctrl-C or closed stdin at the prompt unwinds cleanly.
type Approver interface {
	Approve(ctx context.Context, call models.ToolCall, desc models.ToolDescriptor) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, call models.ToolCall, desc models.ToolDescriptor) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, call models.ToolCall, desc models.ToolDescriptor) (bool, error) {
	return f(ctx, call, desc)
}
