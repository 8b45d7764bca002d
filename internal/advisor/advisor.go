// Package advisor implements the interceptor chain that surrounds
// every LLM call. Advisors mutate the outgoing request or observe the
// response; the chain runs Before hooks in registration order and
// After hooks in reverse, so the first advisor to touch a request is
// the last to see its response.
package advisor

import (
	"context"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// AgentInfo is the read-only view of the running agent handed to
// advisors at construction. Advisors must not reach the agent any
// other way.
type AgentInfo interface {
	ModelName() string
	Workspace() string
	SessionID() string
	ToolDescriptors() []models.ToolDescriptor
}

// Advisor hooks run around one provider call. Implementations embed
// Base and override the hooks they need. Hooks mutate their argument
// in place; a non-nil error aborts the turn.
type Advisor interface {
	Name() string
	BeforeCall(ctx context.Context, req *models.LLMRequest) error
	AfterCall(ctx context.Context, resp *models.ChatCompletion) error
	BeforeStream(ctx context.Context, req *models.LLMRequest) error
	AfterStream(ctx context.Context, chunk *models.ChatCompletionChunk) error
}

// Base is a no-op implementation of every hook except Name.
type Base struct{}

func (Base) BeforeCall(context.Context, *models.LLMRequest) error          { return nil }
func (Base) AfterCall(context.Context, *models.ChatCompletion) error       { return nil }
func (Base) BeforeStream(context.Context, *models.LLMRequest) error        { return nil }
func (Base) AfterStream(context.Context, *models.ChatCompletionChunk) error { return nil }

// Chain is an ordered advisor list. The zero value is usable.
type Chain struct {
	advisors []Advisor
}

// NewChain returns a chain over the given advisors in order.
func NewChain(advisors ...Advisor) *Chain {
	return &Chain{advisors: advisors}
}

// Use appends an advisor to the end of the chain.
func (c *Chain) Use(a Advisor) {
	c.advisors = append(c.advisors, a)
}

// BeforeCall runs every advisor's BeforeCall in registration order.
func (c *Chain) BeforeCall(ctx context.Context, req *models.LLMRequest) error {
	for _, a := range c.advisors {
		if err := a.BeforeCall(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// AfterCall runs every advisor's AfterCall in reverse order.
func (c *Chain) AfterCall(ctx context.Context, resp *models.ChatCompletion) error {
	for i := len(c.advisors) - 1; i >= 0; i-- {
		if err := c.advisors[i].AfterCall(ctx, resp); err != nil {
			return err
		}
	}
	return nil
}

// BeforeStream runs every advisor's BeforeStream in registration
// order.
func (c *Chain) BeforeStream(ctx context.Context, req *models.LLMRequest) error {
	for _, a := range c.advisors {
		if err := a.BeforeStream(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// AfterStream runs every advisor's AfterStream in reverse order for
// one chunk.
func (c *Chain) AfterStream(ctx context.Context, chunk *models.ChatCompletionChunk) error {
	for i := len(c.advisors) - 1; i >= 0; i-- {
		if err := c.advisors[i].AfterStream(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}
