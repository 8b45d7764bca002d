// Package provider adapts the configured LLM backends to one
// provider-agnostic interface: a blocking call and a streaming entry
// point that forwards raw chunks in remote production order.
package provider

import (
	"context"
	"fmt"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// Capabilities advertises what a backend supports.
type Capabilities struct {
	Streaming  bool
	Tools      bool
	Vision     bool
	JSONSchema bool
}

// Provider is one chat-completion backend. Stream chunks arrive in the
// order the remote produced them; cancelling the context closes the
// underlying transport promptly and the chunk channel shortly after.
type Provider interface {
	Name() string
	Capabilities() Capabilities

	// Call blocks until the completion finishes.
	Call(ctx context.Context, req *models.LLMRequest) (*models.ChatCompletion, error)

	// Stream returns a channel of raw deltas. The channel closes after
	// the terminal chunk, after a chunk carrying Err, or once ctx is
	// cancelled. Providers do no accumulation of their own.
	Stream(ctx context.Context, req *models.LLMRequest) (<-chan *models.ChatCompletionChunk, error)
}

// New builds the provider selected by the model entry's provider field.
// The API key is resolved through env expansion; a missing key is an
// immediate error rather than a failed first request.
func New(cfg config.ModelConfig) (Provider, error) {
	key := cfg.ResolveAPIKey()
	if key == "" {
		return nil, fmt.Errorf("model %q: no API key (set %s or api_key)", cfg.Name, cfg.APIKeyEnv)
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg, key), nil
	case "anthropic":
		return NewAnthropic(cfg, key), nil
	default:
		return nil, fmt.Errorf("model %q: unknown provider %q", cfg.Name, cfg.Provider)
	}
}
