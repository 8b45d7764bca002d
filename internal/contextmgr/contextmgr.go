// Package contextmgr keeps request transcripts inside the active
// model's context budget. Two strategies are available: a sliding
// window that caps the message count, and summarize-older, which
// condenses the oldest span into a single synthetic assistant message
// produced by a secondary model. Both preserve tool-call pairing: an
// assistant message that requested tool calls and the tool results
// answering it are dropped or kept as a unit.
package contextmgr

import (
	"context"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// Manager reduces a transcript before it is handed to the provider.
type Manager interface {
	Trim(ctx context.Context, msgs []models.Message) ([]models.Message, error)
}

// New builds the strategy named in cfg for the given model. A nil
// summarizer downgrades the summarize strategy to the sliding window.
func New(cfg config.ContextConfig, model config.ModelConfig, summarizer Summarizer) Manager {
	if cfg.Strategy == config.StrategySummarize && summarizer != nil {
		return NewSummarizeOlder(cfg, model, summarizer)
	}
	return NewSlidingWindow(cfg.Size)
}

// splitSystem separates the leading system messages from the rest.
func splitSystem(msgs []models.Message) (system, rest []models.Message) {
	i := 0
	for i < len(msgs) && msgs[i].Role == models.RoleSystem {
		i++
	}
	return msgs[:i], msgs[i:]
}

// alignCut moves a prefix cut forward past tool results whose
// requesting assistant message falls inside the dropped range. A pair
// straddling the boundary is dropped whole rather than split.
func alignCut(rest []models.Message, cut int) int {
	for cut < len(rest) && rest[cut].Role == models.RoleTool {
		cut++
	}
	return cut
}
