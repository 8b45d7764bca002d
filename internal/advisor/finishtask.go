package advisor

import (
	"context"
	"sync"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// finishTaskName matches the builtin sentinel tool.
const finishTaskName = "finish_task"

// FinishTask watches responses for the finish_task sentinel call and
// latches a flag the orchestrator polls to end the turn loop.
type FinishTask struct {
	Base
	mu   sync.Mutex
	seen bool
}

// NewFinishTask returns an unlatched watcher.
func NewFinishTask() *FinishTask {
	return &FinishTask{}
}

func (a *FinishTask) Name() string { return "finish_task" }

func (a *FinishTask) AfterCall(_ context.Context, resp *models.ChatCompletion) error {
	for _, tc := range resp.ToolCalls {
		if tc.Function.Name == finishTaskName {
			a.latch()
		}
	}
	return nil
}

func (a *FinishTask) AfterStream(_ context.Context, chunk *models.ChatCompletionChunk) error {
	for _, d := range chunk.ToolCalls {
		if d.Name == finishTaskName {
			a.latch()
		}
	}
	return nil
}

func (a *FinishTask) latch() {
	a.mu.Lock()
	a.seen = true
	a.mu.Unlock()
}

// Seen reports whether the sentinel appeared since the last Reset.
func (a *FinishTask) Seen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seen
}

// Reset clears the latch, typically at the start of a user turn.
func (a *FinishTask) Reset() {
	a.mu.Lock()
	a.seen = false
	a.mu.Unlock()
}
