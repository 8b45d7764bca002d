package contextmgr

import (
	"context"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

const defaultWindowSize = 40

// SlidingWindow caps the transcript at a fixed number of non-system
// messages, dropping the oldest first. Leading system messages always
// survive and do not count against the cap.
type SlidingWindow struct {
	size int
}

// NewSlidingWindow returns a window keeping at most size non-system
// messages. Non-positive sizes fall back to the default.
func NewSlidingWindow(size int) *SlidingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &SlidingWindow{size: size}
}

// Trim drops the oldest non-system messages until the cap holds. The
// cut never lands between a tool request and its results.
func (w *SlidingWindow) Trim(_ context.Context, msgs []models.Message) ([]models.Message, error) {
	system, rest := splitSystem(msgs)
	if len(rest) <= w.size {
		return msgs, nil
	}
	cut := alignCut(rest, len(rest)-w.size)
	out := make([]models.Message, 0, len(system)+len(rest)-cut)
	out = append(out, system...)
	out = append(out, rest[cut:]...)
	return out, nil
}
