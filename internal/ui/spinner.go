package ui

import (
	"fmt"
	"sync"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner tracks which tool calls are in flight and renders one status
// line for them. Start and Stop arrive from queue handlers on the
// render goroutine, but the composer may inspect Active concurrently.
type Spinner struct {
	mu     sync.Mutex
	active []string
	frame  int
}

// NewSpinner returns an idle spinner.
func NewSpinner() *Spinner {
	return &Spinner{}
}

// Start marks name as running. Duplicate names are kept separately so
// two calls to the same tool need two Stops.
func (s *Spinner) Start(name string) {
	s.mu.Lock()
	s.active = append(s.active, name)
	s.mu.Unlock()
}

// Stop clears the oldest running entry for name.
func (s *Spinner) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.active {
		if n == name {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return
		}
	}
}

// Active reports whether any tool is running.
func (s *Spinner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// Line advances the animation and returns the current status line, or
// "" when idle. Multiple running tools show the oldest plus a count.
func (s *Spinner) Line() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.active) == 0 {
		return ""
	}
	frame := spinnerFrames[s.frame%len(spinnerFrames)]
	s.frame++
	if len(s.active) == 1 {
		return fmt.Sprintf("%s %s", frame, s.active[0])
	}
	return fmt.Sprintf("%s %s (+%d more)", frame, s.active[0], len(s.active)-1)
}
