package ui

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/events"
)

// DefaultTickInterval is the render loop cadence.
const DefaultTickInterval = 16 * time.Millisecond

const (
	ansiReset     = "\033[0m"
	ansiDim       = "\033[2m"
	ansiRed       = "\033[31m"
	ansiClearLine = "\r\033[K"
)

// Renderer drains the UI queue on a fixed tick, feeding message text
// through the typewriter and animating the spinner while tools run.
// All terminal writes after Start happen on the render goroutine;
// other goroutines hand off through Sync before writing themselves.
type Renderer struct {
	out    io.Writer
	queue  *events.UIQueue
	tw     *Typewriter
	sp     *Spinner
	logger *slog.Logger

	tick   time.Duration
	colors bool

	writeMu sync.Mutex

	// stepMu serializes render ticks against Pause, so a tick in
	// flight finishes before a modal prompt takes the terminal.
	stepMu sync.Mutex
	paused bool

	// Render-goroutine state.
	sawText      bool
	atEOL        bool
	spinnerDrawn bool

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewRenderer registers handlers on queue and returns a stopped
// renderer writing to out. Colors are enabled when out is a terminal.
func NewRenderer(out io.Writer, queue *events.UIQueue, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{
		out:    out,
		queue:  queue,
		tw:     NewTypewriter(0, 0),
		sp:     NewSpinner(),
		logger: logger.With("component", "renderer"),
		tick:   DefaultTickInterval,
		colors: isTerminalWriter(out),
		atEOL:  true,
	}
	r.register()
	return r
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *Renderer) register() {
	q := r.queue
	q.Register(events.MessageStart, 0, func(events.Event) {
		r.sawText = false
	})
	q.Register(events.MessageDelta, 0, func(e events.Event) {
		r.sawText = true
		r.tw.Push(e.Delta)
	})
	q.Register(events.MessageStop, 0, func(events.Event) {
		if r.sawText {
			r.tw.PushNow("\n\n")
			r.sawText = false
		}
	})
	q.Register(events.ToolCallStart, 0, func(e events.Event) {
		if e.Tool != nil {
			r.sp.Start(e.Tool.Name)
		}
	})
	q.Register(events.ToolResult, 0, func(e events.Event) {
		if e.Tool == nil {
			return
		}
		r.sp.Stop(e.Tool.Name)
		r.tw.PushNow(r.dim("• "+e.Tool.Name) + "\n")
	})
	q.Register(events.AgentError, 0, func(e events.Event) {
		r.tw.PushNow(r.red(fmt.Sprintf("✗ %v", e.Err)) + "\n")
	})
}

// Start spawns the render goroutine. Idempotent.
func (r *Renderer) Start() {
	r.once.Do(func() {
		r.stopCh = make(chan struct{})
		r.doneCh = make(chan struct{})
		go r.loop()
	})
}

func (r *Renderer) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			r.finish()
			return
		case now := <-ticker.C:
			r.Step(now)
		}
	}
}

// Step runs one render tick: drain the queue within the tick budget,
// release due typewriter text, then animate or clear the spinner.
// Render goroutine only.
func (r *Renderer) Step(now time.Time) {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()
	if r.paused {
		return
	}
	r.queue.ProcessEvents(0, r.tick)
	if s := r.tw.Release(now); s != "" {
		r.clearSpinnerLine()
		r.write(s)
	}
	switch {
	case r.sp.Active() && r.tw.Pending() == 0 && r.atEOL:
		if line := r.sp.Line(); line != "" {
			r.rawWrite(ansiClearLine + r.dim(r.truncate(line)))
			r.spinnerDrawn = true
		}
	case r.spinnerDrawn && !r.sp.Active():
		r.clearSpinnerLine()
	}
}

// finish drains everything left before the goroutine exits.
func (r *Renderer) finish() {
	r.queue.Flush()
	for r.queue.Len() > 0 {
		r.queue.ProcessEvents(0, time.Second)
	}
	r.clearSpinnerLine()
	if s := r.tw.Drain(); s != "" {
		r.write(s)
	}
}

// Stop halts the render goroutine after a final drain.
func (r *Renderer) Stop() {
	if r.stopCh == nil {
		return
	}
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

// Pause suspends rendering so a modal prompt can own the terminal.
// Blocks until the tick in flight finishes, then clears any drawn
// spinner. Call after Sync; while paused the queue is not drained.
func (r *Renderer) Pause() {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()
	r.paused = true
	r.clearSpinnerLine()
}

// Resume restarts rendering after Pause.
func (r *Renderer) Resume() {
	r.stepMu.Lock()
	r.paused = false
	r.stepMu.Unlock()
}

// Sync blocks until the renderer has caught up with everything emitted
// so far: the queue observed empty and the typewriter drained on two
// consecutive polls, or the timeout passed. Producers must be quiet
// while waiting, which holds at the composer prompt and inside an
// approval gate.
func (r *Renderer) Sync(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	settled := 0
	r.queue.Flush()
	for time.Now().Before(deadline) {
		if r.queue.Len() == 0 && r.tw.Pending() == 0 {
			settled++
			if settled >= 2 {
				return
			}
		} else {
			settled = 0
		}
		time.Sleep(8 * time.Millisecond)
	}
}

// EnsureEOL starts a fresh line when the last write ended mid-line.
// Call only after Sync, with the renderer paused or stopped.
func (r *Renderer) EnsureEOL() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.spinnerDrawn {
		fmt.Fprint(r.out, ansiClearLine)
		r.spinnerDrawn = false
		r.atEOL = true
	}
	if !r.atEOL {
		fmt.Fprint(r.out, "\n")
		r.atEOL = true
	}
}

func (r *Renderer) clearSpinnerLine() {
	if r.spinnerDrawn {
		r.rawWrite(ansiClearLine)
		r.spinnerDrawn = false
		r.atEOL = true
	}
}

func (r *Renderer) write(s string) {
	r.rawWrite(s)
	r.atEOL = strings.HasSuffix(s, "\n")
}

func (r *Renderer) rawWrite(s string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := io.WriteString(r.out, s); err != nil {
		r.logger.Warn("terminal write failed", "error", err)
	}
}

func (r *Renderer) truncate(line string) string {
	width := 80
	if f, ok := r.out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 2 {
			width = w
		}
	}
	runes := []rune(line)
	if len(runes) <= width-2 {
		return line
	}
	return string(runes[:width-2]) + "…"
}

func (r *Renderer) dim(s string) string {
	if !r.colors {
		return s
	}
	return ansiDim + s + ansiReset
}

func (r *Renderer) red(s string) string {
	if !r.colors {
		return s
	}
	return ansiRed + s + ansiReset
}
