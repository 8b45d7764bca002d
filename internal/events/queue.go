package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/debounce"
)

// DefaultTickBudget is how long one render-tick drain may run.
const DefaultTickBudget = 16 * time.Millisecond

// UIQueue is a thread-safe FIFO with optional per-type debouncing.
// Any goroutine may Emit; ProcessEvents must be called only from the
// render thread, which keeps handler execution strictly sequential.
type UIQueue struct {
	mu         sync.Mutex
	queue      []Event
	handlers   map[Type][]queueHandler
	debouncers map[Type]*debounce.Debouncer[Event]
	logger     *slog.Logger
}

type queueHandler struct {
	priority int
	fn       Handler
}

// NewUIQueue creates an empty queue.
func NewUIQueue(logger *slog.Logger) *UIQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &UIQueue{
		handlers:   make(map[Type][]queueHandler),
		debouncers: make(map[Type]*debounce.Debouncer[Event]),
		logger:     logger.With("component", "ui_queue"),
	}
}

// Register adds a handler for events of type t. Handlers run in
// descending priority order; equal priorities run in registration
// order.
func (q *UIQueue) Register(t Type, priority int, fn Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	hs := q.handlers[t]
	pos := len(hs)
	for i, h := range hs {
		if h.priority < priority {
			pos = i
			break
		}
	}
	hs = append(hs, queueHandler{})
	copy(hs[pos+1:], hs[pos:])
	hs[pos] = queueHandler{priority: priority, fn: fn}
	q.handlers[t] = hs
}

// SetDebounce enables trailing-edge debouncing for type t: a burst
// within delay enqueues once, carrying the payload of the last emit.
// A zero delay removes debouncing for t.
func (q *UIQueue) SetDebounce(t Type, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if db, ok := q.debouncers[t]; ok {
		db.Stop()
		delete(q.debouncers, t)
	}
	if delay <= 0 {
		return
	}
	q.debouncers[t] = debounce.New(
		debounce.WithDelay[Event](delay),
		debounce.WithOnFlush[Event](func(_ string, items []Event) {
			q.enqueue(items[len(items)-1])
		}),
	)
}

// Emit enqueues e, routing through the type's debouncer when one is
// configured.
func (q *UIQueue) Emit(e Event) {
	q.mu.Lock()
	db := q.debouncers[e.Type]
	q.mu.Unlock()
	if db != nil {
		db.Enqueue(e)
		return
	}
	q.enqueue(e)
}

func (q *UIQueue) enqueue(e Event) {
	q.mu.Lock()
	q.queue = append(q.queue, e)
	q.mu.Unlock()
}

// Flush forces all pending debounced events into the queue.
func (q *UIQueue) Flush() {
	q.mu.Lock()
	dbs := make([]*debounce.Debouncer[Event], 0, len(q.debouncers))
	for _, db := range q.debouncers {
		dbs = append(dbs, db)
	}
	q.mu.Unlock()
	for _, db := range dbs {
		db.FlushAll()
	}
}

// Len reports how many events are queued and ready to process.
func (q *UIQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// ProcessEvents drains up to maxEvents (0 = unbounded) within
// timeBudget (0 = DefaultTickBudget), running each event's handlers
// synchronously. Returns the number of events processed. Render-thread
// only.
func (q *UIQueue) ProcessEvents(maxEvents int, timeBudget time.Duration) int {
	if timeBudget <= 0 {
		timeBudget = DefaultTickBudget
	}
	start := time.Now()
	processed := 0
	for {
		if maxEvents > 0 && processed >= maxEvents {
			return processed
		}
		if time.Since(start) >= timeBudget {
			return processed
		}
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return processed
		}
		e := q.queue[0]
		q.queue = q.queue[1:]
		hs := append([]queueHandler(nil), q.handlers[e.Type]...)
		q.mu.Unlock()

		for _, h := range hs {
			q.run(h.fn, e)
		}
		processed++
	}
}

func (q *UIQueue) run(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("ui handler panicked", "type", string(e.Type), "panic", r)
		}
	}()
	fn(e)
}

// Close stops all debouncers, dropping their pending events.
func (q *UIQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for t, db := range q.debouncers {
		db.Stop()
		delete(q.debouncers, t)
	}
}
