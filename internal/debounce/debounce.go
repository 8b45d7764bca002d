// Package debounce batches items by key and flushes them after a
// quiet period, trailing-edge style: every enqueue resets the key's
// timer, so a burst flushes once.
package debounce

import (
	"sync"
	"time"
)

// buffer holds pending items and their flush timer for one key.
type buffer[T any] struct {
	items []T
	timer *time.Timer
}

// Debouncer batches items by key. Safe for concurrent use.
type Debouncer[T any] struct {
	mu      sync.Mutex
	buffers map[string]*buffer[T]
	stopped bool

	delay    time.Duration
	buildKey func(item T) string
	onFlush  func(key string, items []T)
}

// Option configures a Debouncer.
type Option[T any] func(*Debouncer[T])

// WithDelay sets the quiet period before a key flushes. Zero disables
// debouncing: every item flushes immediately.
func WithDelay[T any](d time.Duration) Option[T] {
	return func(db *Debouncer[T]) {
		if d < 0 {
			d = 0
		}
		db.delay = d
	}
}

// WithBuildKey sets the grouping function. Default groups everything
// under one key.
func WithBuildKey[T any](fn func(item T) string) Option[T] {
	return func(db *Debouncer[T]) {
		db.buildKey = fn
	}
}

// WithOnFlush sets the callback invoked with each flushed batch.
func WithOnFlush[T any](fn func(key string, items []T)) Option[T] {
	return func(db *Debouncer[T]) {
		db.onFlush = fn
	}
}

// New creates a Debouncer with the given options.
func New[T any](opts ...Option[T]) *Debouncer[T] {
	db := &Debouncer[T]{
		buffers: make(map[string]*buffer[T]),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.buildKey == nil {
		db.buildKey = func(T) string { return "default" }
	}
	if db.onFlush == nil {
		db.onFlush = func(string, []T) {}
	}
	return db
}

// Enqueue adds an item, resetting its key's timer. With a zero delay
// the item flushes before Enqueue returns.
func (db *Debouncer[T]) Enqueue(item T) {
	db.mu.Lock()
	if db.stopped {
		db.mu.Unlock()
		return
	}
	key := db.buildKey(item)

	if db.delay == 0 {
		db.mu.Unlock()
		db.onFlush(key, []T{item})
		return
	}

	buf, ok := db.buffers[key]
	if !ok {
		buf = &buffer[T]{}
		db.buffers[key] = buf
	}
	buf.items = append(buf.items, item)
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(db.delay, func() {
		db.FlushKey(key)
	})
	db.mu.Unlock()
}

// FlushKey flushes all pending items for key immediately.
func (db *Debouncer[T]) FlushKey(key string) {
	db.mu.Lock()
	buf, ok := db.buffers[key]
	if !ok || db.stopped {
		db.mu.Unlock()
		return
	}
	delete(db.buffers, key)
	if buf.timer != nil {
		buf.timer.Stop()
	}
	items := buf.items
	db.mu.Unlock()

	if len(items) > 0 {
		db.onFlush(key, items)
	}
}

// FlushAll flushes every pending key.
func (db *Debouncer[T]) FlushAll() {
	db.mu.Lock()
	keys := make([]string, 0, len(db.buffers))
	for key := range db.buffers {
		keys = append(keys, key)
	}
	db.mu.Unlock()
	for _, key := range keys {
		db.FlushKey(key)
	}
}

// Stop cancels all timers and drops pending items.
func (db *Debouncer[T]) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stopped = true
	for key, buf := range db.buffers {
		if buf.timer != nil {
			buf.timer.Stop()
		}
		delete(db.buffers, key)
	}
}

// Pending returns the total number of buffered items.
func (db *Debouncer[T]) Pending() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	count := 0
	for _, buf := range db.buffers {
		count += len(buf.items)
	}
	return count
}
