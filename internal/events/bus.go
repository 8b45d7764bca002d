package events

import (
	"log/slog"
	"sync"
)

// DefaultBusWorkers bounds how many handlers run concurrently.
const DefaultBusWorkers = 10

// Handler receives one event. Events routed to one subscription are
// delivered serially in emit order; handlers across subscriptions run
// concurrently on the worker pool and must tolerate any worker.
type Handler func(Event)

// Subscription identifies one registered handler for removal and
// type-set changes.
type Subscription struct {
	id uint64
}

// Bus fans events out to subscribers. Emit never blocks: each
// subscription owns a mailbox drained under the bounded worker pool,
// so a slow handler delays only its own subscription. Handler panics
// are recovered and logged, never propagated to the emitter.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	byType      map[Type]map[uint64]*subscriber
	nextID      uint64
	sem         chan struct{}
	logger      *slog.Logger
	wg          sync.WaitGroup
}

type subscriber struct {
	id      uint64
	handler Handler
	mailbox []Event
	active  bool
}

// NewBus creates a bus with workers concurrent handler slots; zero or
// negative means DefaultBusWorkers.
func NewBus(workers int, logger *slog.Logger) *Bus {
	if workers <= 0 {
		workers = DefaultBusWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		byType:      make(map[Type]map[uint64]*subscriber),
		sem:         make(chan struct{}, workers),
		logger:      logger.With("component", "event_bus"),
	}
}

// Subscribe registers handler for the given event types. All matching
// events share one ordered mailbox, so a multi-type subscription sees
// them in emit order.
func (b *Bus) Subscribe(handler Handler, types ...Type) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{id: b.nextID, handler: handler}
	b.subscribers[sub.id] = sub
	for _, t := range types {
		b.indexLocked(t, sub)
	}
	return Subscription{id: sub.id}
}

// Unsubscribe removes a subscription. Events already in its mailbox
// still deliver.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subscribers[sub.id]
	if !ok {
		return
	}
	delete(b.subscribers, sub.id)
	for _, m := range b.byType {
		delete(m, s.id)
	}
}

// AddType routes events of type t to an existing subscription.
func (b *Bus) AddType(sub Subscription, t Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subscribers[sub.id]; ok {
		b.indexLocked(t, s)
	}
}

// RemoveType stops routing events of type t to the subscription.
func (b *Bus) RemoveType(sub Subscription, t Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.byType[t]; m != nil {
		delete(m, sub.id)
	}
}

func (b *Bus) indexLocked(t Type, s *subscriber) {
	if b.byType[t] == nil {
		b.byType[t] = make(map[uint64]*subscriber)
	}
	b.byType[t][s.id] = s
}

// Emit delivers e to every subscriber of its type without blocking.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	for _, sub := range b.byType[e.Type] {
		sub.mailbox = append(sub.mailbox, e)
		if !sub.active {
			sub.active = true
			b.wg.Add(1)
			go b.drain(sub)
		}
	}
	b.mu.Unlock()
}

// drain delivers a subscriber's mailbox in order, holding one worker
// slot while running.
func (b *Bus) drain(sub *subscriber) {
	defer b.wg.Done()
	b.sem <- struct{}{}
	defer func() { <-b.sem }()
	for {
		b.mu.Lock()
		if len(sub.mailbox) == 0 {
			sub.active = false
			b.mu.Unlock()
			return
		}
		e := sub.mailbox[0]
		sub.mailbox = sub.mailbox[1:]
		b.mu.Unlock()

		b.deliver(sub.handler, e)
	}
}

func (b *Bus) deliver(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
		}
	}()
	handler(e)
}

// Wait blocks until every mailbox queued so far has drained. Test and
// shutdown helper; producers must be quiet before calling.
func (b *Bus) Wait() {
	b.wg.Wait()
}
