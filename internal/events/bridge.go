package events

import (
	"sync"
)

// Bridge subscribes a set of event types on the Bus and re-emits them
// on the UIQueue. It holds a single bus subscription, so every
// forwarded event flows through one ordered mailbox and the queue
// observes per-producer emit order even though other bus handlers ran
// in parallel.
type Bridge struct {
	mu      sync.Mutex
	bus     *Bus
	queue   *UIQueue
	types   map[Type]bool
	sub     Subscription
	started bool
}

// NewBridge creates a bridge forwarding the given types once started.
func NewBridge(bus *Bus, queue *UIQueue, types ...Type) *Bridge {
	br := &Bridge{
		bus:   bus,
		queue: queue,
		types: make(map[Type]bool, len(types)),
	}
	for _, t := range types {
		br.types[t] = true
	}
	return br
}

// Start subscribes all configured types. Idempotent.
func (br *Bridge) Start() {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.started {
		return
	}
	br.started = true
	all := make([]Type, 0, len(br.types))
	for t := range br.types {
		all = append(all, t)
	}
	br.sub = br.bus.Subscribe(br.queue.Emit, all...)
}

// Stop unsubscribes from the bus. Idempotent.
func (br *Bridge) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()
	if !br.started {
		return
	}
	br.started = false
	br.bus.Unsubscribe(br.sub)
}

// AddType starts forwarding t. No-op if already forwarded.
func (br *Bridge) AddType(t Type) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.types[t] {
		return
	}
	br.types[t] = true
	if br.started {
		br.bus.AddType(br.sub, t)
	}
}

// RemoveType stops forwarding t.
func (br *Bridge) RemoveType(t Type) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if !br.types[t] {
		return
	}
	delete(br.types, t)
	if br.started {
		br.bus.RemoveType(br.sub, t)
	}
}
