// Package ui renders the event stream to the terminal and reads user
// input. The renderer owns its own goroutine and is the only writer to
// the output once started; the composer and modal prompts run on the
// caller's goroutine between or inside turns, synchronized through
// Renderer.Sync.
package ui

import (
	"strings"
	"sync"
	"time"
)

// Typewriter pacing defaults: release around twenty characters for
// every fifty milliseconds of elapsed time.
const (
	DefaultTypeChars    = 20
	DefaultTypeInterval = 50 * time.Millisecond
)

type typeItem struct {
	text  []rune
	paced bool
}

// Typewriter is an ordered output buffer. Paced text drips out at a
// fixed character rate; immediate text flushes whole once it reaches
// the head of the buffer, so chrome lines never reorder around model
// text. Safe for concurrent Push; Release is called from the render
// tick only.
type Typewriter struct {
	mu       sync.Mutex
	items    []typeItem
	chars    int
	interval time.Duration
	last     time.Time
	credit   float64
}

// NewTypewriter builds a typewriter releasing chars runes per
// interval. Zero values select the defaults.
func NewTypewriter(chars int, interval time.Duration) *Typewriter {
	if chars <= 0 {
		chars = DefaultTypeChars
	}
	if interval <= 0 {
		interval = DefaultTypeInterval
	}
	return &Typewriter{chars: chars, interval: interval}
}

// Push appends paced text.
func (t *Typewriter) Push(s string) {
	if s == "" {
		return
	}
	t.mu.Lock()
	t.append(s, true)
	t.mu.Unlock()
}

// PushNow appends text that flushes whole when it reaches the head of
// the buffer.
func (t *Typewriter) PushNow(s string) {
	if s == "" {
		return
	}
	t.mu.Lock()
	t.append(s, false)
	t.mu.Unlock()
}

func (t *Typewriter) append(s string, paced bool) {
	if n := len(t.items); n > 0 && t.items[n-1].paced == paced {
		t.items[n-1].text = append(t.items[n-1].text, []rune(s)...)
		return
	}
	t.items = append(t.items, typeItem{text: []rune(s), paced: paced})
}

// Release returns the text due at now: immediate items whole, paced
// items up to the character credit accumulated since the last call.
// Credit never banks across idle stretches, so a long pause does not
// dump a burst.
func (t *Typewriter) Release(now time.Time) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.items) == 0 {
		t.last = now
		t.credit = 0
		return ""
	}
	if !t.last.IsZero() {
		elapsed := now.Sub(t.last)
		if elapsed > 0 {
			t.credit += float64(elapsed) / float64(t.interval) * float64(t.chars)
		}
	}
	t.last = now
	if max := float64(t.chars) * 2; t.credit > max {
		t.credit = max
	}

	var out strings.Builder
	for len(t.items) > 0 {
		head := &t.items[0]
		if !head.paced {
			out.WriteString(string(head.text))
			t.items = t.items[1:]
			continue
		}
		n := int(t.credit)
		if n <= 0 {
			break
		}
		if n >= len(head.text) {
			out.WriteString(string(head.text))
			t.credit -= float64(len(head.text))
			t.items = t.items[1:]
			continue
		}
		out.WriteString(string(head.text[:n]))
		head.text = head.text[n:]
		t.credit -= float64(n)
		break
	}
	return out.String()
}

// Drain returns everything still buffered, ignoring pacing.
func (t *Typewriter) Drain() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out strings.Builder
	for _, it := range t.items {
		out.WriteString(string(it.text))
	}
	t.items = nil
	t.credit = 0
	return out.String()
}

// Pending reports how many runes are waiting.
func (t *Typewriter) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, it := range t.items {
		n += len(it.text)
	}
	return n
}
