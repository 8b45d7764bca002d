package events

import (
	"testing"
	"time"
)

func TestUIQueueDrainsFIFO(t *testing.T) {
	q := NewUIQueue(nil)
	var got []string
	q.Register(MessageDelta, 0, func(e Event) {
		got = append(got, e.Delta)
	})

	q.Emit(Event{Type: MessageDelta, Delta: "a"})
	q.Emit(Event{Type: MessageDelta, Delta: "b"})
	q.Emit(Event{Type: MessageDelta, Delta: "c"})

	if n := q.ProcessEvents(0, time.Second); n != 3 {
		t.Fatalf("processed = %d, want 3", n)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("order = %v", got)
	}
}

func TestUIQueueHandlerPriority(t *testing.T) {
	q := NewUIQueue(nil)
	var got []string
	q.Register(TaskStart, 1, func(Event) { got = append(got, "low") })
	q.Register(TaskStart, 10, func(Event) { got = append(got, "high") })
	q.Register(TaskStart, 1, func(Event) { got = append(got, "low2") })

	q.Emit(New(TaskStart))
	q.ProcessEvents(0, time.Second)

	want := []string{"high", "low", "low2"}
	if len(got) != len(want) {
		t.Fatalf("handlers ran %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handlers ran %v, want %v", got, want)
		}
	}
}

func TestUIQueueMaxEventsBound(t *testing.T) {
	q := NewUIQueue(nil)
	q.Register(MessageDelta, 0, func(Event) {})
	for i := 0; i < 10; i++ {
		q.Emit(Event{Type: MessageDelta})
	}

	if n := q.ProcessEvents(4, time.Second); n != 4 {
		t.Errorf("processed = %d, want 4", n)
	}
	if q.Len() != 6 {
		t.Errorf("remaining = %d, want 6", q.Len())
	}
}

func TestUIQueueTimeBudget(t *testing.T) {
	q := NewUIQueue(nil)
	q.Register(MessageDelta, 0, func(Event) {
		time.Sleep(5 * time.Millisecond)
	})
	for i := 0; i < 50; i++ {
		q.Emit(Event{Type: MessageDelta})
	}

	n := q.ProcessEvents(0, 10*time.Millisecond)
	if n == 0 {
		t.Fatal("processed nothing within budget")
	}
	if n == 50 {
		t.Error("budget did not bound the drain")
	}
}

func TestUIQueueDebounceCollapsesBurst(t *testing.T) {
	q := NewUIQueue(nil)
	defer q.Close()
	var got []string
	q.Register(ToolCallStart, 0, func(e Event) { got = append(got, e.Delta) })
	q.SetDebounce(ToolCallStart, 20*time.Millisecond)

	for _, payload := range []string{"1", "2", "3", "4", "5"} {
		q.Emit(Event{Type: ToolCallStart, Delta: payload})
	}

	// Nothing is queued until the quiet period elapses.
	if n := q.ProcessEvents(0, time.Millisecond); n != 0 {
		t.Fatalf("processed %d before debounce fired", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("debounced event never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := q.ProcessEvents(0, time.Second); n != 1 {
		t.Fatalf("processed = %d, want exactly 1", n)
	}
	if len(got) != 1 || got[0] != "5" {
		t.Errorf("payload = %v, want last emit", got)
	}
}

func TestUIQueueFlushForcesPending(t *testing.T) {
	q := NewUIQueue(nil)
	defer q.Close()
	q.Register(MessageDelta, 0, func(Event) {})
	q.SetDebounce(MessageDelta, time.Hour)

	q.Emit(Event{Type: MessageDelta, Delta: "x"})
	if q.Len() != 0 {
		t.Fatal("event queued before flush")
	}
	q.Flush()
	if q.Len() != 1 {
		t.Fatalf("Len after Flush = %d, want 1", q.Len())
	}
}

func TestUIQueueHandlerPanicDoesNotStopDrain(t *testing.T) {
	q := NewUIQueue(nil)
	var survived bool
	q.Register(TaskStart, 1, func(Event) { panic("boom") })
	q.Register(TaskStart, 0, func(Event) { survived = true })

	q.Emit(New(TaskStart))
	if n := q.ProcessEvents(0, time.Second); n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
	if !survived {
		t.Error("second handler did not run after panic")
	}
}
