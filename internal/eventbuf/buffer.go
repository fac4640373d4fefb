// Package eventbuf implements the per-fixture event ring buffer and the
// pattern detection engine that scans it. The ring writes into a
// fixed-size backing array with a cursor rather than a linked list of
// owned events, avoiding allocation churn on the hot ingestion path.
package eventbuf

import (
	"sync"

	"github.com/soccerops/alertcore/internal/sportdata"
)

// Buffer is a fixed-capacity ring of the most recent events for one
// fixture. Single-writer (ingestion), many-reader (pattern engine and
// condition evaluator); readers take a copy of the ring via Snapshot
// before scanning so they never observe a torn write.
type Buffer struct {
	mu       sync.RWMutex
	events   []sportdata.Event
	capacity int
	next     int // write cursor
	filled   bool
}

// NewBuffer creates a ring buffer holding at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 50
	}
	return &Buffer{events: make([]sportdata.Event, capacity), capacity: capacity}
}

// Append adds an event, overwriting the oldest entry once the ring is full.
func (b *Buffer) Append(e sportdata.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[b.next] = e
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.filled = true
	}
}

// Snapshot returns a copy of the buffered events in chronological order.
func (b *Buffer) Snapshot() []sportdata.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.next
	if !b.filled {
		out := make([]sportdata.Event, n)
		copy(out, b.events[:n])
		return out
	}
	out := make([]sportdata.Event, b.capacity)
	copy(out, b.events[n:])
	copy(out[b.capacity-n:], b.events[:n])
	return out
}

// Len reports how many events are currently buffered.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.filled {
		return b.capacity
	}
	return b.next
}
