// Package queue holds outbound envelopes accepted while the session is
// not open.
package queue

import (
	"sync"
	"time"

	"github.com/remote-agent-terminal/dashsync/internal/envelope"
)

// Entry is a queued envelope and the time it was accepted.
type Entry struct {
	Envelope   envelope.Envelope
	EnqueuedAt time.Time
}

// Queue is a strict FIFO of outbound entries. With a positive capacity,
// enqueueing into a full queue evicts the oldest entry; a capacity of 0
// means unbounded.
type Queue struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	evicted  uint64

	// removed counts entries taken off the front by any path, so Flush
	// can tell whether its head entry is still the head.
	removed uint64
}

// New creates a Queue. A capacity <= 0 makes it unbounded.
func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends e. It reports whether an older entry was evicted to
// make room.
func (q *Queue) Enqueue(e Entry) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.entries) >= q.capacity {
		q.entries[0] = Entry{}
		q.entries = q.entries[1:]
		q.evicted++
		q.removed++
		evicted = true
	}
	q.entries = append(q.entries, e)
	return evicted
}

// Flush passes entries to send in FIFO order. Each entry is removed only
// after send returns nil. On the first error Flush stops and the failed
// entry and everything after it stay queued, in order.
//
// The queue is not locked while send runs, so other methods stay usable
// during a slow send. Callers must not run two Flush calls at once.
func (q *Queue) Flush(send func(Entry) error) (sent int, err error) {
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.entries = nil
			q.mu.Unlock()
			return sent, nil
		}
		head, mark := q.entries[0], q.removed
		q.mu.Unlock()

		if err := send(head); err != nil {
			return sent, err
		}
		sent++

		q.mu.Lock()
		// An eviction or Clear during send already took the head off.
		if q.removed == mark && len(q.entries) > 0 {
			q.entries[0] = Entry{}
			q.entries = q.entries[1:]
			q.removed++
		}
		q.mu.Unlock()
	}
}

// Clear drops every queued entry and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	q.removed += uint64(n)
	return n
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queued entries, oldest first.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Capacity returns the configured capacity, 0 meaning unbounded.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Evicted returns how many entries the capacity policy has dropped.
func (q *Queue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
