// Package buffer provides a bounded ring used by the realtime stores.
package buffer

import (
	"sync"
)

// Ring is a thread-safe circular buffer that keeps the most recent values
// up to a fixed capacity. When the ring is full, the oldest value is
// discarded to make room for the new one.
//
// Values are kept in insertion order. Ring never sorts or reorders.
type Ring[T any] struct {
	data     []T
	start    int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a new Ring with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v. If the ring is full the oldest value is evicted and
// returned with evicted set to true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < r.capacity {
		r.data[(r.start+r.size)%r.capacity] = v
		r.size++
		return old, false
	}

	old = r.data[r.start]
	r.data[r.start] = v
	r.start = (r.start + 1) % r.capacity
	return old, true
}

// ReadAll returns a copy of all values, oldest first.
// The returned slice is safe to use without holding the lock.
func (r *Ring[T]) ReadAll() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil
	}

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.data[(r.start+i)%r.capacity]
	}
	return result
}

// Last returns the most recently pushed value.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.data[(r.start+r.size-1)%r.capacity], true
}

// Clear removes all values from the ring.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.start = 0
	r.size = 0
}

// Len returns the current number of values in the ring.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.size
}

// Cap returns the capacity of the ring.
func (r *Ring[T]) Cap() int {
	return r.capacity
}
