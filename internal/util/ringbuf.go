package util

import "sync"

// RingBuffer is a fixed-capacity circular buffer: once full, Push drops
// the oldest element. Safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int  // slot the next Push writes to
	full  bool // items has wrapped at least once
}

// NewRingBuffer creates a ring buffer holding at most capacity elements.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest one when at capacity.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	r.items[r.next] = item
	r.next++
	if r.next == len(r.items) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Snapshot returns the stored elements, oldest first.
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		return append([]T(nil), r.items[:r.next]...)
	}
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

// Len returns the number of stored elements.
func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.items)
	}
	return r.next
}
