// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//

package util

import "sync"

// =============================================================================
// Ring Buffer
// =============================================================================

// RingBuffer is a fixed-capacity append log that overwrites its oldest
// entries once full. The stack manager records service state
// transitions into one so a long-running session keeps bounded memory
// while the recent history stays inspectable.
//
// Safe for concurrent use.
type RingBuffer[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	dropped int64
}

// NewRingBuffer creates an empty buffer. Panics if capacity < 1 since
// a zero-capacity transition log would silently drop everything.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		panic("ring buffer capacity must be at least 1")
	}
	return &RingBuffer[T]{
		items: make([]T, capacity),
	}
}

// Push appends an item, evicting the oldest when the buffer is full.
// Returns false when an eviction happened.
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.size) % len(r.items)
	r.items[tail] = item

	if r.size < len(r.items) {
		r.size++
		return true
	}

	// Full: the slot just written was the oldest entry.
	r.head = (r.head + 1) % len(r.items)
	r.dropped++
	return false
}

// ToSlice returns the buffered items oldest-first without draining.
func (r *RingBuffer[T]) ToSlice() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Size returns the number of buffered items.
func (r *RingBuffer[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed capacity.
func (r *RingBuffer[T]) Capacity() int {
	return len(r.items)
}

// DroppedCount returns how many items have been evicted so far.
func (r *RingBuffer[T]) DroppedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
