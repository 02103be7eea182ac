// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//

package util

import (
	"sync"
	"testing"
)

func TestNewRingBuffer(t *testing.T) {
	buffer := NewRingBuffer[int](10)

	if buffer.Size() != 0 {
		t.Errorf("Size() = %d, want 0", buffer.Size())
	}
	if buffer.Capacity() != 10 {
		t.Errorf("Capacity() = %d, want 10", buffer.Capacity())
	}
	if buffer.DroppedCount() != 0 {
		t.Errorf("DroppedCount() = %d, want 0", buffer.DroppedCount())
	}
}

func TestNewRingBuffer_PanicsOnBadCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("NewRingBuffer(%d) should panic", capacity)
				}
			}()
			NewRingBuffer[int](capacity)
		}()
	}
}

func TestRingBuffer_PushAndToSlice(t *testing.T) {
	buffer := NewRingBuffer[string](3)

	for _, s := range []string{"created", "starting"} {
		if !buffer.Push(s) {
			t.Errorf("Push(%q) reported an eviction on a non-full buffer", s)
		}
	}

	got := buffer.ToSlice()
	if len(got) != 2 || got[0] != "created" || got[1] != "starting" {
		t.Errorf("ToSlice() = %v, want oldest-first order", got)
	}

	// ToSlice is non-destructive.
	if buffer.Size() != 2 {
		t.Errorf("Size() after ToSlice = %d, want 2", buffer.Size())
	}
}

func TestRingBuffer_EvictsOldestWhenFull(t *testing.T) {
	buffer := NewRingBuffer[int](3)

	for i := 1; i <= 3; i++ {
		buffer.Push(i)
	}
	if buffer.Push(4) {
		t.Error("Push on a full buffer should report an eviction")
	}
	buffer.Push(5)

	got := buffer.ToSlice()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("ToSlice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ToSlice()[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if buffer.DroppedCount() != 2 {
		t.Errorf("DroppedCount() = %d, want 2", buffer.DroppedCount())
	}
	if buffer.Size() != 3 {
		t.Errorf("Size() = %d, want capacity 3", buffer.Size())
	}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	buffer := NewRingBuffer[int](4)

	// Push well past capacity so head wraps several times.
	for i := 0; i < 25; i++ {
		buffer.Push(i)
	}

	got := buffer.ToSlice()
	want := []int{21, 22, 23, 24}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ToSlice() = %v, want %v", got, want)
		}
	}
}

func TestRingBuffer_ConcurrentPush(t *testing.T) {
	buffer := NewRingBuffer[int](64)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buffer.Push(i)
			}
		}()
	}
	wg.Wait()

	if buffer.Size() != 64 {
		t.Errorf("Size() = %d, want full capacity 64", buffer.Size())
	}
	if buffer.DroppedCount() != 800-64 {
		t.Errorf("DroppedCount() = %d, want %d", buffer.DroppedCount(), 800-64)
	}
}

func TestRingBuffer_StructElements(t *testing.T) {
	type transition struct {
		Service string
		State   string
	}

	buffer := NewRingBuffer[transition](2)
	buffer.Push(transition{Service: "postgres", State: "healthy"})
	buffer.Push(transition{Service: "vault", State: "degraded"})

	got := buffer.ToSlice()
	if got[1].Service != "vault" || got[1].State != "degraded" {
		t.Errorf("ToSlice()[1] = %+v", got[1])
	}
}
