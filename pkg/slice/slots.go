/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package slice

import (
	"runtime"

	"go.uber.org/atomic"

	"github.com/numaproj/numaslice/pkg/sliceerr"
)

const (
	slotEmpty int32 = iota
	slotReserved
	slotOccupied
)

// Slots is a fixed array of lazily created per worker thread state. Each slot is claimed with a single compare and
// swap from empty to reserved, so the state of a slot is constructed at most once no matter how many goroutines race
// on the first touch.
type Slots[T any] struct {
	states []atomic.Int32
	values []atomic.Pointer[T]
}

// NewSlots returns n empty slots.
func NewSlots[T any](n int) *Slots[T] {
	return &Slots[T]{
		states: make([]atomic.Int32, n),
		values: make([]atomic.Pointer[T], n),
	}
}

// Len returns the number of slots.
func (s *Slots[T]) Len() int {
	return len(s.states)
}

// GetOrCreate returns the state of the slot, creating it with newFn if the slot is empty. A caller losing the race
// waits until the winner has published the state.
func (s *Slots[T]) GetOrCreate(idx int, newFn func() *T) *T {
	for {
		switch s.states[idx].Load() {
		case slotOccupied:
			return s.values[idx].Load()
		case slotEmpty:
			if s.states[idx].CompareAndSwap(slotEmpty, slotReserved) {
				v := newFn()
				s.values[idx].Store(v)
				s.states[idx].Store(slotOccupied)
				return v
			}
		default:
			runtime.Gosched()
		}
	}
}

// Get returns the state of the slot. It never creates the state.
func (s *Slots[T]) Get(idx int) (*T, error) {
	if idx < 0 || idx >= len(s.states) || s.states[idx].Load() != slotOccupied {
		return nil, sliceerr.ErrSlotNotCreated
	}
	return s.values[idx].Load(), nil
}

// Range calls fn for every occupied slot.
func (s *Slots[T]) Range(fn func(idx int, v *T)) {
	for i := range s.states {
		if s.states[i].Load() == slotOccupied {
			fn(i, s.values[i].Load())
		}
	}
}

// Clear empties every slot. It must not race with GetOrCreate.
func (s *Slots[T]) Clear() {
	for i := range s.states {
		s.values[i].Store(nil)
		s.states[i].Store(slotEmpty)
	}
}
