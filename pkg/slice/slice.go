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

// Package slice holds the partial state of one slice interval, split into one bucket per worker thread (and per
// input side for joins) so worker threads never contend while building.
package slice

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/numaproj/numaslice/pkg/window"
)

// State is the lifecycle state of a slice. A slice only ever moves forward.
type State int32

const (
	// Filling slices accept records.
	Filling State = iota
	// Staged slices belong to at least one emitted window and still to a pending one.
	Staged
	// Triggered slices belong to emitted windows only.
	Triggered
	// Deleted slices have released their state.
	Deleted
)

func (s State) String() string {
	switch s {
	case Filling:
		return "Filling"
	case Staged:
		return "Staged"
	case Triggered:
		return "Triggered"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Side is the input side of a join.
type Side int8

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// Slice is the state of a time interval shared by every window containing it.
type Slice interface {
	Interval() window.Interval
	SliceStart() int64
	SliceEnd() int64
	// EndTime is the slice end, the identity of a slice within a store.
	EndTime() int64
	State() State
	// Advance moves the slice to the given state if it is behind it.
	Advance(to State) bool
	// ResidentBytes estimates the memory held by the given thread for the given side.
	ResidentBytes(threadID int, side Side) int64
	// Release drops every per thread state and marks the slice deleted.
	Release()
}

type base struct {
	interval window.Interval
	state    *atomic.Int32
}

func newBase(interval window.Interval) base {
	return base{
		interval: interval,
		state:    atomic.NewInt32(int32(Filling)),
	}
}

func (b *base) Interval() window.Interval {
	return b.interval
}

func (b *base) SliceStart() int64 {
	return b.interval.Start
}

func (b *base) SliceEnd() int64 {
	return b.interval.End
}

func (b *base) EndTime() int64 {
	return b.interval.End
}

func (b *base) State() State {
	return State(b.state.Load())
}

func (b *base) Advance(to State) bool {
	for {
		cur := b.state.Load()
		if cur >= int32(to) {
			return false
		}
		if b.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

func (b *base) String() string {
	return fmt.Sprintf("slice%s(%s)", b.interval, b.State())
}
