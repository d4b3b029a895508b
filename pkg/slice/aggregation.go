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
	"math"

	"github.com/numaproj/numaslice/pkg/window"
)

// groupOverhead is an estimate of the memory of one group in an AggregateBuffer.
const groupOverhead = 96

// Partial is the partial aggregate of a group.
type Partial struct {
	Count int64
	Sum   int64
	Min   int64
	Max   int64
}

// NewPartial returns the identity of Merge.
func NewPartial() Partial {
	return Partial{Min: math.MaxInt64, Max: math.MinInt64}
}

// Add accumulates a value.
func (p *Partial) Add(v int64) {
	p.Count++
	p.Sum += v
	p.Min = min(p.Min, v)
	p.Max = max(p.Max, v)
}

// Merge combines another partial into p.
func (p *Partial) Merge(o Partial) {
	if o.Count == 0 {
		return
	}
	p.Count += o.Count
	p.Sum += o.Sum
	p.Min = min(p.Min, o.Min)
	p.Max = max(p.Max, o.Max)
}

// AggregateBuffer maps a group key to its partial aggregate. It is written by a single worker thread.
type AggregateBuffer struct {
	groups   map[string]*Partial
	keyBytes int64
}

func newAggregateBuffer() *AggregateBuffer {
	return &AggregateBuffer{groups: make(map[string]*Partial)}
}

// Add accumulates v into the group of key.
func (b *AggregateBuffer) Add(key string, v int64) {
	p, ok := b.groups[key]
	if !ok {
		np := NewPartial()
		p = &np
		b.groups[key] = p
		b.keyBytes += int64(len(key))
	}
	p.Add(v)
}

// Len returns the number of groups.
func (b *AggregateBuffer) Len() int {
	return len(b.groups)
}

// Range calls fn for every group.
func (b *AggregateBuffer) Range(fn func(key string, p Partial)) {
	for k, p := range b.groups {
		fn(k, *p)
	}
}

// AggregationSlice keeps one AggregateBuffer per worker thread.
type AggregationSlice struct {
	base
	numberOfWorkers int
	buffers         *Slots[AggregateBuffer]
}

var _ Slice = (*AggregationSlice)(nil)

// NewAggregationSlice returns an AggregationSlice with numberOfWorkers empty slots.
func NewAggregationSlice(interval window.Interval, numberOfWorkers int) *AggregationSlice {
	return &AggregationSlice{
		base:            newBase(interval),
		numberOfWorkers: numberOfWorkers,
		buffers:         NewSlots[AggregateBuffer](numberOfWorkers),
	}
}

// GetAggregateBufferOrCreate returns the buffer of the thread, creating it on first touch.
func (s *AggregationSlice) GetAggregateBufferOrCreate(threadID int) *AggregateBuffer {
	return s.buffers.GetOrCreate(threadID%s.numberOfWorkers, newAggregateBuffer)
}

// GetAggregateBuffer returns the buffer of the thread without creating it.
func (s *AggregationSlice) GetAggregateBuffer(threadID int) (*AggregateBuffer, error) {
	return s.buffers.Get(threadID % s.numberOfWorkers)
}

// Combine merges the buffers of all threads into one partial per group.
func (s *AggregationSlice) Combine(into map[string]Partial) {
	s.buffers.Range(func(_ int, b *AggregateBuffer) {
		b.Range(func(key string, p Partial) {
			acc, ok := into[key]
			if !ok {
				acc = NewPartial()
			}
			acc.Merge(p)
			into[key] = acc
		})
	})
}

func (s *AggregationSlice) ResidentBytes(threadID int, _ Side) int64 {
	b, err := s.GetAggregateBuffer(threadID)
	if err != nil {
		return 0
	}
	return int64(b.Len())*groupOverhead + b.keyBytes
}

func (s *AggregationSlice) Release() {
	s.Advance(Deleted)
	s.buffers.Clear()
}
