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

package watermark

import (
	"sync"

	"go.uber.org/atomic"
)

type sequenceProgress struct {
	chunks    map[uint64]struct{}
	lastChunk uint64
	watermark Watermark
}

func (p *sequenceProgress) complete() bool {
	return p.lastChunk != 0 && uint64(len(p.chunks)) == p.lastChunk
}

type updateResult int

const (
	updateApplied updateResult = iota
	updateDuplicate
	updateRegressed
)

// sequenceTracker follows the sequences of a single origin.
type sequenceTracker struct {
	lock sync.Mutex
	// next is the lowest sequence that has not retired
	next    uint64
	pending map[uint64]*sequenceProgress
	current *atomic.Int64
}

func newSequenceTracker() *sequenceTracker {
	return &sequenceTracker{
		next:    1,
		pending: make(map[uint64]*sequenceProgress),
		current: atomic.NewInt64(int64(InitialWatermark)),
	}
}

// watermark returns the watermark of the retired prefix.
func (t *sequenceTracker) watermark() Watermark {
	return Watermark(t.current.Load())
}

// update records the chunk and retires every sequence which became complete.
func (t *sequenceTracker) update(meta BatchMetadata) updateResult {
	t.lock.Lock()
	defer t.lock.Unlock()

	if meta.SequenceNumber < t.next {
		return updateDuplicate
	}
	p, ok := t.pending[meta.SequenceNumber]
	if !ok {
		p = &sequenceProgress{
			chunks:    make(map[uint64]struct{}, 1),
			watermark: InitialWatermark,
		}
		t.pending[meta.SequenceNumber] = p
	}
	if _, seen := p.chunks[meta.ChunkNumber]; seen {
		return updateDuplicate
	}
	p.chunks[meta.ChunkNumber] = struct{}{}
	p.watermark = max(p.watermark, meta.Watermark)
	if meta.LastChunk {
		p.lastChunk = meta.ChunkNumber
	}

	result := updateApplied
	current := t.watermark()
	for {
		head, ok := t.pending[t.next]
		if !ok || !head.complete() {
			break
		}
		if head.watermark < current {
			// never move backwards
			result = updateRegressed
		} else {
			current = head.watermark
		}
		delete(t.pending, t.next)
		t.next++
	}
	t.current.Store(int64(current))
	return result
}
