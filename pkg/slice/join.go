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
	"github.com/numaproj/numaslice/pkg/hashmap"
	"github.com/numaproj/numaslice/pkg/window"
)

// JoinSlice keeps one hash map per worker thread and join side.
type JoinSlice struct {
	base
	numberOfWorkers int
	maps            *Slots[hashmap.HashMap]
	hashMapOpts     []hashmap.Option
}

var _ Slice = (*JoinSlice)(nil)

// NewJoinSlice returns a JoinSlice with 2*numberOfWorkers empty slots.
func NewJoinSlice(interval window.Interval, numberOfWorkers int, opts ...hashmap.Option) *JoinSlice {
	return &JoinSlice{
		base:            newBase(interval),
		numberOfWorkers: numberOfWorkers,
		maps:            NewSlots[hashmap.HashMap](2 * numberOfWorkers),
		hashMapOpts:     opts,
	}
}

func (s *JoinSlice) slotIndex(threadID int, side Side) int {
	idx := threadID % s.numberOfWorkers
	if side == Right {
		idx += s.numberOfWorkers
	}
	return idx
}

// GetHashMapOrCreate returns the hash map of the thread for the side, creating it on first touch.
func (s *JoinSlice) GetHashMapOrCreate(threadID int, side Side) *hashmap.HashMap {
	return s.maps.GetOrCreate(s.slotIndex(threadID, side), func() *hashmap.HashMap {
		return hashmap.New(s.hashMapOpts...)
	})
}

// GetHashMap returns the hash map of the thread for the side without creating it.
func (s *JoinSlice) GetHashMap(threadID int, side Side) (*hashmap.HashMap, error) {
	return s.maps.Get(s.slotIndex(threadID, side))
}

// SealSides creates an empty hash map in every slot no thread has written to, so a side without contribution is
// empty rather than absent.
func (s *JoinSlice) SealSides() {
	for thread := 0; thread < s.numberOfWorkers; thread++ {
		s.GetHashMapOrCreate(thread, Left)
		s.GetHashMapOrCreate(thread, Right)
	}
}

// HashMaps returns the hash maps of the side indexed by worker thread, nil for the untouched ones.
func (s *JoinSlice) HashMaps(side Side) []*hashmap.HashMap {
	maps := make([]*hashmap.HashMap, s.numberOfWorkers)
	for thread := range maps {
		maps[thread], _ = s.GetHashMap(thread, side)
	}
	return maps
}

// NumberOfTuples returns the number of records of the side held in memory.
func (s *JoinSlice) NumberOfTuples(side Side) int {
	n := 0
	for _, m := range s.HashMaps(side) {
		if m != nil {
			n += m.Len()
		}
	}
	return n
}

// NumberOfWorkers returns the number of worker threads the slice was created for.
func (s *JoinSlice) NumberOfWorkers() int {
	return s.numberOfWorkers
}

func (s *JoinSlice) ResidentBytes(threadID int, side Side) int64 {
	m, err := s.GetHashMap(threadID, side)
	if err != nil {
		return 0
	}
	return m.ResidentBytes()
}

func (s *JoinSlice) Release() {
	s.Advance(Deleted)
	s.maps.Clear()
}
