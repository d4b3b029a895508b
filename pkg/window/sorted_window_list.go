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

package window

import (
	"sort"
)

// Ended is anything identified by the end of its time range.
type Ended interface {
	EndTime() int64
}

// SortedList keeps items ordered by end time from lowest to highest. End times are unique within
// a list. It is not safe for concurrent use, the owner guards it with its own lock.
type SortedList[T Ended] struct {
	items []T
}

// NewSortedList returns an empty list. The Front/Head of the list will always have the smallest
// end time while the Back/Tail will have the largest.
func NewSortedList[T Ended]() *SortedList[T] {
	return &SortedList[T]{
		items: make([]T, 0),
	}
}

func (s *SortedList[T]) search(end int64) int {
	return sort.Search(len(s.items), func(i int) bool {
		return s.items[i].EndTime() >= end
	})
}

// InsertIfNotPresent inserts the item if no item with the same end time exists and returns the
// item kept in the list along with whether it was already present.
func (s *SortedList[T]) InsertIfNotPresent(item T) (T, bool) {
	index := s.search(item.EndTime())
	if index < len(s.items) && s.items[index].EndTime() == item.EndTime() {
		return s.items[index], true
	}
	// most inserts happen at the tail
	s.items = append(s.items, item)
	copy(s.items[index+1:], s.items[index:])
	s.items[index] = item
	return item, false
}

// Get returns the item with the given end time.
func (s *SortedList[T]) Get(end int64) (T, bool) {
	index := s.search(end)
	if index < len(s.items) && s.items[index].EndTime() == end {
		return s.items[index], true
	}
	var empty T
	return empty, false
}

// Delete deletes the item with the given end time from the list.
func (s *SortedList[T]) Delete(end int64) bool {
	index := s.search(end)
	if index < len(s.items) && s.items[index].EndTime() == end {
		s.items = append(s.items[:index], s.items[index+1:]...)
		return true
	}
	return false
}

// RemoveIf removes every item with end time smaller than or equal to end that satisfies the
// predicate and returns the removed items in order.
func (s *SortedList[T]) RemoveIf(end int64, pred func(T) bool) []T {
	var removed []T
	kept := s.items[:0]
	for i, item := range s.items {
		if item.EndTime() > end {
			kept = append(kept, s.items[i:]...)
			break
		}
		if pred(item) {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	// clear the tail so the removed items can be collected
	var empty T
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = empty
	}
	s.items = kept
	return removed
}

// Range calls fn for every item in order until fn returns false.
func (s *SortedList[T]) Range(fn func(T) bool) {
	for _, item := range s.items {
		if !fn(item) {
			return
		}
	}
}

// Len returns the length of the list.
func (s *SortedList[T]) Len() int {
	return len(s.items)
}

// Front returns the smallest element from the list.
func (s *SortedList[T]) Front() (T, bool) {
	var front T
	if len(s.items) == 0 {
		return front, false
	}
	return s.items[0], true
}

// Back returns the largest element from the list.
func (s *SortedList[T]) Back() (T, bool) {
	var back T
	if len(s.items) == 0 {
		return back, false
	}
	return s.items[len(s.items)-1], true
}

// Items returns a copy of the entire list.
func (s *SortedList[T]) Items() []T {
	items := make([]T, len(s.items))
	copy(items, s.items)
	return items
}

// Clear drops every item.
func (s *SortedList[T]) Clear() {
	s.items = make([]T, 0)
}
