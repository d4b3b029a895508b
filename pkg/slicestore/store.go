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

// Package slicestore keeps the slices of an operator ordered by end time together with the index from every
// pending window to the slices covering it. Both are guarded by a single lock, so a slice is always visible in the
// slice list and in all of its windows at the same time.
package slicestore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/shared/logging"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/sliceerr"
	"github.com/numaproj/numaslice/pkg/window"
)

// CreateFunc creates the slice for an interval.
type CreateFunc func(interval window.Interval) slice.Slice

// TriggeredWindow is a window handed to the trigger together with the slices covering it.
type TriggeredWindow struct {
	Window window.WindowInfo
	Slices []slice.Slice
	// SequenceNumber starts at 1 and strictly increases per store.
	SequenceNumber uint64
}

type windowEntry struct {
	info   window.WindowInfo
	state  window.State
	slices []slice.Slice
}

func (w *windowEntry) EndTime() int64 {
	return w.info.End
}

func (w *windowEntry) add(s slice.Slice) {
	idx := sort.Search(len(w.slices), func(i int) bool {
		return w.slices[i].EndTime() >= s.EndTime()
	})
	w.slices = append(w.slices, nil)
	copy(w.slices[idx+1:], w.slices[idx:])
	w.slices[idx] = s
}

// SliceStore creates, looks up, triggers and garbage collects slices.
type SliceStore struct {
	lock     sync.RWMutex
	assigner *window.SliceAssigner
	slices   *window.SortedList[slice.Slice]
	windows  *window.SortedList[*windowEntry]
	// pending counts the not yet emitted windows each slice belongs to, keyed by slice end
	pending map[int64]int
	// lastTriggerWatermark is the highest watermark windows have been triggered for
	lastTriggerWatermark int64
	flushed              bool
	closed               bool
	sequence             uint64
	opts                 *options
	log                  *zap.SugaredLogger
}

// NewSliceStore returns an empty store slicing time with the given assigner.
func NewSliceStore(ctx context.Context, assigner *window.SliceAssigner, opts ...Option) *SliceStore {
	o := &options{
		operator: "default",
	}
	for _, opt := range opts {
		opt(o)
	}
	return &SliceStore{
		assigner:             assigner,
		slices:               window.NewSortedList[slice.Slice](),
		windows:              window.NewSortedList[*windowEntry](),
		pending:              make(map[int64]int),
		lastTriggerWatermark: -1,
		opts:                 o,
		log:                  logging.FromContext(ctx).With("operator", o.operator),
	}
}

func (s *SliceStore) initialState() window.State {
	if s.opts.bothSides {
		return window.BothSidesFilling
	}
	return window.OneSideFilling
}

// GetSlicesOrCreate returns the slice containing ts, creating it with createFn and registering it in every pending
// window it belongs to. The same slice is returned for every timestamp of its interval. It fails with ErrLateRecord
// when all windows of the interval have already been emitted.
func (s *SliceStore) GetSlicesOrCreate(ts int64, createFn CreateFunc) (slice.Slice, error) {
	sliceEnd := s.assigner.SliceEnd(ts)
	if s.opts.cache != nil {
		if sl, ok := s.opts.cache.Lookup(sliceEnd); ok && sl.State() != slice.Deleted {
			return sl, nil
		}
	}

	sl, err := s.getOrCreate(ts, createFn)
	if err != nil {
		return nil, err
	}
	if s.opts.cache != nil {
		s.opts.cache.Insert(sliceEnd, sl)
	}
	return sl, nil
}

func (s *SliceStore) getOrCreate(ts int64, createFn CreateFunc) (slice.Slice, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, sliceerr.ErrStoreClosed
	}
	interval := s.assigner.AssignSlice(ts)
	if existing, ok := s.slices.Get(interval.End); ok {
		return existing, nil
	}

	var pendingWindows []window.WindowInfo
	if !s.flushed {
		for _, w := range s.assigner.WindowsForSlice(interval) {
			if w.End > s.lastTriggerWatermark {
				pendingWindows = append(pendingWindows, w)
			}
		}
	}
	if len(pendingWindows) == 0 {
		metrics.LateRecords.WithLabelValues(s.opts.operator).Inc()
		return nil, sliceerr.ErrLateRecord.WithCause(fmt.Errorf("timestamp %d in slice %s, last trigger watermark %d", ts, interval, s.lastTriggerWatermark))
	}

	created := createFn(interval)
	s.slices.InsertIfNotPresent(created)
	for _, w := range pendingWindows {
		entry, _ := s.windows.InsertIfNotPresent(&windowEntry{info: w, state: s.initialState()})
		entry.add(created)
	}
	s.pending[interval.End] = len(pendingWindows)

	metrics.ActiveSlices.WithLabelValues(s.opts.operator).Set(float64(s.slices.Len()))
	metrics.ActiveWindows.WithLabelValues(s.opts.operator).Set(float64(s.windows.Len()))
	return created, nil
}

// GetAllWindowsForSlice returns every window the slice belongs to.
func (s *SliceStore) GetAllWindowsForSlice(sl slice.Slice) []window.WindowInfo {
	return s.assigner.WindowsForSlice(sl.Interval())
}

// GetTriggerableWindowSlices marks every not yet emitted window ending at or before the watermark as emitted and
// returns it, in ascending order of window end. A window is returned at most once.
func (s *SliceStore) GetTriggerableWindowSlices(globalWatermark int64) []TriggeredWindow {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.trigger(globalWatermark)
}

// GetAllNonTriggeredSlices emits every remaining window regardless of the watermark. Later records are rejected as
// late.
func (s *SliceStore) GetAllNonTriggeredSlices() []TriggeredWindow {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.flushed = true
	return s.trigger(math.MaxInt64)
}

func (s *SliceStore) trigger(watermark int64) []TriggeredWindow {
	var triggered []TriggeredWindow
	s.windows.Range(func(w *windowEntry) bool {
		if w.info.End > watermark {
			return false
		}
		if w.state == window.Emitted {
			return true
		}
		w.state = window.Emitted
		s.sequence++
		slices := make([]slice.Slice, len(w.slices))
		copy(slices, w.slices)
		for _, sl := range slices {
			s.pending[sl.EndTime()]--
			if s.pending[sl.EndTime()] <= 0 {
				sl.Advance(slice.Triggered)
			} else {
				sl.Advance(slice.Staged)
			}
		}
		triggered = append(triggered, TriggeredWindow{
			Window:         w.info,
			Slices:         slices,
			SequenceNumber: s.sequence,
		})
		return true
	})
	s.lastTriggerWatermark = max(s.lastTriggerWatermark, watermark)
	if len(triggered) > 0 {
		metrics.TriggeredWindows.WithLabelValues(s.opts.operator).Add(float64(len(triggered)))
		s.log.Debugw("Triggered windows", zap.Int("count", len(triggered)), zap.Int64("watermark", watermark),
			zap.Uint64("lastSequence", s.sequence))
	}
	return triggered
}

// UpdateSideProgress moves the windows of a join store ending at or before the watermark of one side from
// BothSidesFilling to OneSideFilling. It returns the number of updated windows.
func (s *SliceStore) UpdateSideProgress(sideWatermark int64) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	updated := 0
	s.windows.Range(func(w *windowEntry) bool {
		if w.info.End > sideWatermark {
			return false
		}
		if w.state == window.BothSidesFilling {
			w.state = window.OneSideFilling
			updated++
		}
		return true
	})
	return updated
}

// WindowState returns the state of the window with the given end.
func (s *SliceStore) WindowState(windowEnd int64) (window.State, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	w, ok := s.windows.Get(windowEnd)
	if !ok {
		return 0, false
	}
	return w.state, true
}

// GarbageCollectSlicesAndWindows deletes the slices whose last window ends at or before the watermark and which no
// pending window references anymore, and the emitted windows whose slices are all gone. The slices are released and passed to the
// delete hook outside the lock. It returns the number of deleted slices.
func (s *SliceStore) GarbageCollectSlicesAndWindows(newWatermark int64) (int, error) {
	s.lock.Lock()
	removed := s.slices.RemoveIf(newWatermark, func(sl slice.Slice) bool {
		return s.pending[sl.EndTime()] <= 0 && s.assigner.LastWindowEnd(sl.Interval()) <= newWatermark
	})
	for _, sl := range removed {
		delete(s.pending, sl.EndTime())
		if s.opts.cache != nil {
			s.opts.cache.Delete(sl.EndTime())
		}
	}
	s.windows.RemoveIf(newWatermark, func(w *windowEntry) bool {
		if w.state != window.Emitted {
			return false
		}
		for _, sl := range w.slices {
			if current, ok := s.slices.Get(sl.EndTime()); ok && current == sl {
				return false
			}
		}
		return true
	})
	metrics.ActiveSlices.WithLabelValues(s.opts.operator).Set(float64(s.slices.Len()))
	metrics.ActiveWindows.WithLabelValues(s.opts.operator).Set(float64(s.windows.Len()))
	s.lock.Unlock()

	if len(removed) > 0 {
		metrics.DeletedSlices.WithLabelValues(s.opts.operator).Add(float64(len(removed)))
		s.log.Debugw("Garbage collected slices", zap.Int("count", len(removed)), zap.Int64("watermark", newWatermark))
	}
	return len(removed), s.release(removed)
}

func (s *SliceStore) release(slices []slice.Slice) error {
	var err error
	for _, sl := range slices {
		sl.Release()
		if s.opts.onDelete != nil {
			err = multierr.Append(err, s.opts.onDelete(sl))
		}
	}
	return err
}

// DeleteState drops every slice and window. The store can not be used afterwards.
func (s *SliceStore) DeleteState() error {
	s.lock.Lock()
	s.closed = true
	removed := s.slices.Items()
	for _, sl := range removed {
		if s.opts.cache != nil {
			s.opts.cache.Delete(sl.EndTime())
		}
	}
	s.slices.Clear()
	s.windows.Clear()
	s.pending = make(map[int64]int)
	metrics.ActiveSlices.WithLabelValues(s.opts.operator).Set(0)
	metrics.ActiveWindows.WithLabelValues(s.opts.operator).Set(0)
	s.lock.Unlock()

	s.log.Infow("Deleted slice store state", zap.Int("slices", len(removed)))
	return s.release(removed)
}

// GetSliceBySliceEnd returns the slice with the given end.
func (s *SliceStore) GetSliceBySliceEnd(sliceEnd int64) (slice.Slice, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.slices.Get(sliceEnd)
}

// Slices returns the slices of the store ordered by end.
func (s *SliceStore) Slices() []slice.Slice {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.slices.Items()
}

// NumberOfSlices returns the number of slices.
func (s *SliceStore) NumberOfSlices() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.slices.Len()
}

// NumberOfWindows returns the number of window entries, emitted ones included until they are collected.
func (s *SliceStore) NumberOfWindows() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.windows.Len()
}

// LastTriggerWatermark returns the highest watermark windows have been triggered for.
func (s *SliceStore) LastTriggerWatermark() int64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lastTriggerWatermark
}

// Assigner returns the slice assigner of the store.
func (s *SliceStore) Assigner() *window.SliceAssigner {
	return s.assigner
}
