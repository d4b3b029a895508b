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

// Package aggregation implements the windowed count, sum, min and max per key. Every worker thread pre-aggregates
// into its own buffer per slice, a triggered window merges the buffers of all its slices.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/operator"
	"github.com/numaproj/numaslice/pkg/shared/logging"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/sliceerr"
	"github.com/numaproj/numaslice/pkg/slicestore"
	"github.com/numaproj/numaslice/pkg/window"
)

// Result is the aggregate of one key in one window.
type Result struct {
	Window window.WindowInfo
	Key    string
	Count  int64
	Sum    int64
	Min    int64
	Max    int64
}

// Emitter receives the results of every triggered window, sorted by key.
type Emitter interface {
	Emit(ctx context.Context, w window.WindowInfo, results []Result) error
}

// EmitterFunc adapts a function to an Emitter.
type EmitterFunc func(ctx context.Context, w window.WindowInfo, results []Result) error

func (f EmitterFunc) Emit(ctx context.Context, w window.WindowInfo, results []Result) error {
	return f(ctx, w, results)
}

// Handler is the aggregation operator handler.
type Handler struct {
	*operator.WindowBasedOperatorHandler
	emitter Emitter
	log     *zap.SugaredLogger
}

// NewHandler returns an aggregation handler.
func NewHandler(ctx context.Context, assigner *window.SliceAssigner, emitter Emitter, opts ...operator.Option) (*Handler, error) {
	h := &Handler{emitter: emitter}
	base, err := operator.NewWindowBasedOperatorHandler(ctx, assigner, h.newSlice, h, opts...)
	if err != nil {
		return nil, err
	}
	h.WindowBasedOperatorHandler = base
	h.log = logging.FromContext(ctx).With("operator", base.ID(), "kind", "aggregation")
	return h, nil
}

func (h *Handler) newSlice(interval window.Interval) slice.Slice {
	return slice.NewAggregationSlice(interval, h.NumberOfWorkerThreads())
}

// Build pre-aggregates a batch into the buffers of the worker thread, then triggers the windows the batch
// completes.
func (h *Handler) Build(ctx context.Context, workerID int, batch operator.Batch) error {
	if err := h.Ready(); err != nil {
		return err
	}
	workerID, err := h.WorkerIndex(workerID)
	if err != nil {
		return err
	}

	unlock := h.LockWorker(workerID)
	late := 0
	for _, r := range batch.Records {
		s, err := h.GetSlicesOrCreate(r.Timestamp)
		if err != nil {
			if errors.Is(err, sliceerr.ErrLateRecord) {
				late++
				continue
			}
			unlock()
			return err
		}
		as, ok := s.(*slice.AggregationSlice)
		if !ok {
			unlock()
			return sliceerr.ErrSlotKindMismatch
		}
		if as.State() >= slice.Triggered {
			late++
			continue
		}
		as.GetAggregateBufferOrCreate(workerID).Add(r.Key, r.Value)
	}
	unlock()

	if late > 0 {
		h.log.Debugw("Dropped late records", zap.Int("count", late))
	}
	metrics.BuildRecords.WithLabelValues(h.ID(), "none").Add(float64(len(batch.Records) - late))
	return h.CheckAndTriggerWindows(ctx, batch.Metadata)
}

// TriggerSlices merges and emits every window, one window at a time.
func (h *Handler) TriggerSlices(ctx context.Context, windows []slicestore.TriggeredWindow) error {
	for _, tw := range windows {
		results, err := h.combine(tw)
		if err != nil {
			return err
		}
		if err := h.emitter.Emit(ctx, tw.Window, results); err != nil {
			return fmt.Errorf("failed to emit window %s: %w", tw.Window, err)
		}
		metrics.EmittedResults.WithLabelValues(h.ID()).Add(float64(len(results)))
		if err := h.GarbageCollectSlicesAndWindows(h.WindowEmitted(tw)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) combine(tw slicestore.TriggeredWindow) ([]Result, error) {
	unlock := h.LockAllWorkers()
	defer unlock()

	groups := make(map[string]slice.Partial)
	for _, s := range tw.Slices {
		as, ok := s.(*slice.AggregationSlice)
		if !ok {
			return nil, sliceerr.ErrSlotKindMismatch
		}
		as.Combine(groups)
	}
	results := make([]Result, 0, len(groups))
	for key, p := range groups {
		results = append(results, Result{
			Window: tw.Window,
			Key:    key,
			Count:  p.Count,
			Sum:    p.Sum,
			Min:    p.Min,
			Max:    p.Max,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Key < results[j].Key
	})
	return results, nil
}
