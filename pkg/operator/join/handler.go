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

// Package join implements the windowed hash equi-join. Every worker thread builds its own hash map per slice and
// side, a triggered window joins the left records of all its slices with the right records of all its slices.
package join

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/numaproj/numaslice/pkg/hashmap"
	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/operator"
	"github.com/numaproj/numaslice/pkg/shared/logging"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/sliceerr"
	"github.com/numaproj/numaslice/pkg/slicestore"
	"github.com/numaproj/numaslice/pkg/spill"
	"github.com/numaproj/numaslice/pkg/watermark"
	"github.com/numaproj/numaslice/pkg/window"
)

// Result is a pair of left and right records with the same key in the same window.
type Result struct {
	Window         window.WindowInfo
	Key            string
	LeftTimestamp  int64
	LeftValue      int64
	RightTimestamp int64
	RightValue     int64
}

// Emitter receives the results of every triggered window, exactly once per window.
type Emitter interface {
	Emit(ctx context.Context, w window.WindowInfo, results []Result) error
}

// EmitterFunc adapts a function to an Emitter.
type EmitterFunc func(ctx context.Context, w window.WindowInfo, results []Result) error

func (f EmitterFunc) Emit(ctx context.Context, w window.WindowInfo, results []Result) error {
	return f(ctx, w, results)
}

// Handler is the join operator handler.
type Handler struct {
	*operator.WindowBasedOperatorHandler
	emitter        Emitter
	sideWatermarks [2]*watermark.MultiOriginProcessor
	opts           *options
	log            *zap.SugaredLogger
}

// NewHandler returns a join handler. The left and right origins must not overlap.
func NewHandler(ctx context.Context, assigner *window.SliceAssigner, emitter Emitter, opts ...Option) (*Handler, error) {
	o := &options{
		leftOrigins:  []watermark.OriginID{0},
		rightOrigins: []watermark.OriginID{1},
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.leftOrigins) == 0 || len(o.rightOrigins) == 0 {
		return nil, sliceerr.New(sliceerr.Fatal, "join", "both sides need at least one origin")
	}
	origins := make([]watermark.OriginID, 0, len(o.leftOrigins)+len(o.rightOrigins))
	seen := make(map[watermark.OriginID]struct{})
	for _, origin := range append(append([]watermark.OriginID{}, o.leftOrigins...), o.rightOrigins...) {
		if _, ok := seen[origin]; ok {
			return nil, sliceerr.New(sliceerr.Fatal, "join", fmt.Sprintf("origin %d used more than once", origin))
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}

	h := &Handler{
		emitter: emitter,
		opts:    o,
	}
	handlerOpts := append([]operator.Option{
		operator.WithOrigins(origins...),
		operator.WithBothSides(),
	}, o.handlerOpts...)
	if o.spill != nil {
		handlerOpts = append(handlerOpts,
			operator.WithOnDelete(func(s slice.Slice) error {
				return o.spill.DeleteSliceFiles(s.SliceEnd())
			}),
			operator.WithOnStop(o.spill.Close))
	}
	base, err := operator.NewWindowBasedOperatorHandler(ctx, assigner, h.newSlice, h, handlerOpts...)
	if err != nil {
		return nil, err
	}
	h.WindowBasedOperatorHandler = base
	h.log = logging.FromContext(ctx).With("operator", base.ID(), "kind", "join")
	h.sideWatermarks[slice.Left] = watermark.NewMultiOriginProcessor(ctx, o.leftOrigins, watermark.WithOperator(base.ID()), watermark.WithKind("left"))
	h.sideWatermarks[slice.Right] = watermark.NewMultiOriginProcessor(ctx, o.rightOrigins, watermark.WithOperator(base.ID()), watermark.WithKind("right"))
	return h, nil
}

func (h *Handler) newSlice(interval window.Interval) slice.Slice {
	return slice.NewJoinSlice(interval, h.NumberOfWorkerThreads(), h.opts.hashMapOpts...)
}

// Build adds the records of a batch of one side to the state of the worker thread, then triggers the windows the
// batch completes.
func (h *Handler) Build(ctx context.Context, workerID int, side slice.Side, batch operator.Batch) error {
	if err := h.Ready(); err != nil {
		return err
	}
	workerID, err := h.WorkerIndex(workerID)
	if err != nil {
		return err
	}

	unlock := h.LockWorker(workerID)
	err = h.build(workerID, side, batch.Records)
	if err == nil {
		err = h.spillIfNeeded(workerID)
	}
	unlock()
	if err != nil {
		return err
	}

	sideWatermark, err := h.sideWatermarks[side].UpdateWatermark(batch.Metadata)
	if err != nil {
		return err
	}
	if sideWatermark != watermark.InitialWatermark {
		h.Store().UpdateSideProgress(sideWatermark.UnixMilli())
	}
	return h.CheckAndTriggerWindows(ctx, batch.Metadata)
}

func (h *Handler) build(workerID int, side slice.Side, records []operator.Record) error {
	late := 0
	for _, r := range records {
		s, err := h.GetSlicesOrCreate(r.Timestamp)
		if err != nil {
			if errors.Is(err, sliceerr.ErrLateRecord) {
				late++
				continue
			}
			return err
		}
		js, ok := s.(*slice.JoinSlice)
		if !ok {
			return sliceerr.ErrSlotKindMismatch
		}
		// every window of the slice has been emitted
		if js.State() >= slice.Triggered {
			late++
			continue
		}
		js.GetHashMapOrCreate(workerID, side).Insert(r.Key, r.Timestamp, r.Value)
	}
	if late > 0 {
		h.log.Debugw("Dropped late records", zap.Int("count", late), zap.Stringer("side", side))
	}
	metrics.BuildRecords.WithLabelValues(h.ID(), side.String()).Add(float64(len(records) - late))
	return nil
}

// spillIfNeeded writes out the state of the worker thread, latest filling slice first, until the thread holds no
// more than the allowed resident bytes.
func (h *Handler) spillIfNeeded(workerID int) error {
	if h.opts.spill == nil || h.opts.maxResidentBytesPerWorker <= 0 {
		return nil
	}
	slices := h.Store().Slices()
	var resident int64
	for _, s := range slices {
		if s.State() == slice.Filling {
			resident += s.ResidentBytes(workerID, slice.Left) + s.ResidentBytes(workerID, slice.Right)
		}
	}
	var page []byte
	for i := len(slices) - 1; i >= 0 && resident > h.opts.maxResidentBytesPerWorker; i-- {
		js, ok := slices[i].(*slice.JoinSlice)
		if !ok || js.State() != slice.Filling {
			continue
		}
		for _, side := range []slice.Side{slice.Left, slice.Right} {
			m, err := js.GetHashMap(workerID, side)
			if err != nil || m.Len() == 0 {
				continue
			}
			before := m.ResidentBytes()
			w, err := h.opts.spill.GetFileWriter(js.SliceEnd(), workerID, side)
			if err != nil {
				return err
			}
			for p := 0; p < m.NumberOfPages(); p++ {
				page = m.AppendPage(page[:0], p)
				if err := w.WriteBlock(page); err != nil {
					return err
				}
			}
			m.Truncate()
			resident -= before - m.ResidentBytes()
			h.log.Debugw("Spilled slice state", zap.Int64("sliceEnd", js.SliceEnd()), zap.Int("workerID", workerID),
				zap.Stringer("side", side), zap.Int64("bytes", before))
		}
	}
	return nil
}

// restore reads the spilled state of the slice back into its hash maps and removes the files.
func (h *Handler) restore(js *slice.JoinSlice) error {
	if h.opts.spill == nil {
		return nil
	}
	restored := false
	for _, side := range []slice.Side{slice.Left, slice.Right} {
		readers, err := h.opts.spill.GetFileReaders(js.SliceEnd(), 0, 1, side)
		if err != nil {
			return err
		}
		for _, r := range readers {
			err := h.readInto(r, js.GetHashMapOrCreate(r.ThreadID(), side))
			_ = r.Close()
			if err != nil {
				return fmt.Errorf("failed to restore %s: %w", r.Path(), err)
			}
			restored = true
		}
	}
	if !restored {
		return nil
	}
	return h.opts.spill.DeleteSliceFiles(js.SliceEnd())
}

func (h *Handler) readInto(r *spill.FileReader, m *hashmap.HashMap) error {
	for {
		block, err := r.ReadBlock()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := m.InsertPage(block); err != nil {
			return err
		}
	}
}

// TriggerSlices joins every window and emits the results, one window at a time.
func (h *Handler) TriggerSlices(ctx context.Context, windows []slicestore.TriggeredWindow) error {
	for _, tw := range windows {
		results, err := h.probe(tw)
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

func (h *Handler) probe(tw slicestore.TriggeredWindow) ([]Result, error) {
	unlock := h.LockAllWorkers()
	defer unlock()

	slices := make([]*slice.JoinSlice, 0, len(tw.Slices))
	for _, s := range tw.Slices {
		js, ok := s.(*slice.JoinSlice)
		if !ok {
			return nil, sliceerr.ErrSlotKindMismatch
		}
		if err := h.restore(js); err != nil {
			return nil, err
		}
		js.SealSides()
		slices = append(slices, js)
	}

	var results []Result
	for _, left := range slices {
		for _, lm := range left.HashMaps(slice.Left) {
			lm.Range(func(le hashmap.Entry) bool {
				for _, right := range slices {
					for _, rm := range right.HashMaps(slice.Right) {
						rm.Find(le.Key, func(re hashmap.Entry) bool {
							results = append(results, Result{
								Window:         tw.Window,
								Key:            le.Key,
								LeftTimestamp:  le.Timestamp,
								LeftValue:      le.Value,
								RightTimestamp: re.Timestamp,
								RightValue:     re.Value,
							})
							return true
						})
					}
				}
				return true
			})
		}
	}
	return results, nil
}

// SideWatermark returns the watermark of one input side.
func (h *Handler) SideWatermark(side slice.Side) watermark.Watermark {
	return h.sideWatermarks[side].CurrentWatermark()
}
