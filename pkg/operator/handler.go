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

// Package operator implements the lifecycle shared by the window based operators: slices are resolved through the
// slice store, the build watermark decides which windows are complete, and the probe watermark of the emitted
// windows decides which slices can be garbage collected.
package operator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/shared/logging"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/slicecache"
	"github.com/numaproj/numaslice/pkg/sliceerr"
	"github.com/numaproj/numaslice/pkg/slicestore"
	"github.com/numaproj/numaslice/pkg/watermark"
	"github.com/numaproj/numaslice/pkg/window"
)

// BatchMetadata is the progress information of a batch.
type BatchMetadata = watermark.BatchMetadata

// Record is a timestamped key value pair.
type Record struct {
	Timestamp int64
	Key       string
	Value     int64
}

// Batch is a set of records sharing the same progress information.
type Batch struct {
	Metadata BatchMetadata
	Records  []Record
}

// State is the lifecycle state of a handler.
type State int32

const (
	Created State = iota
	Started
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Started:
		return "Started"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// SliceTrigger computes and emits the results of triggered windows.
type SliceTrigger interface {
	TriggerSlices(ctx context.Context, windows []slicestore.TriggeredWindow) error
}

// WindowBasedOperatorHandler owns the slice store and the watermarks of one operator instance. Concrete operators
// embed it and provide the slice factory and the trigger.
type WindowBasedOperatorHandler struct {
	id              string
	state           *atomic.Int32
	numberOfWorkers *atomic.Int32
	// flushing is set while Stop triggers the remaining windows
	flushing        *atomic.Bool
	setupLock       sync.Mutex
	workerLocks     []sync.Mutex
	store           *slicestore.SliceStore
	cache           slicecache.Cache
	buildWatermark  *watermark.MultiOriginProcessor
	probeWatermark  *watermark.MultiOriginProcessor
	outputOrigin    watermark.OriginID
	createFn        slicestore.CreateFunc
	trigger         SliceTrigger
	onStop          []func() error
	log             *zap.SugaredLogger
}

// NewWindowBasedOperatorHandler returns a handler in the Created state.
func NewWindowBasedOperatorHandler(ctx context.Context, assigner *window.SliceAssigner, createFn slicestore.CreateFunc, trigger SliceTrigger, opts ...Option) (*WindowBasedOperatorHandler, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := logging.FromContext(ctx).With("operator", o.id)

	cache, err := slicecache.New(o.cacheType, o.cacheEntries, slicecache.WithOperator(o.id))
	if err != nil {
		return nil, err
	}
	storeOpts := []slicestore.Option{
		slicestore.WithOperator(o.id),
		slicestore.WithCache(cache),
		slicestore.WithOnDelete(o.onDelete),
	}
	if o.bothSides {
		storeOpts = append(storeOpts, slicestore.WithBothSides())
	}

	h := &WindowBasedOperatorHandler{
		id:              o.id,
		state:           atomic.NewInt32(int32(Created)),
		numberOfWorkers: atomic.NewInt32(0),
		flushing:        atomic.NewBool(false),
		store:           slicestore.NewSliceStore(ctx, assigner, storeOpts...),
		cache:           cache,
		buildWatermark:  watermark.NewMultiOriginProcessor(ctx, o.origins, watermark.WithOperator(o.id), watermark.WithKind("build")),
		probeWatermark:  watermark.NewMultiOriginProcessor(ctx, []watermark.OriginID{o.outputOrigin}, watermark.WithOperator(o.id), watermark.WithKind("probe")),
		outputOrigin:    o.outputOrigin,
		createFn:        createFn,
		trigger:         trigger,
		onStop:          o.onStop,
		log:             log,
	}
	if o.numberOfWorkers > 0 {
		if err := h.SetWorkerThreads(o.numberOfWorkers); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ID returns the operator id.
func (h *WindowBasedOperatorHandler) ID() string {
	return h.id
}

// State returns the lifecycle state.
func (h *WindowBasedOperatorHandler) State() State {
	return State(h.state.Load())
}

// Start moves the handler from Created to Started.
func (h *WindowBasedOperatorHandler) Start(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(Created), int32(Started)) {
		return sliceerr.New(sliceerr.Fatal, "handler", fmt.Sprintf("cannot start handler in state %s", h.State()))
	}
	h.log.Infow("Operator handler started", zap.Int32("workerThreads", h.numberOfWorkers.Load()))
	return nil
}

// SetWorkerThreads sets the number of worker threads. It can only be set once.
func (h *WindowBasedOperatorHandler) SetWorkerThreads(n int) error {
	if n <= 0 {
		return sliceerr.ErrWorkerThreadsNotSet.WithCause(fmt.Errorf("invalid number of worker threads %d", n))
	}
	h.setupLock.Lock()
	defer h.setupLock.Unlock()
	switch current := int(h.numberOfWorkers.Load()); current {
	case n:
		return nil
	case 0:
	default:
		return sliceerr.New(sliceerr.Fatal, "handler", fmt.Sprintf("worker threads already set to %d", current))
	}
	// the locks must exist before the count is visible to Ready
	h.workerLocks = make([]sync.Mutex, n)
	h.numberOfWorkers.Store(int32(n))
	return nil
}

// NumberOfWorkerThreads returns the number of worker threads, 0 if not set.
func (h *WindowBasedOperatorHandler) NumberOfWorkerThreads() int {
	return int(h.numberOfWorkers.Load())
}

// Ready fails unless Start and SetWorkerThreads have both been called.
func (h *WindowBasedOperatorHandler) Ready() error {
	switch h.State() {
	case Running:
		return nil
	case Started:
		if h.numberOfWorkers.Load() == 0 {
			return sliceerr.ErrWorkerThreadsNotSet
		}
		h.state.CompareAndSwap(int32(Started), int32(Running))
		return nil
	case Stopped:
		return sliceerr.ErrStoreClosed
	default:
		return sliceerr.ErrNotStarted
	}
}

// readyOrFlushing is Ready, except that it also holds while Stop flushes the remaining windows.
func (h *WindowBasedOperatorHandler) readyOrFlushing() error {
	if h.State() == Stopped && h.flushing.Load() {
		return nil
	}
	return h.Ready()
}

// IsHealthy fails once the handler has been stopped.
func (h *WindowBasedOperatorHandler) IsHealthy(_ context.Context) error {
	if h.State() == Stopped {
		return sliceerr.ErrStoreClosed
	}
	return nil
}

// WorkerIndex maps a worker id onto the worker threads.
func (h *WindowBasedOperatorHandler) WorkerIndex(workerID int) (int, error) {
	if workerID < 0 {
		return 0, sliceerr.ErrInvalidWorkerID.WithCause(fmt.Errorf("worker id %d", workerID))
	}
	return workerID % h.NumberOfWorkerThreads(), nil
}

// LockWorker serializes access to the state written by a worker thread.
func (h *WindowBasedOperatorHandler) LockWorker(workerID int) func() {
	l := &h.workerLocks[workerID%len(h.workerLocks)]
	l.Lock()
	return l.Unlock
}

// LockAllWorkers blocks every worker thread from writing, in worker order.
func (h *WindowBasedOperatorHandler) LockAllWorkers() func() {
	for i := range h.workerLocks {
		h.workerLocks[i].Lock()
	}
	return func() {
		for i := len(h.workerLocks) - 1; i >= 0; i-- {
			h.workerLocks[i].Unlock()
		}
	}
}

// GetSlicesOrCreate returns the slice for ts, creating it with the slice factory of the operator.
func (h *WindowBasedOperatorHandler) GetSlicesOrCreate(ts int64) (slice.Slice, error) {
	if err := h.Ready(); err != nil {
		return nil, err
	}
	return h.store.GetSlicesOrCreate(ts, h.createFn)
}

// CheckAndTriggerWindows records the progress of a build batch and triggers every window the build watermark has
// passed.
func (h *WindowBasedOperatorHandler) CheckAndTriggerWindows(ctx context.Context, meta BatchMetadata) error {
	if err := h.Ready(); err != nil {
		return err
	}
	before := h.buildWatermark.CurrentWatermark()
	after, err := h.buildWatermark.UpdateWatermark(meta)
	if err != nil {
		return err
	}
	if after <= before {
		return nil
	}
	return h.triggerWindows(ctx, h.store.GetTriggerableWindowSlices(after.UnixMilli()))
}

// TriggerAllWindows triggers every window not triggered yet, used to flush on shutdown.
func (h *WindowBasedOperatorHandler) TriggerAllWindows(ctx context.Context) error {
	if err := h.readyOrFlushing(); err != nil {
		return err
	}
	return h.triggerWindows(ctx, h.store.GetAllNonTriggeredSlices())
}

func (h *WindowBasedOperatorHandler) triggerWindows(ctx context.Context, windows []slicestore.TriggeredWindow) error {
	if len(windows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.TriggerProcessingTime.WithLabelValues(h.id).Observe(float64(time.Since(start).Microseconds()))
	}()
	return h.trigger.TriggerSlices(ctx, windows)
}

// GarbageCollectSlicesAndWindows records the progress of an emitted window and collects the state below the
// smaller of the probe and the build watermark.
func (h *WindowBasedOperatorHandler) GarbageCollectSlicesAndWindows(meta BatchMetadata) error {
	if err := h.readyOrFlushing(); err != nil {
		return err
	}
	probe, err := h.probeWatermark.UpdateWatermark(meta)
	if err != nil {
		return err
	}
	gcWatermark := min(probe, h.buildWatermark.CurrentWatermark())
	if gcWatermark == watermark.InitialWatermark {
		return nil
	}
	_, err = h.store.GarbageCollectSlicesAndWindows(gcWatermark.UnixMilli())
	return err
}

// WindowEmitted builds the probe progress information of an emitted window.
func (h *WindowBasedOperatorHandler) WindowEmitted(tw slicestore.TriggeredWindow) BatchMetadata {
	return BatchMetadata{
		Watermark:      watermark.Watermark(tw.Window.End),
		SequenceNumber: tw.SequenceNumber,
		ChunkNumber:    1,
		LastChunk:      true,
		OriginID:       h.outputOrigin,
	}
}

// Stop triggers the remaining windows when graceful, then deletes the state. The caller must have stopped feeding
// records before.
func (h *WindowBasedOperatorHandler) Stop(ctx context.Context, graceful bool) error {
	prev := State(h.state.Swap(int32(Stopped)))
	if prev == Stopped {
		return nil
	}
	var err error
	if graceful && prev == Running {
		h.flushing.Store(true)
		err = multierr.Append(err, h.TriggerAllWindows(ctx))
		h.flushing.Store(false)
	}
	err = multierr.Append(err, h.store.DeleteState())
	for _, fn := range h.onStop {
		err = multierr.Append(err, fn())
	}
	h.log.Infow("Operator handler stopped", zap.Bool("graceful", graceful), zap.Error(err))
	return err
}

// Store returns the slice store.
func (h *WindowBasedOperatorHandler) Store() *slicestore.SliceStore {
	return h.store
}

// Cache returns the slice cache, nil if disabled.
func (h *WindowBasedOperatorHandler) Cache() slicecache.Cache {
	return h.cache
}

// BuildWatermark returns the global watermark over the upstream origins.
func (h *WindowBasedOperatorHandler) BuildWatermark() watermark.Watermark {
	return h.buildWatermark.CurrentWatermark()
}

// ProbeWatermark returns the watermark of the emitted windows.
func (h *WindowBasedOperatorHandler) ProbeWatermark() watermark.Watermark {
	return h.probeWatermark.CurrentWatermark()
}
