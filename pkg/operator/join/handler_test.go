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

package join

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/numaproj/numaslice/pkg/operator"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/slicecache"
	"github.com/numaproj/numaslice/pkg/sliceerr"
	"github.com/numaproj/numaslice/pkg/spill"
	"github.com/numaproj/numaslice/pkg/watermark"
	"github.com/numaproj/numaslice/pkg/window"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	lock    sync.Mutex
	windows []window.WindowInfo
	results map[int64][]Result
}

func newCollector() *collector {
	return &collector{results: make(map[int64][]Result)}
}

func (c *collector) Emit(_ context.Context, w window.WindowInfo, results []Result) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	sort.Slice(results, func(i, j int) bool {
		if results[i].LeftTimestamp != results[j].LeftTimestamp {
			return results[i].LeftTimestamp < results[j].LeftTimestamp
		}
		return results[i].RightTimestamp < results[j].RightTimestamp
	})
	c.windows = append(c.windows, w)
	c.results[w.End] = results
	return nil
}

func batch(origin watermark.OriginID, seq uint64, wm int64, records ...operator.Record) operator.Batch {
	return operator.Batch{
		Metadata: watermark.BatchMetadata{
			Watermark:      watermark.Watermark(wm),
			SequenceNumber: seq,
			ChunkNumber:    1,
			LastChunk:      true,
			OriginID:       origin,
		},
		Records: records,
	}
}

func newHandler(t *testing.T, size, slide int64, emitter Emitter, opts ...Option) *Handler {
	assigner, err := window.NewSliceAssigner(size, slide)
	require.NoError(t, err)
	opts = append([]Option{
		WithLeftOrigins(0),
		WithRightOrigins(1),
		WithHandlerOptions(operator.WithNumberOfWorkerThreads(2)),
	}, opts...)
	h, err := NewHandler(context.Background(), assigner, emitter, opts...)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() {
		_ = h.Stop(context.Background(), false)
	})
	return h
}

func TestNewHandler_Origins(t *testing.T) {
	assigner, err := window.NewSliceAssigner(10, 10)
	require.NoError(t, err)
	_, err = NewHandler(context.Background(), assigner, newCollector(), WithLeftOrigins(0), WithRightOrigins(0))
	assert.True(t, sliceerr.IsFatal(err))
	_, err = NewHandler(context.Background(), assigner, newCollector(), WithLeftOrigins())
	assert.True(t, sliceerr.IsFatal(err))
}

func TestHandler_TumblingJoin(t *testing.T) {
	c := newCollector()
	h := newHandler(t, 10, 10, c)
	ctx := context.Background()

	require.NoError(t, h.Build(ctx, 0, slice.Left, batch(0, 1, 5,
		operator.Record{Timestamp: 1, Key: "a", Value: 1},
		operator.Record{Timestamp: 2, Key: "b", Value: 2},
		operator.Record{Timestamp: 3, Key: "a", Value: 3})))
	require.NoError(t, h.Build(ctx, 1, slice.Right, batch(1, 1, 5,
		operator.Record{Timestamp: 4, Key: "a", Value: 10},
		operator.Record{Timestamp: 12, Key: "a", Value: 20})))

	state, ok := h.Store().WindowState(10)
	require.True(t, ok)
	assert.Equal(t, window.BothSidesFilling, state)

	require.NoError(t, h.Build(ctx, 0, slice.Left, batch(0, 2, 10)))
	state, _ = h.Store().WindowState(10)
	assert.Equal(t, window.OneSideFilling, state)
	assert.Equal(t, watermark.Watermark(10), h.SideWatermark(slice.Left))
	assert.Empty(t, c.windows)

	require.NoError(t, h.Build(ctx, 1, slice.Right, batch(1, 2, 10)))
	require.Equal(t, []window.WindowInfo{{Start: 0, End: 10}}, c.windows)
	w := window.WindowInfo{Start: 0, End: 10}
	assert.Equal(t, []Result{
		{Window: w, Key: "a", LeftTimestamp: 1, LeftValue: 1, RightTimestamp: 4, RightValue: 10},
		{Window: w, Key: "a", LeftTimestamp: 3, LeftValue: 3, RightTimestamp: 4, RightValue: 10},
	}, c.results[10])

	// the right record of [10,20) has no partner
	require.NoError(t, h.Stop(ctx, true))
	assert.Empty(t, c.results[20])
}

func TestHandler_SlidingJoinAcrossSlices(t *testing.T) {
	c := newCollector()
	h := newHandler(t, 10, 5, c)
	ctx := context.Background()

	require.NoError(t, h.Build(ctx, 0, slice.Left, batch(0, 1, 0,
		operator.Record{Timestamp: 2, Key: "k", Value: 1},
		operator.Record{Timestamp: 7, Key: "k", Value: 2})))
	require.NoError(t, h.Build(ctx, 1, slice.Right, batch(1, 1, 0,
		operator.Record{Timestamp: 8, Key: "k", Value: 3},
		operator.Record{Timestamp: 13, Key: "k", Value: 4})))
	require.NoError(t, h.Build(ctx, 0, slice.Left, batch(0, 2, 15)))
	require.NoError(t, h.Build(ctx, 1, slice.Right, batch(1, 2, 15)))

	require.Equal(t, []window.WindowInfo{{Start: 0, End: 10}, {Start: 5, End: 15}}, c.windows)
	// [0,10): 2x8, 7x8
	assert.Len(t, c.results[10], 2)
	// [5,15): 7x8, 7x13
	require.Len(t, c.results[15], 2)
	assert.Equal(t, int64(7), c.results[15][0].LeftTimestamp)
	assert.Equal(t, int64(8), c.results[15][0].RightTimestamp)
	assert.Equal(t, int64(13), c.results[15][1].RightTimestamp)
}

func TestHandler_SpillAndRestore(t *testing.T) {
	manager, err := spill.NewFileDescriptorManager(context.Background(), 2,
		spill.WithWorkingDirectory(t.TempDir()), spill.WithFilePrefix("join"), spill.WithBufferSize(128))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = manager.Close()
	})

	c := newCollector()
	h := newHandler(t, 10, 10, c, WithSpill(manager, 1))
	ctx := context.Background()

	var left, right []operator.Record
	for i := int64(0); i < 5; i++ {
		left = append(left, operator.Record{Timestamp: i, Key: "k", Value: i})
		right = append(right, operator.Record{Timestamp: i + 5, Key: "k", Value: i})
	}
	require.NoError(t, h.Build(ctx, 0, slice.Left, batch(0, 1, 5, left...)))
	require.NoError(t, h.Build(ctx, 1, slice.Right, batch(1, 1, 5, right...)))
	assert.Len(t, manager.SpillFiles(10), 2)
	s, ok := h.Store().GetSliceBySliceEnd(10)
	require.True(t, ok)
	js := s.(*slice.JoinSlice)
	assert.Equal(t, 0, js.NumberOfTuples(slice.Left))
	assert.Equal(t, 0, js.NumberOfTuples(slice.Right))

	require.NoError(t, h.Build(ctx, 0, slice.Left, batch(0, 2, 10)))
	require.NoError(t, h.Build(ctx, 1, slice.Right, batch(1, 2, 10)))
	require.Equal(t, []window.WindowInfo{{Start: 0, End: 10}}, c.windows)
	assert.Len(t, c.results[10], 25)
	assert.Empty(t, manager.SpillFiles(10))
}

func TestHandler_ConcurrentSidesWithSpill(t *testing.T) {
	manager, err := spill.NewFileDescriptorManager(context.Background(), 2,
		spill.WithWorkingDirectory(t.TempDir()), spill.WithFilePrefix("join"), spill.WithBufferSize(256))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = manager.Close()
	})

	c := newCollector()
	h := newHandler(t, 10, 10, c, WithSpill(manager, 2000),
		WithHandlerOptions(operator.WithSliceCache(slicecache.TwoQueues, 4)))
	ctx := context.Background()

	build := func(workerID int, side slice.Side, origin watermark.OriginID) error {
		for i := int64(0); i < 200; i++ {
			records := make([]operator.Record, 3)
			for r := range records {
				records[r] = operator.Record{Timestamp: i, Key: "k", Value: i}
			}
			if err := h.Build(ctx, workerID, side, batch(origin, uint64(i+1), i, records...)); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	g.Go(func() error { return build(0, slice.Left, 0) })
	g.Go(func() error { return build(1, slice.Right, 1) })
	require.NoError(t, g.Wait())
	require.NoError(t, h.Stop(ctx, true))

	c.lock.Lock()
	defer c.lock.Unlock()
	assert.Len(t, c.windows, 20)
	total := 0
	for end, results := range c.results {
		// 30 left tuples joined with 30 right tuples
		assert.Len(t, results, 900, "window ending at %d", end)
		total += len(results)
	}
	assert.Equal(t, 18000, total)
}

func TestHandler_WrongSideOrigin(t *testing.T) {
	h := newHandler(t, 10, 10, newCollector())
	err := h.Build(context.Background(), 0, slice.Left, batch(1, 1, 5))
	assert.ErrorIs(t, err, sliceerr.ErrUnknownOrigin)
}

func TestHandler_NotStarted(t *testing.T) {
	assigner, err := window.NewSliceAssigner(10, 10)
	require.NoError(t, err)
	h, err := NewHandler(context.Background(), assigner, newCollector())
	require.NoError(t, err)
	err = h.Build(context.Background(), 0, slice.Left, batch(0, 1, 5))
	assert.ErrorIs(t, err, sliceerr.ErrNotStarted)
}

func TestHandler_NegativeWorkerID(t *testing.T) {
	h := newHandler(t, 10, 10, newCollector())
	err := h.Build(context.Background(), -1, slice.Left, batch(0, 1, 5, operator.Record{Timestamp: 1, Key: "a", Value: 1}))
	assert.ErrorIs(t, err, sliceerr.ErrInvalidWorkerID)
	assert.Equal(t, 0, h.Store().NumberOfSlices())
}
