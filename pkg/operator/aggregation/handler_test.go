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

package aggregation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/numaproj/numaslice/pkg/operator"
	"github.com/numaproj/numaslice/pkg/sliceerr"
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

func newHandler(t *testing.T, size, slide int64, emitter Emitter, opts ...operator.Option) *Handler {
	assigner, err := window.NewSliceAssigner(size, slide)
	require.NoError(t, err)
	h, err := NewHandler(context.Background(), assigner, emitter, opts...)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() {
		_ = h.Stop(context.Background(), false)
	})
	return h
}

func TestHandler_TumblingTwoOrigins(t *testing.T) {
	c := newCollector()
	h := newHandler(t, 60_000, 60_000, c, operator.WithOrigins(0, 1), operator.WithNumberOfWorkerThreads(2))
	ctx := context.Background()

	require.NoError(t, h.Build(ctx, 0, batch(0, 1, 30_000,
		operator.Record{Timestamp: 1_000, Key: "a", Value: 3},
		operator.Record{Timestamp: 2_000, Key: "b", Value: 1})))
	require.NoError(t, h.Build(ctx, 1, batch(1, 1, 30_000,
		operator.Record{Timestamp: 59_999, Key: "a", Value: -2})))
	require.NoError(t, h.Build(ctx, 0, batch(0, 2, 70_000,
		operator.Record{Timestamp: 65_000, Key: "a", Value: 10})))
	assert.Empty(t, c.windows, "origin 1 has not passed the window end")

	require.NoError(t, h.Build(ctx, 1, batch(1, 2, 70_000)))
	require.Equal(t, []window.WindowInfo{{Start: 0, End: 60_000}}, c.windows)
	assert.Equal(t, []Result{
		{Window: window.WindowInfo{Start: 0, End: 60_000}, Key: "a", Count: 2, Sum: 1, Min: -2, Max: 3},
		{Window: window.WindowInfo{Start: 0, End: 60_000}, Key: "b", Count: 1, Sum: 1, Min: 1, Max: 1},
	}, c.results[60_000])

	// the same watermark again does not emit twice
	require.NoError(t, h.Build(ctx, 0, batch(0, 3, 70_000)))
	assert.Len(t, c.windows, 1)
}

func TestHandler_SlidingWindows(t *testing.T) {
	c := newCollector()
	h := newHandler(t, 10, 5, c, operator.WithNumberOfWorkerThreads(1))
	ctx := context.Background()

	require.NoError(t, h.Build(ctx, 0, batch(0, 1, 15,
		operator.Record{Timestamp: 1, Key: "k", Value: 1},
		operator.Record{Timestamp: 6, Key: "k", Value: 2},
		operator.Record{Timestamp: 11, Key: "k", Value: 4})))
	assert.Equal(t, []window.WindowInfo{{Start: 0, End: 10}, {Start: 5, End: 15}}, c.windows)
	assert.Equal(t, int64(3), c.results[10][0].Sum)
	assert.Equal(t, int64(6), c.results[15][0].Sum)

	// [0,5) is complete, the record is late and dropped
	require.NoError(t, h.Build(ctx, 0, batch(0, 2, 15, operator.Record{Timestamp: 2, Key: "k", Value: 100})))

	require.NoError(t, h.Stop(ctx, true))
	assert.Equal(t, window.WindowInfo{Start: 10, End: 20}, c.windows[2])
	assert.Equal(t, int64(4), c.results[20][0].Sum)
}

func TestHandler_ConcurrentWorkers(t *testing.T) {
	const workers = 4
	c := newCollector()
	origins := make([]watermark.OriginID, workers)
	for i := range origins {
		origins[i] = watermark.OriginID(i)
	}
	h := newHandler(t, 100, 50, c, operator.WithOrigins(origins...), operator.WithNumberOfWorkerThreads(workers))
	ctx := context.Background()

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			seq := uint64(1)
			for ts := int64(0); ts < 1000; ts += 10 {
				if err := h.Build(ctx, w, batch(watermark.OriginID(w), seq, ts,
					operator.Record{Timestamp: ts, Key: "k", Value: 1})); err != nil {
					return err
				}
				seq++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, h.Stop(ctx, true))

	c.lock.Lock()
	defer c.lock.Unlock()
	seen := make(map[int64]bool)
	for _, w := range c.windows {
		assert.False(t, seen[w.End], "window %s emitted twice", w)
		seen[w.End] = true
	}
	// every full window holds 10 timestamps per worker
	for end := int64(100); end <= 1000; end += 50 {
		require.Contains(t, c.results, end)
		assert.Equal(t, int64(10*workers), c.results[end][0].Count, "window ending at %d", end)
	}
}

func TestHandler_WorkerID(t *testing.T) {
	c := newCollector()
	h := newHandler(t, 10, 10, c, operator.WithNumberOfWorkerThreads(2))
	ctx := context.Background()

	err := h.Build(ctx, -1, batch(0, 1, 5, operator.Record{Timestamp: 1, Key: "a", Value: 1}))
	assert.ErrorIs(t, err, sliceerr.ErrInvalidWorkerID)
	assert.True(t, sliceerr.IsFatal(err))
	assert.Equal(t, 0, h.Store().NumberOfSlices())

	// ids beyond the worker threads wrap around
	require.NoError(t, h.Build(ctx, 3, batch(0, 1, 10, operator.Record{Timestamp: 1, Key: "a", Value: 1})))
	require.Len(t, c.windows, 1)
	require.Len(t, c.results[10], 1)
	assert.Equal(t, int64(1), c.results[10][0].Count)
}
