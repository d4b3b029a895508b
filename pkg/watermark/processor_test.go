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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/numaproj/numaslice/pkg/sliceerr"
)

func meta(origin OriginID, seq uint64, wm int64) BatchMetadata {
	return BatchMetadata{
		Watermark:      Watermark(wm),
		SequenceNumber: seq,
		ChunkNumber:    1,
		LastChunk:      true,
		OriginID:       origin,
	}
}

func TestMultiOriginProcessor_SingleOrigin(t *testing.T) {
	p := NewMultiOriginProcessor(context.Background(), []OriginID{0})
	assert.Equal(t, InitialWatermark, p.CurrentWatermark())
	for i := uint64(1); i <= 1000; i++ {
		old := p.CurrentWatermark()
		assert.Less(t, int64(old), int64(i))
		wm, err := p.UpdateWatermark(meta(0, i, int64(i)))
		require.NoError(t, err)
		assert.Equal(t, Watermark(i), wm)
	}
	assert.Equal(t, Watermark(1000), p.CurrentWatermark())
}

func TestMultiOriginProcessor_OutOfOrderSequences(t *testing.T) {
	p := NewMultiOriginProcessor(context.Background(), []OriginID{1})
	wm, err := p.UpdateWatermark(meta(1, 3, 30))
	require.NoError(t, err)
	assert.Equal(t, InitialWatermark, wm)
	wm, _ = p.UpdateWatermark(meta(1, 2, 20))
	assert.Equal(t, InitialWatermark, wm)
	// the gap is closed, 1..3 retire at once
	wm, _ = p.UpdateWatermark(meta(1, 1, 10))
	assert.Equal(t, Watermark(30), wm)
}

func TestMultiOriginProcessor_Chunks(t *testing.T) {
	p := NewMultiOriginProcessor(context.Background(), []OriginID{1})
	update := func(seq, chunk uint64, last bool, ts int64) Watermark {
		wm, err := p.UpdateWatermark(BatchMetadata{Watermark: Watermark(ts), SequenceNumber: seq, ChunkNumber: chunk, LastChunk: last, OriginID: 1})
		require.NoError(t, err)
		return wm
	}
	assert.Equal(t, InitialWatermark, update(1, 2, false, 10))
	// last chunk seen but chunk 1 is missing
	assert.Equal(t, InitialWatermark, update(1, 3, true, 10))
	assert.Equal(t, Watermark(10), update(1, 1, false, 10))
	assert.Equal(t, Watermark(20), update(2, 1, true, 20))
}

func TestMultiOriginProcessor_MultipleOrigins(t *testing.T) {
	p := NewMultiOriginProcessor(context.Background(), []OriginID{1, 2})
	wm, _ := p.UpdateWatermark(meta(1, 1, 100))
	assert.Equal(t, InitialWatermark, wm)
	wm, _ = p.UpdateWatermark(meta(2, 1, 50))
	assert.Equal(t, Watermark(50), wm)
	wm, _ = p.UpdateWatermark(meta(2, 2, 150))
	assert.Equal(t, Watermark(100), wm)

	owm, err := p.OriginWatermark(2)
	require.NoError(t, err)
	assert.Equal(t, Watermark(150), owm)
	assert.Equal(t, []OriginID{1, 2}, p.Origins())
}

func TestMultiOriginProcessor_Errors(t *testing.T) {
	p := NewMultiOriginProcessor(context.Background(), []OriginID{1})
	_, err := p.UpdateWatermark(meta(7, 1, 10))
	assert.ErrorIs(t, err, sliceerr.ErrUnknownOrigin)
	assert.True(t, sliceerr.IsFatal(err))

	_, err = p.OriginWatermark(7)
	assert.ErrorIs(t, err, sliceerr.ErrUnknownOrigin)

	_, err = p.UpdateWatermark(meta(1, 0, 10))
	assert.True(t, sliceerr.IsFatal(err))
}

func TestMultiOriginProcessor_DuplicateAndRegression(t *testing.T) {
	p := NewMultiOriginProcessor(context.Background(), []OriginID{1}, WithOperator("test"), WithKind("probe"))
	wm, _ := p.UpdateWatermark(meta(1, 1, 100))
	assert.Equal(t, Watermark(100), wm)

	// duplicate of a retired sequence
	wm, err := p.UpdateWatermark(meta(1, 1, 500))
	require.NoError(t, err)
	assert.Equal(t, Watermark(100), wm)

	// a lower timestamp never moves the watermark backwards
	wm, err = p.UpdateWatermark(meta(1, 2, 40))
	require.NoError(t, err)
	assert.Equal(t, Watermark(100), wm)
	owm, _ := p.OriginWatermark(1)
	assert.Equal(t, Watermark(100), owm)

	wm, _ = p.UpdateWatermark(meta(1, 3, 120))
	assert.Equal(t, Watermark(120), wm)
}

func TestMultiOriginProcessor_ConcurrentMonotonic(t *testing.T) {
	const (
		updates = 10000
		threads = 8
		origins = 4
	)
	var ids []OriginID
	for o := 0; o < origins; o++ {
		ids = append(ids, OriginID(o))
	}
	p := NewMultiOriginProcessor(context.Background(), ids)
	counters := make([]*atomic.Uint64, origins)
	for i := range counters {
		counters[i] = atomic.NewUint64(0)
	}

	var g errgroup.Group
	for th := 0; th < threads; th++ {
		th := th
		g.Go(func() error {
			origin := th % origins
			last := InitialWatermark
			for i := 0; i < updates/threads; i++ {
				seq := counters[origin].Inc()
				wm, err := p.UpdateWatermark(meta(OriginID(origin), seq, int64(seq)))
				if err != nil {
					return err
				}
				if wm < last {
					t.Errorf("watermark decreased from %d to %d", last, wm)
				}
				last = wm
				if cur := p.CurrentWatermark(); cur < last {
					t.Errorf("current watermark %d below observed %d", cur, last)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// every origin got the same number of sequences
	assert.Equal(t, Watermark(updates/origins), p.CurrentWatermark())
}
