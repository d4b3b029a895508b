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
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/shared/logging"
	"github.com/numaproj/numaslice/pkg/sliceerr"
)

// MultiOriginProcessor computes the global watermark over a fixed set of origins.
type MultiOriginProcessor struct {
	trackers map[OriginID]*sequenceTracker
	origins  []OriginID
	current  *atomic.Int64
	opts     *options
	log      *zap.SugaredLogger
}

// NewMultiOriginProcessor returns a processor which expects progress from every given origin.
func NewMultiOriginProcessor(ctx context.Context, origins []OriginID, opts ...Option) *MultiOriginProcessor {
	o := &options{
		operator: "default",
		kind:     "build",
	}
	for _, opt := range opts {
		opt(o)
	}
	p := &MultiOriginProcessor{
		trackers: make(map[OriginID]*sequenceTracker, len(origins)),
		current:  atomic.NewInt64(int64(InitialWatermark)),
		opts:     o,
		log:      logging.FromContext(ctx).With("operator", o.operator, "watermarkKind", o.kind),
	}
	for _, origin := range origins {
		if _, ok := p.trackers[origin]; ok {
			continue
		}
		p.trackers[origin] = newSequenceTracker()
		p.origins = append(p.origins, origin)
	}
	return p
}

// UpdateWatermark records the progress of a batch and returns the global watermark after the update.
func (p *MultiOriginProcessor) UpdateWatermark(meta BatchMetadata) (Watermark, error) {
	tracker, ok := p.trackers[meta.OriginID]
	if !ok {
		return p.CurrentWatermark(), sliceerr.ErrUnknownOrigin.WithCause(fmt.Errorf("origin %d", meta.OriginID))
	}
	if meta.SequenceNumber == 0 || meta.ChunkNumber == 0 {
		return p.CurrentWatermark(), sliceerr.New(sliceerr.Fatal, "watermark", "sequence and chunk numbers start at 1: "+meta.String())
	}

	switch tracker.update(meta) {
	case updateDuplicate:
		p.log.Debugw("Duplicate chunk ignored", zap.Uint64("origin", uint64(meta.OriginID)),
			zap.Uint64("sequence", meta.SequenceNumber), zap.Uint64("chunk", meta.ChunkNumber))
		return p.CurrentWatermark(), nil
	case updateRegressed:
		p.log.Debugw("Watermark regression clipped", zap.Uint64("origin", uint64(meta.OriginID)),
			zap.Int64("originWatermark", tracker.watermark().UnixMilli()), zap.Int64("batchWatermark", meta.Watermark.UnixMilli()))
		metrics.WatermarkRegressions.WithLabelValues(p.opts.operator, p.opts.kind).Inc()
	}
	return p.advance(), nil
}

// advance moves the global watermark to the minimum over all origins, never backwards.
func (p *MultiOriginProcessor) advance() Watermark {
	minWatermark := MaxWatermark
	for _, origin := range p.origins {
		minWatermark = min(minWatermark, p.trackers[origin].watermark())
	}
	if len(p.origins) == 0 {
		minWatermark = InitialWatermark
	}
	for {
		cur := p.current.Load()
		if int64(minWatermark) <= cur {
			return Watermark(cur)
		}
		if p.current.CompareAndSwap(cur, int64(minWatermark)) {
			metrics.Watermark.WithLabelValues(p.opts.operator, p.opts.kind).Set(float64(minWatermark))
			return minWatermark
		}
	}
}

// CurrentWatermark returns the global watermark.
func (p *MultiOriginProcessor) CurrentWatermark() Watermark {
	return Watermark(p.current.Load())
}

// OriginWatermark returns the watermark of a single origin.
func (p *MultiOriginProcessor) OriginWatermark(origin OriginID) (Watermark, error) {
	tracker, ok := p.trackers[origin]
	if !ok {
		return InitialWatermark, sliceerr.ErrUnknownOrigin.WithCause(fmt.Errorf("origin %d", origin))
	}
	return tracker.watermark(), nil
}

// Origins returns the origins the processor waits for.
func (p *MultiOriginProcessor) Origins() []OriginID {
	out := make([]OriginID, len(p.origins))
	copy(out, p.origins)
	return out
}
