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

// Package watermark merges the progress reported by several origins into one monotonically increasing watermark.
//
// Every origin sends its records in numbered sequences, a sequence may be cut into numbered chunks. A sequence
// retires once all of its chunks have been seen and all lower sequences have retired. The watermark of an origin is
// the largest timestamp over its retired prefix, the global watermark is the minimum over all origins.
package watermark

import (
	"fmt"
	"math"
)

// Watermark is the monotonically increasing event time (milliseconds) below which no more data is expected.
type Watermark int64

// InitialWatermark is the watermark before any progress has been made.
const InitialWatermark = Watermark(-1)

// MaxWatermark is larger than any real watermark, it is used when flushing on shutdown.
const MaxWatermark = Watermark(math.MaxInt64)

func (w Watermark) String() string {
	return fmt.Sprintf("%d", int64(w))
}

// UnixMilli returns the watermark as milliseconds.
func (w Watermark) UnixMilli() int64 {
	return int64(w)
}

// OriginID identifies a source of progress.
type OriginID uint64

// BatchMetadata is the progress information attached to every batch of records.
type BatchMetadata struct {
	// Watermark is the event time the origin guarantees once this sequence retires.
	Watermark Watermark
	// SequenceNumber starts at 1 per origin.
	SequenceNumber uint64
	// ChunkNumber starts at 1 per sequence.
	ChunkNumber uint64
	// LastChunk marks the last chunk of the sequence.
	LastChunk bool
	OriginID  OriginID
}

func (m BatchMetadata) String() string {
	return fmt.Sprintf("origin=%d seq=%d chunk=%d last=%t wm=%d", m.OriginID, m.SequenceNumber, m.ChunkNumber, m.LastChunk, m.Watermark)
}
