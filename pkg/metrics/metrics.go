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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelVersion   = "version"
	LabelPlatform  = "platform"
	LabelOperator  = "operator"
	LabelKind      = "kind" // watermark kind, e.g. build, probe
	LabelPolicy    = "policy"
	LabelSide      = "side"
	LabelComponent = "component"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A metric with a constant value '1', labeled by numaslice binary version and platform",
	}, []string{LabelComponent, LabelVersion, LabelPlatform})
)

// Slice store metrics
var (
	// ActiveSlices is the number of slices held by a store
	ActiveSlices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "slicestore",
		Name:      "active_slices",
		Help:      "Number of slices in the store",
	}, []string{LabelOperator})

	// ActiveWindows is the number of window entries held by a store
	ActiveWindows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "slicestore",
		Name:      "active_windows",
		Help:      "Number of window entries in the store",
	}, []string{LabelOperator})

	// TriggeredWindows is the number of windows handed to the trigger
	TriggeredWindows = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "slicestore",
		Name:      "triggered_windows_total",
		Help:      "Total number of triggered windows",
	}, []string{LabelOperator})

	// LateRecords is the number of records rejected because all their windows were emitted
	LateRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "slicestore",
		Name:      "late_records_total",
		Help:      "Total number of records rejected as late",
	}, []string{LabelOperator})

	// DeletedSlices is the number of slices garbage collected
	DeletedSlices = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "slicestore",
		Name:      "deleted_slices_total",
		Help:      "Total number of garbage collected slices",
	}, []string{LabelOperator})
)

// Watermark metrics
var (
	// Watermark is the current watermark in milliseconds
	Watermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "watermark",
		Name:      "current",
		Help:      "Current watermark (milliseconds)",
	}, []string{LabelOperator, LabelKind})

	// WatermarkRegressions is the number of retired sequences whose timestamp was below the origin watermark
	WatermarkRegressions = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "watermark",
		Name:      "regressions_total",
		Help:      "Total number of clipped watermark regressions",
	}, []string{LabelOperator, LabelKind})
)

// Slice cache metrics
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "slicecache",
		Name:      "hits_total",
		Help:      "Total number of slice cache hits",
	}, []string{LabelOperator, LabelPolicy})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "slicecache",
		Name:      "misses_total",
		Help:      "Total number of slice cache misses",
	}, []string{LabelOperator, LabelPolicy})
)

// Operator metrics
var (
	// BuildRecords is the number of records added to slices
	BuildRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "operator",
		Name:      "build_records_total",
		Help:      "Total number of records added to slices",
	}, []string{LabelOperator, LabelSide})

	// EmittedResults is the number of results handed to the emitter
	EmittedResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "operator",
		Name:      "emitted_results_total",
		Help:      "Total number of emitted results",
	}, []string{LabelOperator})

	// TriggerProcessingTime is a histogram to observe the latency of triggering a window
	TriggerProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "operator",
		Name:      "trigger_processing_time",
		Help:      "Processing times of window triggers (100 microseconds to 10 minutes)",
		Buckets:   prometheus.ExponentialBucketsRange(100, 60000000*10, 10),
	}, []string{LabelOperator})
)

// Spill metrics
var (
	SpillBytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "spill",
		Name:      "write_bytes_total",
		Help:      "Total number of compressed bytes written to spill files",
	}, []string{LabelOperator})

	SpillBytesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "spill",
		Name:      "read_bytes_total",
		Help:      "Total number of uncompressed bytes read back from spill files",
	}, []string{LabelOperator})

	// SpillFiles is the number of spill files on disk
	SpillFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "spill",
		Name:      "files",
		Help:      "Number of spill files on disk",
	}, []string{LabelOperator})

	// WriterEvictions is the number of open writers closed to stay within the descriptor budget
	WriterEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "spill",
		Name:      "writer_evictions_total",
		Help:      "Total number of evicted spill file writers",
	}, []string{LabelOperator})

	// SpillErrors is the number of failed spill file operations
	SpillErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "spill",
		Name:      "error_total",
		Help:      "Total number of spill file errors",
	}, []string{LabelOperator})
)
