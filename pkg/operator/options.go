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

package operator

import (
	"github.com/google/uuid"

	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/slicecache"
	"github.com/numaproj/numaslice/pkg/watermark"
)

type options struct {
	// id labels the logs and metrics of the operator
	id string
	// origins are the upstream origins the build watermark waits for
	origins []watermark.OriginID
	// outputOrigin is the origin of the triggered windows, used by the probe watermark
	outputOrigin    watermark.OriginID
	cacheType       slicecache.Type
	cacheEntries    int
	bothSides       bool
	onDelete        func(slice.Slice) error
	onStop          []func() error
	numberOfWorkers int
}

// Option to apply on the handler.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		id:           uuid.New().String(),
		origins:      []watermark.OriginID{0},
		outputOrigin: 0,
		cacheType:    slicecache.None,
	}
}

// WithOperatorID sets the operator id used in logs and metrics.
func WithOperatorID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithOrigins sets the upstream origins.
func WithOrigins(origins ...watermark.OriginID) Option {
	return func(o *options) {
		o.origins = origins
	}
}

// WithOutputOrigin sets the origin of the windows emitted by the operator.
func WithOutputOrigin(origin watermark.OriginID) Option {
	return func(o *options) {
		o.outputOrigin = origin
	}
}

// WithSliceCache puts a slice cache of the given type and size in front of the slice store.
func WithSliceCache(t slicecache.Type, entries int) Option {
	return func(o *options) {
		o.cacheType = t
		o.cacheEntries = entries
	}
}

// WithBothSides makes windows fill from two inputs.
func WithBothSides() Option {
	return func(o *options) {
		o.bothSides = true
	}
}

// WithOnDelete sets a hook called for every garbage collected slice.
func WithOnDelete(fn func(slice.Slice) error) Option {
	return func(o *options) {
		o.onDelete = fn
	}
}

// WithOnStop adds a hook called once the state has been deleted on Stop.
func WithOnStop(fn func() error) Option {
	return func(o *options) {
		o.onStop = append(o.onStop, fn)
	}
}

// WithNumberOfWorkerThreads sets the worker threads up front, same as calling SetWorkerThreads.
func WithNumberOfWorkerThreads(n int) Option {
	return func(o *options) {
		o.numberOfWorkers = n
	}
}
