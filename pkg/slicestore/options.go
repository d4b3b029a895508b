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

package slicestore

import (
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/slicecache"
)

type options struct {
	// operator labels the metrics
	operator string
	// bothSides is true for join stores, where a window fills from two inputs
	bothSides bool
	cache     slicecache.Cache
	onDelete  func(slice.Slice) error
}

// Option to apply on the store.
type Option func(*options)

// WithOperator sets the operator id used in metrics.
func WithOperator(operator string) Option {
	return func(o *options) {
		o.operator = operator
	}
}

// WithBothSides makes new window entries wait for two input sides.
func WithBothSides() Option {
	return func(o *options) {
		o.bothSides = true
	}
}

// WithCache puts a slice cache in front of the store. A nil cache disables the fast path.
func WithCache(cache slicecache.Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithOnDelete sets a hook called for every garbage collected slice after it has been released, outside the
// store lock.
func WithOnDelete(fn func(slice.Slice) error) Option {
	return func(o *options) {
		o.onDelete = fn
	}
}
