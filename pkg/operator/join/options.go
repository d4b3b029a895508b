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
	"github.com/numaproj/numaslice/pkg/hashmap"
	"github.com/numaproj/numaslice/pkg/operator"
	"github.com/numaproj/numaslice/pkg/spill"
	"github.com/numaproj/numaslice/pkg/watermark"
)

type options struct {
	leftOrigins               []watermark.OriginID
	rightOrigins              []watermark.OriginID
	spill                     *spill.FileDescriptorManager
	maxResidentBytesPerWorker int64
	hashMapOpts               []hashmap.Option
	handlerOpts               []operator.Option
}

// Option to apply on the join handler.
type Option func(*options)

// WithLeftOrigins sets the origins of the left input.
func WithLeftOrigins(origins ...watermark.OriginID) Option {
	return func(o *options) {
		o.leftOrigins = origins
	}
}

// WithRightOrigins sets the origins of the right input.
func WithRightOrigins(origins ...watermark.OriginID) Option {
	return func(o *options) {
		o.rightOrigins = origins
	}
}

// WithSpill spills the state of a worker thread once it holds more than maxResidentBytesPerWorker bytes.
func WithSpill(manager *spill.FileDescriptorManager, maxResidentBytesPerWorker int64) Option {
	return func(o *options) {
		o.spill = manager
		o.maxResidentBytesPerWorker = maxResidentBytesPerWorker
	}
}

// WithHashMapOptions sets the options of the per thread hash maps.
func WithHashMapOptions(opts ...hashmap.Option) Option {
	return func(o *options) {
		o.hashMapOpts = opts
	}
}

// WithHandlerOptions passes options to the underlying operator handler.
func WithHandlerOptions(opts ...operator.Option) Option {
	return func(o *options) {
		o.handlerOpts = append(o.handlerOpts, opts...)
	}
}
