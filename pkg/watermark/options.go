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

type options struct {
	// operator labels the metrics
	operator string
	// kind labels the metrics, e.g. build or probe
	kind string
}

// Option to apply on the processor.
type Option func(*options)

// WithOperator sets the operator id used in metrics.
func WithOperator(operator string) Option {
	return func(o *options) {
		o.operator = operator
	}
}

// WithKind sets the watermark kind used in metrics.
func WithKind(kind string) Option {
	return func(o *options) {
		o.kind = kind
	}
}
