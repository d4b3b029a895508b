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

package spill

// Option to apply on the FileDescriptorManager.
type Option func(m *FileDescriptorManager)

// WithWorkingDirectory sets the directory spill files are written to
func WithWorkingDirectory(dir string) Option {
	return func(m *FileDescriptorManager) {
		m.dir = dir
	}
}

// WithMaxNumFileDescriptors sets the process wide number of file descriptors to aim for
func WithMaxNumFileDescriptors(n uint64) Option {
	return func(m *FileDescriptorManager) {
		m.maxNumFileDescriptors = n
	}
}

// WithBufferSize sets the size of a write buffer
func WithBufferSize(size int) Option {
	return func(m *FileDescriptorManager) {
		m.bufferSize = size
	}
}

// WithBuffersPerWorker sets the number of write buffers per worker thread
func WithBuffersPerWorker(n int) Option {
	return func(m *FileDescriptorManager) {
		m.buffersPerWorker = n
	}
}

// WithFilePrefix sets the prefix of the spill file names
func WithFilePrefix(prefix string) Option {
	return func(m *FileDescriptorManager) {
		m.prefix = prefix
	}
}

// WithOperator sets the operator id used in metrics
func WithOperator(operator string) Option {
	return func(m *FileDescriptorManager) {
		m.operator = operator
	}
}
