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

// MemoryPool is a fixed set of equally sized write buffers shared by all spill file writers. Taking a buffer never
// blocks.
type MemoryPool struct {
	buffers    chan []byte
	bufferSize int
}

// NewMemoryPool returns a pool of buffersPerWorker * workers buffers of bufferSize bytes each.
func NewMemoryPool(bufferSize int, buffersPerWorker int, workers int) *MemoryPool {
	n := max(1, buffersPerWorker*workers)
	p := &MemoryPool{
		buffers:    make(chan []byte, n),
		bufferSize: bufferSize,
	}
	for i := 0; i < n; i++ {
		p.buffers <- make([]byte, 0, bufferSize)
	}
	return p
}

// Get returns a free buffer, or false if all buffers are in use.
func (p *MemoryPool) Get() ([]byte, bool) {
	select {
	case buf := <-p.buffers:
		return buf[:0], true
	default:
		return nil, false
	}
}

// Put returns a buffer to the pool.
func (p *MemoryPool) Put(buf []byte) {
	select {
	case p.buffers <- buf[:0]:
	default:
		// not one of ours
	}
}

// Available returns the number of free buffers.
func (p *MemoryPool) Available() int {
	return len(p.buffers)
}

// Capacity returns the total number of buffers.
func (p *MemoryPool) Capacity() int {
	return cap(p.buffers)
}

// BufferSize returns the size of a buffer.
func (p *MemoryPool) BufferSize() int {
	return p.bufferSize
}
