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

// Package spill writes slice state out to files and reads it back, within a bounded number of open file
// descriptors and a bounded number of write buffers.
package spill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/shared/logging"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/sliceerr"
)

const (
	// reservedFileDescriptors are kept for sockets, logs and other subsystems
	reservedFileDescriptors = 32
	fileSuffix              = ".spill"

	defaultMaxNumFileDescriptors = 1024
	defaultBufferSize            = 64 * 1024
	defaultBuffersPerWorker      = 4
)

// threadWriters are the open writers of one worker thread in least recently used order.
type threadWriters struct {
	lock    sync.Mutex
	writers *simplelru.LRU[fileKey, *FileWriter]
	// evictErr collects the errors of writers closed by the LRU
	evictErr error
}

// FileDescriptorManager hands out spill file writers and readers. Every worker thread owns a share of the usable
// file descriptors and of the write buffers, opening one more writer than the share closes the least recently used
// writer of that thread.
type FileDescriptorManager struct {
	dir                   string
	prefix                string
	operator              string
	maxNumFileDescriptors uint64
	bufferSize            int
	buffersPerWorker      int
	numberOfWorkers       int
	writersPerThread      int
	pool                  *MemoryPool
	threads               []*threadWriters
	filesLock             sync.Mutex
	files                 map[fileKey]struct{}
	log                   *zap.SugaredLogger
}

// NewFileDescriptorManager creates the working directory, raises the descriptor limit and splits the usable
// descriptors among numberOfWorkers threads.
func NewFileDescriptorManager(ctx context.Context, numberOfWorkers int, opts ...Option) (*FileDescriptorManager, error) {
	if numberOfWorkers <= 0 {
		return nil, sliceerr.ErrWorkerThreadsNotSet
	}
	m := &FileDescriptorManager{
		dir:                   os.TempDir(),
		prefix:                uuid.New().String(),
		operator:              "default",
		maxNumFileDescriptors: defaultMaxNumFileDescriptors,
		bufferSize:            defaultBufferSize,
		buffersPerWorker:      defaultBuffersPerWorker,
		numberOfWorkers:       numberOfWorkers,
		files:                 make(map[fileKey]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.FromContext(ctx).With("operator", m.operator, "spillDir", m.dir)

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, sliceerr.Wrap(sliceerr.Resource, "spill", err)
	}
	usable, err := SetFileDescriptorLimit(m.maxNumFileDescriptors)
	if err != nil {
		return nil, err
	}
	m.buffersPerWorker = max(1, m.buffersPerWorker)
	// a thread never holds more buffers than its share of the pool, so every thread can always open a writer
	m.writersPerThread = max(1, min(int(usable)/numberOfWorkers, m.buffersPerWorker))
	m.pool = NewMemoryPool(m.bufferSize, m.buffersPerWorker, numberOfWorkers)
	m.threads = make([]*threadWriters, numberOfWorkers)
	for i := range m.threads {
		tw := &threadWriters{}
		// the eviction callback runs with tw.lock held
		tw.writers, _ = simplelru.NewLRU[fileKey, *FileWriter](m.writersPerThread, func(key fileKey, w *FileWriter) {
			if err := w.Close(); err != nil {
				tw.evictErr = multierr.Append(tw.evictErr, err)
			}
		})
		m.threads[i] = tw
	}
	m.log.Infow("Spill file descriptor manager created", zap.Uint64("usableFileDescriptors", usable),
		zap.Int("writersPerThread", m.writersPerThread), zap.Int("buffers", m.pool.Capacity()))
	return m, nil
}

func (m *FileDescriptorManager) fileName(key fileKey) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s_%d_%d_%d%s", m.prefix, key.sliceEnd, key.threadID, key.side, fileSuffix))
}

func (m *FileDescriptorManager) thread(threadID int) *threadWriters {
	return m.threads[threadID%m.numberOfWorkers]
}

// takeEvictErr returns and clears the errors of evicted writers.
func (tw *threadWriters) takeEvictErr() error {
	err := tw.evictErr
	tw.evictErr = nil
	if err != nil {
		return sliceerr.Wrap(sliceerr.Resource, "spill", err)
	}
	return nil
}

// GetFileWriter returns the open writer of the spill file for the slice, thread and side, opening it if needed.
func (m *FileDescriptorManager) GetFileWriter(sliceEnd int64, threadID int, side slice.Side) (*FileWriter, error) {
	key := fileKey{sliceEnd: sliceEnd, threadID: threadID, side: side}
	tw := m.thread(threadID)
	tw.lock.Lock()
	defer tw.lock.Unlock()

	if w, ok := tw.writers.Get(key); ok {
		return w, nil
	}

	buf, ok := m.pool.Get()
	for !ok {
		if tw.writers.Len() == 0 {
			return nil, sliceerr.ErrNoBufferAvailable.WithCause(fmt.Errorf("thread %d holds no writer to evict", threadID))
		}
		tw.writers.RemoveOldest()
		metrics.WriterEvictions.WithLabelValues(m.operator).Inc()
		if err := tw.takeEvictErr(); err != nil {
			return nil, err
		}
		buf, ok = m.pool.Get()
	}

	w, err := openFileWriter(m.fileName(key), key, buf, m.pool, m.operator)
	if err != nil {
		m.pool.Put(buf)
		metrics.SpillErrors.WithLabelValues(m.operator).Inc()
		return nil, sliceerr.Wrap(sliceerr.Resource, "spill", err)
	}
	m.trackFile(key)

	if evicted := tw.writers.Add(key, w); evicted {
		metrics.WriterEvictions.WithLabelValues(m.operator).Inc()
		if err := tw.takeEvictErr(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (m *FileDescriptorManager) trackFile(key fileKey) {
	m.filesLock.Lock()
	defer m.filesLock.Unlock()
	if _, ok := m.files[key]; !ok {
		m.files[key] = struct{}{}
		metrics.SpillFiles.WithLabelValues(m.operator).Inc()
	}
}

// closeWriter closes the open writer of the key, if any.
func (m *FileDescriptorManager) closeWriter(key fileKey) error {
	tw := m.thread(key.threadID)
	tw.lock.Lock()
	defer tw.lock.Unlock()
	tw.writers.Remove(key)
	return tw.takeEvictErr()
}

// GetFileReader closes the writer of the spill file and opens the file for reading. It returns false if the
// thread never spilled the side of the slice.
func (m *FileDescriptorManager) GetFileReader(sliceEnd int64, threadID int, side slice.Side) (*FileReader, bool, error) {
	key := fileKey{sliceEnd: sliceEnd, threadID: threadID, side: side}
	if err := m.closeWriter(key); err != nil {
		return nil, false, err
	}
	r, err := openFileReader(m.fileName(key), threadID, m.bufferSize, m.operator)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		metrics.SpillErrors.WithLabelValues(m.operator).Inc()
		return nil, false, sliceerr.Wrap(sliceerr.Resource, "spill", err)
	}
	return r, true, nil
}

// GetFileReaders returns the readers of every build thread t with t mod probeThreads == probeThread, so each of
// the probe threads reads a disjoint share of the files of a slice.
func (m *FileDescriptorManager) GetFileReaders(sliceEnd int64, probeThread int, probeThreads int, side slice.Side) ([]*FileReader, error) {
	if probeThreads <= 0 {
		return nil, sliceerr.ErrWorkerThreadsNotSet
	}
	var readers []*FileReader
	for t := 0; t < m.numberOfWorkers; t++ {
		if t%probeThreads != probeThread {
			continue
		}
		r, ok, err := m.GetFileReader(sliceEnd, t, side)
		if err != nil {
			for _, open := range readers {
				_ = open.Close()
			}
			return nil, err
		}
		if ok {
			readers = append(readers, r)
		}
	}
	return readers, nil
}

// DeleteSliceFiles closes the writers of the slice and removes its spill files.
func (m *FileDescriptorManager) DeleteSliceFiles(sliceEnd int64) error {
	var err error
	for _, tw := range m.threads {
		tw.lock.Lock()
		for _, key := range tw.writers.Keys() {
			if key.sliceEnd == sliceEnd {
				tw.writers.Remove(key)
			}
		}
		err = multierr.Append(err, tw.takeEvictErr())
		tw.lock.Unlock()
	}
	err = multierr.Append(err, m.removeFiles(m.prefix+"_"+strconv.FormatInt(sliceEnd, 10)+"_*"+fileSuffix, func(key fileKey) bool {
		return key.sliceEnd == sliceEnd
	}))
	return err
}

func (m *FileDescriptorManager) removeFiles(pattern string, match func(fileKey) bool) error {
	paths, err := filepath.Glob(filepath.Join(m.dir, pattern))
	if err != nil {
		return sliceerr.Wrap(sliceerr.Fatal, "spill", err)
	}
	for _, path := range paths {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			metrics.SpillErrors.WithLabelValues(m.operator).Inc()
			err = multierr.Append(err, sliceerr.Wrap(sliceerr.Resource, "spill", rerr))
		}
	}

	m.filesLock.Lock()
	defer m.filesLock.Unlock()
	for key := range m.files {
		if match(key) {
			delete(m.files, key)
			metrics.SpillFiles.WithLabelValues(m.operator).Dec()
		}
	}
	return err
}

// Close closes every writer and removes every spill file of this manager.
func (m *FileDescriptorManager) Close() error {
	var err error
	for _, tw := range m.threads {
		tw.lock.Lock()
		tw.writers.Purge()
		err = multierr.Append(err, tw.takeEvictErr())
		tw.lock.Unlock()
	}
	err = multierr.Append(err, m.removeFiles(m.prefix+"_*"+fileSuffix, func(fileKey) bool { return true }))
	m.log.Infow("Spill file descriptor manager closed")
	return err
}

// NumberOfOpenWriters returns the number of open writers of the thread.
func (m *FileDescriptorManager) NumberOfOpenWriters(threadID int) int {
	tw := m.thread(threadID)
	tw.lock.Lock()
	defer tw.lock.Unlock()
	return tw.writers.Len()
}

// WritersPerThread returns the open writer budget of a thread.
func (m *FileDescriptorManager) WritersPerThread() int {
	return m.writersPerThread
}

// Pool returns the buffer pool of the manager.
func (m *FileDescriptorManager) Pool() *MemoryPool {
	return m.pool
}

// SpillFiles returns the paths of the spill files of the slice.
func (m *FileDescriptorManager) SpillFiles(sliceEnd int64) []string {
	paths, _ := filepath.Glob(filepath.Join(m.dir, m.prefix+"_"+strconv.FormatInt(sliceEnd, 10)+"_*"+fileSuffix))
	return paths
}
