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

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/sliceerr"
)

// fileKey identifies a spill file.
type fileKey struct {
	sliceEnd int64
	threadID int
	side     slice.Side
}

// FileWriter appends blocks to a spill file. Blocks are staged in a buffer taken from the MemoryPool and written
// out when the buffer is full, on Flush and on Close. A writer is owned by a single worker thread.
type FileWriter struct {
	key      fileKey
	path     string
	fp       *os.File
	buf      []byte
	pool     *MemoryPool
	scratch  bytes.Buffer
	written  int64
	operator string
}

func openFileWriter(path string, key fileKey, buf []byte, pool *MemoryPool, operator string) (*FileWriter, error) {
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileWriter{
		key:      key,
		path:     path,
		fp:       fp,
		buf:      buf,
		pool:     pool,
		operator: operator,
	}, nil
}

// WriteBlock compresses the payload and appends it as one block.
func (w *FileWriter) WriteBlock(payload []byte) error {
	w.scratch.Reset()
	if err := encodeBlock(&w.scratch, payload); err != nil {
		return err
	}
	block := w.scratch.Bytes()
	if len(w.buf)+len(block) > cap(w.buf) {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if len(block) > cap(w.buf) {
		// larger than the staging buffer, write through
		return w.write(block)
	}
	w.buf = append(w.buf, block...)
	return nil
}

// Flush writes the staged blocks to the file.
func (w *FileWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.write(w.buf)
	w.buf = w.buf[:0]
	return err
}

func (w *FileWriter) write(data []byte) error {
	n, err := w.fp.Write(data)
	w.written += int64(n)
	metrics.SpillBytesWritten.WithLabelValues(w.operator).Add(float64(n))
	if err != nil {
		metrics.SpillErrors.WithLabelValues(w.operator).Inc()
		return sliceerr.Wrap(sliceerr.Resource, "spill", err)
	}
	return nil
}

// Close flushes the staged blocks, closes the file and returns the buffer to the pool.
func (w *FileWriter) Close() error {
	if w.fp == nil {
		return nil
	}
	err := w.Flush()
	if cerr := w.fp.Close(); cerr != nil && err == nil {
		metrics.SpillErrors.WithLabelValues(w.operator).Inc()
		err = sliceerr.Wrap(sliceerr.Resource, "spill", cerr)
	}
	w.fp = nil
	w.pool.Put(w.buf)
	w.buf = nil
	return err
}

// Path returns the path of the spill file.
func (w *FileWriter) Path() string {
	return w.path
}

// BytesWritten returns the number of bytes written to the file by this writer.
func (w *FileWriter) BytesWritten() int64 {
	return w.written
}

// FileReader reads the blocks of a spill file back.
type FileReader struct {
	path     string
	threadID int
	fp       *os.File
	reader   *bufio.Reader
	operator string
}

func openFileReader(path string, threadID int, bufferSize int, operator string) (*FileReader, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileReader{
		path:     path,
		threadID: threadID,
		fp:       fp,
		reader:   bufio.NewReaderSize(fp, max(bufferSize, 4096)),
		operator: operator,
	}, nil
}

// ReadBlock returns the next decompressed block, io.EOF after the last one.
func (r *FileReader) ReadBlock() ([]byte, error) {
	payload, err := decodeBlock(r.reader)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			metrics.SpillErrors.WithLabelValues(r.operator).Inc()
		}
		return nil, err
	}
	metrics.SpillBytesRead.WithLabelValues(r.operator).Add(float64(len(payload)))
	return payload, nil
}

// ThreadID returns the worker thread which wrote the file.
func (r *FileReader) ThreadID() int {
	return r.threadID
}

// Path returns the path of the spill file.
func (r *FileReader) Path() string {
	return r.path
}

// Close closes the file.
func (r *FileReader) Close() error {
	return r.fp.Close()
}
