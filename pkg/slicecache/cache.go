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

// Package slicecache provides fixed capacity caches in front of the slice store, so the hot path resolves the
// slice of a record without taking the store lock.
package slicecache

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/sliceerr"
)

// Type is the eviction policy of a cache.
type Type int

const (
	None Type = iota
	FIFO
	LRU
	SecondChance
	TwoQueues
)

func (t Type) String() string {
	switch t {
	case None:
		return "NONE"
	case FIFO:
		return "FIFO"
	case LRU:
		return "LRU"
	case SecondChance:
		return "SECOND_CHANCE"
	case TwoQueues:
		return "TWO_QUEUES"
	default:
		return "UNKNOWN"
	}
}

// ParseType parses the configuration name of a policy, case insensitive.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return None, nil
	case "FIFO":
		return FIFO, nil
	case "LRU":
		return LRU, nil
	case "SECOND_CHANCE", "SECONDCHANCE":
		return SecondChance, nil
	case "TWO_QUEUES", "TWOQUEUES", "2Q":
		return TwoQueues, nil
	default:
		return None, sliceerr.New(sliceerr.Fatal, "slicecache", fmt.Sprintf("unknown slice cache type %q", s))
	}
}

// Cache maps a slice end to its slice.
type Cache interface {
	// Lookup returns the slice with the given end.
	Lookup(key int64) (slice.Slice, bool)
	// Insert adds the slice and returns the key of the entry evicted to make room, if any.
	Insert(key int64, s slice.Slice) (int64, bool)
	// Delete removes the key, a deleted slice is never returned again.
	Delete(key int64)
	// Stats returns the number of hits and misses.
	Stats() (uint64, uint64)
	Len() int
	Capacity() int
	Type() Type
}

type options struct {
	operator string
}

// Option to apply on the cache.
type Option func(*options)

// WithOperator sets the operator id used in metrics.
func WithOperator(operator string) Option {
	return func(o *options) {
		o.operator = operator
	}
}

// New returns a cache of the given type. It returns nil for None.
func New(t Type, capacity int, opts ...Option) (Cache, error) {
	if t == None {
		return nil, nil
	}
	if capacity <= 0 {
		return nil, sliceerr.New(sliceerr.Fatal, "slicecache", fmt.Sprintf("capacity must be positive, got %d", capacity))
	}
	o := &options{operator: "default"}
	for _, opt := range opts {
		opt(o)
	}
	s := newStats(t, o.operator)
	switch t {
	case FIFO:
		return newQueueCache(s, capacity, false), nil
	case LRU:
		return newQueueCache(s, capacity, true), nil
	case SecondChance:
		return newSecondChanceCache(s, capacity), nil
	case TwoQueues:
		return newTwoQueueCache(s, capacity), nil
	default:
		return nil, sliceerr.New(sliceerr.Fatal, "slicecache", fmt.Sprintf("unknown slice cache type %d", t))
	}
}

type stats struct {
	hits       *atomic.Uint64
	misses     *atomic.Uint64
	hitMetric  prometheus.Counter
	missMetric prometheus.Counter
}

func newStats(t Type, operator string) *stats {
	return &stats{
		hits:       atomic.NewUint64(0),
		misses:     atomic.NewUint64(0),
		hitMetric:  metrics.CacheHits.WithLabelValues(operator, t.String()),
		missMetric: metrics.CacheMisses.WithLabelValues(operator, t.String()),
	}
}

func (s *stats) record(hit bool) {
	if hit {
		s.hits.Inc()
		s.hitMetric.Inc()
		return
	}
	s.misses.Inc()
	s.missMetric.Inc()
}

func (s *stats) Stats() (uint64, uint64) {
	return s.hits.Load(), s.misses.Load()
}
