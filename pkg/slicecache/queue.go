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

package slicecache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/numaproj/numaslice/pkg/slice"
)

// queueCache is a FIFO or an LRU cache. Both evict the oldest entry of the queue, the LRU cache moves an entry to
// the front on every hit while the FIFO cache keeps the insertion order.
type queueCache struct {
	*stats
	lock     sync.Mutex
	queue    *simplelru.LRU[int64, slice.Slice]
	capacity int
	refresh  bool
}

func newQueueCache(s *stats, capacity int, refresh bool) *queueCache {
	// NewLRU only fails on a non positive size
	queue, _ := simplelru.NewLRU[int64, slice.Slice](capacity, nil)
	return &queueCache{
		stats:    s,
		queue:    queue,
		capacity: capacity,
		refresh:  refresh,
	}
}

func (c *queueCache) Lookup(key int64) (slice.Slice, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	var (
		s  slice.Slice
		ok bool
	)
	if c.refresh {
		s, ok = c.queue.Get(key)
	} else {
		s, ok = c.queue.Peek(key)
	}
	c.record(ok)
	return s, ok
}

func (c *queueCache) Insert(key int64, s slice.Slice) (int64, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.queue.Contains(key) {
		if c.refresh {
			c.queue.Add(key, s)
		}
		return 0, false
	}
	evictedKey, evicted := evictOldest(c.queue, c.capacity)
	c.queue.Add(key, s)
	return evictedKey, evicted
}

func (c *queueCache) Delete(key int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.queue.Remove(key)
}

func (c *queueCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.queue.Len()
}

func (c *queueCache) Capacity() int {
	return c.capacity
}

func (c *queueCache) Type() Type {
	if c.refresh {
		return LRU
	}
	return FIFO
}

// evictOldest removes the oldest entry if the queue is full.
func evictOldest(queue *simplelru.LRU[int64, slice.Slice], capacity int) (int64, bool) {
	if queue.Len() < capacity {
		return 0, false
	}
	key, _, ok := queue.RemoveOldest()
	return key, ok
}
