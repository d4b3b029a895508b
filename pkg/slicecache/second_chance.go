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
	"container/list"
	"sync"

	"github.com/numaproj/numaslice/pkg/slice"
)

type secondChanceEntry struct {
	key        int64
	slice      slice.Slice
	referenced bool
}

// secondChanceCache is a FIFO queue where a hit sets a reference bit. An eviction candidate whose bit is set gets
// its bit cleared and goes back to the tail of the queue instead of being evicted.
type secondChanceCache struct {
	*stats
	lock     sync.Mutex
	queue    *list.List
	entries  map[int64]*list.Element
	capacity int
}

func newSecondChanceCache(s *stats, capacity int) *secondChanceCache {
	return &secondChanceCache{
		stats:    s,
		queue:    list.New(),
		entries:  make(map[int64]*list.Element, capacity),
		capacity: capacity,
	}
}

func (c *secondChanceCache) Lookup(key int64) (slice.Slice, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, ok := c.entries[key]
	c.record(ok)
	if !ok {
		return nil, false
	}
	entry := e.Value.(*secondChanceEntry)
	entry.referenced = true
	return entry.slice, true
}

func (c *secondChanceCache) Insert(key int64, s slice.Slice) (int64, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Value.(*secondChanceEntry).slice = s
		return 0, false
	}
	var (
		evictedKey int64
		evicted    bool
	)
	if len(c.entries) >= c.capacity {
		// terminates after at most one pass since every visited entry loses its bit
		for {
			back := c.queue.Back()
			entry := back.Value.(*secondChanceEntry)
			if entry.referenced {
				entry.referenced = false
				c.queue.MoveToFront(back)
				continue
			}
			c.queue.Remove(back)
			delete(c.entries, entry.key)
			evictedKey, evicted = entry.key, true
			break
		}
	}
	c.entries[key] = c.queue.PushFront(&secondChanceEntry{key: key, slice: s})
	return evictedKey, evicted
}

func (c *secondChanceCache) Delete(key int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if e, ok := c.entries[key]; ok {
		c.queue.Remove(e)
		delete(c.entries, key)
	}
}

func (c *secondChanceCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.entries)
}

func (c *secondChanceCache) Capacity() int {
	return c.capacity
}

func (c *secondChanceCache) Type() Type {
	return SecondChance
}
