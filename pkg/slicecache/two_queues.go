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

// probationaryShare is the share of the capacity given to the probationary queue.
const probationaryShare = 0.8

// twoQueueCache admits new entries into a probationary FIFO queue. A hit in the probationary queue promotes the
// entry to the hot LRU queue. New entries evict from the probationary queue, a full hot queue drops its least
// recently used entry on promotion.
type twoQueueCache struct {
	*stats
	lock         sync.Mutex
	probationary *simplelru.LRU[int64, slice.Slice]
	hot          *simplelru.LRU[int64, slice.Slice]
	probCap      int
	hotCap       int
}

func newTwoQueueCache(s *stats, capacity int) *twoQueueCache {
	probCap := max(1, int(float64(capacity)*probationaryShare))
	hotCap := max(1, capacity-probCap)
	probationary, _ := simplelru.NewLRU[int64, slice.Slice](probCap, nil)
	hot, _ := simplelru.NewLRU[int64, slice.Slice](hotCap, nil)
	return &twoQueueCache{
		stats:        s,
		probationary: probationary,
		hot:          hot,
		probCap:      probCap,
		hotCap:       hotCap,
	}
}

func (c *twoQueueCache) Lookup(key int64) (slice.Slice, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if s, ok := c.hot.Get(key); ok {
		c.record(true)
		return s, true
	}
	s, ok := c.probationary.Peek(key)
	c.record(ok)
	if !ok {
		return nil, false
	}
	c.probationary.Remove(key)
	evictOldest(c.hot, c.hotCap)
	c.hot.Add(key, s)
	return s, true
}

func (c *twoQueueCache) Insert(key int64, s slice.Slice) (int64, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.hot.Contains(key) || c.probationary.Contains(key) {
		return 0, false
	}
	evictedKey, evicted := evictOldest(c.probationary, c.probCap)
	c.probationary.Add(key, s)
	return evictedKey, evicted
}

func (c *twoQueueCache) Delete(key int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.probationary.Remove(key)
	c.hot.Remove(key)
}

func (c *twoQueueCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.probationary.Len() + c.hot.Len()
}

func (c *twoQueueCache) Capacity() int {
	return c.probCap + c.hotCap
}

func (c *twoQueueCache) Type() Type {
	return TwoQueues
}
