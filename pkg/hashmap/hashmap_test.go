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

package hashmap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/numaslice/pkg/sliceerr"
)

func collect(m *HashMap, key string) []Entry {
	var out []Entry
	m.Find(key, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

func TestIndex(t *testing.T) {
	i := newIndex(7, 1023)
	assert.Equal(t, 7, i.Page())
	assert.Equal(t, 1023, i.Offset())
}

func TestHashMap_InsertAndFind(t *testing.T) {
	m := New(WithPageSize(4), WithNumberOfBuckets(2))
	for i := 0; i < 100; i++ {
		m.Insert(fmt.Sprintf("key-%d", i%10), int64(i), int64(i*10))
	}
	assert.Equal(t, 100, m.Len())
	assert.Equal(t, 25, m.NumberOfPages())

	entries := collect(m, "key-3")
	assert.Len(t, entries, 10)
	for _, e := range entries {
		assert.Equal(t, "key-3", e.Key)
		assert.Equal(t, int64(3), e.Timestamp%10)
		assert.Equal(t, e.Timestamp*10, e.Value)
	}
	assert.Empty(t, collect(m, "absent"))

	count := 0
	m.Range(func(e Entry) bool {
		count++
		return count < 5
	})
	assert.Equal(t, 5, count)
}

func TestHashMap_PagesRoundTrip(t *testing.T) {
	m := New(WithPageSize(8))
	for i := 0; i < 30; i++ {
		m.Insert(fmt.Sprintf("k%d", i%4), int64(i), int64(-i))
	}
	before := m.ResidentBytes()
	assert.Greater(t, before, int64(0))

	var pages [][]byte
	for p := 0; p < m.NumberOfPages(); p++ {
		pages = append(pages, m.AppendPage(nil, p))
	}
	m.Truncate()
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, collect(m, "k1"))
	assert.Less(t, m.ResidentBytes(), before)

	restored := New()
	for _, p := range pages {
		require.NoError(t, restored.InsertPage(p))
	}
	assert.Equal(t, 30, restored.Len())
	assert.Len(t, collect(restored, "k1"), 8)
	assert.Len(t, collect(restored, "k3"), 7)
}

func TestHashMap_InsertPageCorrupted(t *testing.T) {
	m := New()
	m.Insert("a", 1, 2)
	page := m.AppendPage(nil, 0)

	err := New().InsertPage(page[:len(page)-3])
	require.Error(t, err)
	assert.True(t, sliceerr.IsDataIntegrity(err))

	tampered := append([]byte{}, page...)
	tampered[2] = 'b'
	err = New().InsertPage(tampered)
	require.Error(t, err)
	assert.True(t, sliceerr.IsDataIntegrity(err))

	err = New().InsertPage(append(page, 0))
	assert.True(t, sliceerr.IsDataIntegrity(err))
}

func TestHashMap_InsertPageAllOrNothing(t *testing.T) {
	src := New()
	for _, k := range []string{"a", "b", "c"} {
		src.Insert(k, 1, 2)
	}
	page := src.AppendPage(nil, 0)
	// the hash of the last entry no longer matches its key
	page[len(page)-1] ^= 0xff

	dst := New()
	dst.Insert("z", 5, 6)
	err := dst.InsertPage(page)
	require.Error(t, err)
	assert.True(t, sliceerr.IsDataIntegrity(err))
	assert.Equal(t, 1, dst.Len())
	assert.Empty(t, collect(dst, "a"))
	assert.Empty(t, collect(dst, "b"))
	assert.Len(t, collect(dst, "z"), 1)

	// an entry count the page cannot hold is rejected up front
	err = New().InsertPage([]byte{0xff, 0xff, 0xff, 0x0f, 0x00})
	assert.True(t, sliceerr.IsDataIntegrity(err))
}
