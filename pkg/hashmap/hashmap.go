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

// Package hashmap implements the chained hash map used as per worker thread join state.
//
// Entries live in an arena of fixed size pages and are addressed by an Index which packs the page number and the
// offset inside the page into a single int64. Bucket heads and chain links are indices, never pointers, so a map
// can be written out page by page and rebuilt from its pages without fixing up any references.
//
// A HashMap has a single writer, the worker thread owning it. Readers only touch it once the window it belongs to
// has been triggered, hence there is no locking.
package hashmap

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/numaproj/numaslice/pkg/sliceerr"
)

const (
	defaultPageSize       = 1024
	defaultNumberOfBucket = 1024
	// loadFactor is the number of entries per bucket after which the bucket array is doubled.
	loadFactor = 2
	// entryOverhead is an estimate of the fixed size of an entry in memory.
	entryOverhead = 48
)

// Index addresses an entry as (page, offset).
type Index int64

// NilIndex terminates a chain.
const NilIndex Index = -1

func newIndex(page int, offset int) Index {
	return Index(int64(page)<<32 | int64(offset))
}

// Page returns the page number of the index.
func (i Index) Page() int {
	return int(int64(i) >> 32)
}

// Offset returns the offset of the index inside its page.
func (i Index) Offset() int {
	return int(int64(i) & 0xffffffff)
}

// Entry is a stored record.
type Entry struct {
	Key       string
	Timestamp int64
	Value     int64
}

type slot struct {
	Entry
	hash uint64
	next Index
}

// HashMap is a page arena backed chained hash map from key to the records with that key.
type HashMap struct {
	pageSize int
	pages    [][]slot
	buckets  []Index
	size     int
	keyBytes int64
}

type options struct {
	pageSize        int
	numberOfBuckets int
}

// Option to apply on the hash map.
type Option func(*options)

// WithPageSize sets the number of entries in one page.
func WithPageSize(size int) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithNumberOfBuckets sets the initial number of buckets, rounded up to a power of two.
func WithNumberOfBuckets(n int) Option {
	return func(o *options) {
		o.numberOfBuckets = n
	}
}

// New returns an empty HashMap.
func New(opts ...Option) *HashMap {
	o := &options{
		pageSize:        defaultPageSize,
		numberOfBuckets: defaultNumberOfBucket,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pageSize <= 0 {
		o.pageSize = defaultPageSize
	}
	return &HashMap{
		pageSize: o.pageSize,
		buckets:  newBuckets(nextPowerOfTwo(o.numberOfBuckets)),
	}
}

func newBuckets(n int) []Index {
	buckets := make([]Index, n)
	for i := range buckets {
		buckets[i] = NilIndex
	}
	return buckets
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hashKey(key string) uint64 {
	return murmur3.Sum64([]byte(key))
}

func (m *HashMap) at(i Index) *slot {
	return &m.pages[i.Page()][i.Offset()]
}

// Insert appends a record under its key.
func (m *HashMap) Insert(key string, timestamp int64, value int64) {
	m.insert(Entry{Key: key, Timestamp: timestamp, Value: value}, hashKey(key))
}

func (m *HashMap) insert(e Entry, hash uint64) {
	if len(m.pages) == 0 || len(m.pages[len(m.pages)-1]) == m.pageSize {
		m.pages = append(m.pages, make([]slot, 0, m.pageSize))
	}
	pageIdx := len(m.pages) - 1
	idx := newIndex(pageIdx, len(m.pages[pageIdx]))
	bucket := hash & uint64(len(m.buckets)-1)
	m.pages[pageIdx] = append(m.pages[pageIdx], slot{Entry: e, hash: hash, next: m.buckets[bucket]})
	m.buckets[bucket] = idx
	m.size++
	m.keyBytes += int64(len(e.Key))

	if m.size > loadFactor*len(m.buckets) {
		m.grow()
	}
}

// grow doubles the bucket array and relinks every entry using its stored hash.
func (m *HashMap) grow() {
	m.buckets = newBuckets(len(m.buckets) * 2)
	mask := uint64(len(m.buckets) - 1)
	for p := range m.pages {
		for o := range m.pages[p] {
			s := &m.pages[p][o]
			bucket := s.hash & mask
			s.next = m.buckets[bucket]
			m.buckets[bucket] = newIndex(p, o)
		}
	}
}

// Find calls fn for every record with the given key until fn returns false.
func (m *HashMap) Find(key string, fn func(Entry) bool) {
	hash := hashKey(key)
	for i := m.buckets[hash&uint64(len(m.buckets)-1)]; i != NilIndex; {
		s := m.at(i)
		if s.hash == hash && s.Key == key {
			if !fn(s.Entry) {
				return
			}
		}
		i = s.next
	}
}

// Range calls fn for every record in insertion order until fn returns false.
func (m *HashMap) Range(fn func(Entry) bool) {
	for p := range m.pages {
		for o := range m.pages[p] {
			if !fn(m.pages[p][o].Entry) {
				return
			}
		}
	}
}

// Len returns the number of records.
func (m *HashMap) Len() int {
	return m.size
}

// NumberOfPages returns the number of pages of the arena.
func (m *HashMap) NumberOfPages() int {
	return len(m.pages)
}

// ResidentBytes estimates the memory held by the map.
func (m *HashMap) ResidentBytes() int64 {
	return int64(m.size)*entryOverhead + m.keyBytes + int64(len(m.buckets))*8
}

// Truncate drops all records, keeping the bucket array size.
func (m *HashMap) Truncate() {
	m.pages = nil
	m.size = 0
	m.keyBytes = 0
	for i := range m.buckets {
		m.buckets[i] = NilIndex
	}
}

// AppendPage appends the serialized form of the given page to dst. The chain links are not written, they are
// rebuilt from the stored hashes when the page is read back.
func (m *HashMap) AppendPage(dst []byte, page int) []byte {
	entries := m.pages[page]
	dst = binary.AppendUvarint(dst, uint64(len(entries)))
	for _, s := range entries {
		dst = binary.AppendUvarint(dst, uint64(len(s.Key)))
		dst = append(dst, s.Key...)
		dst = binary.AppendVarint(dst, s.Timestamp)
		dst = binary.AppendVarint(dst, s.Value)
		dst = binary.LittleEndian.AppendUint64(dst, s.hash)
	}
	return dst
}

// minEncodedEntrySize is the size of an encoded entry with an empty key and one byte varints.
const minEncodedEntrySize = 11

type decodedEntry struct {
	entry Entry
	hash  uint64
}

// InsertPage inserts every record of a serialized page. A malformed page leaves the map unchanged.
func (m *HashMap) InsertPage(data []byte) error {
	n, read := binary.Uvarint(data)
	if read <= 0 {
		return corrupted("page length")
	}
	data = data[read:]
	if n > uint64(len(data)/minEncodedEntrySize) {
		return corrupted(fmt.Sprintf("%d entries in %d bytes", n, len(data)))
	}
	decoded := make([]decodedEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		keyLen, read := binary.Uvarint(data)
		if read <= 0 || uint64(len(data)-read) < keyLen {
			return corrupted("key")
		}
		data = data[read:]
		key := string(data[:keyLen])
		data = data[keyLen:]
		ts, read := binary.Varint(data)
		if read <= 0 {
			return corrupted("timestamp")
		}
		data = data[read:]
		value, read := binary.Varint(data)
		if read <= 0 {
			return corrupted("value")
		}
		data = data[read:]
		if len(data) < 8 {
			return corrupted("hash")
		}
		hash := binary.LittleEndian.Uint64(data)
		data = data[8:]
		if hash != hashKey(key) {
			return corrupted("hash of key " + key)
		}
		decoded = append(decoded, decodedEntry{entry: Entry{Key: key, Timestamp: ts, Value: value}, hash: hash})
	}
	if len(data) != 0 {
		return corrupted(fmt.Sprintf("%d trailing bytes", len(data)))
	}
	for _, d := range decoded {
		m.insert(d.entry, d.hash)
	}
	return nil
}

func corrupted(what string) error {
	return sliceerr.New(sliceerr.DataIntegrity, "hashmap", "malformed page: "+what)
}
