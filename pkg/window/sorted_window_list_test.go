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

package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testEntry struct {
	Start int64
	End   int64
}

func (t *testEntry) EndTime() int64 {
	return t.End
}

func listOf(entries ...*testEntry) *SortedList[*testEntry] {
	l := NewSortedList[*testEntry]()
	for _, e := range entries {
		l.InsertIfNotPresent(e)
	}
	return l
}

func TestSortedList_InsertIfNotPresent(t *testing.T) {
	tests := []struct {
		name     string
		given    []*testEntry
		input    *testEntry
		expected []*testEntry
		present  bool
	}{
		{
			name:     "first_entry",
			given:    []*testEntry{},
			input:    &testEntry{Start: 0, End: 60},
			expected: []*testEntry{{Start: 0, End: 60}},
		},
		{
			name:     "late_entry",
			given:    []*testEntry{{Start: 120, End: 180}},
			input:    &testEntry{Start: 60, End: 120},
			expected: []*testEntry{{Start: 60, End: 120}, {Start: 120, End: 180}},
		},
		{
			name:     "early_entry",
			given:    []*testEntry{{Start: 120, End: 180}},
			input:    &testEntry{Start: 240, End: 300},
			expected: []*testEntry{{Start: 120, End: 180}, {Start: 240, End: 300}},
		},
		{
			name:     "insert_middle",
			given:    []*testEntry{{Start: 120, End: 180}, {Start: 240, End: 300}},
			input:    &testEntry{Start: 180, End: 240},
			expected: []*testEntry{{Start: 120, End: 180}, {Start: 180, End: 240}, {Start: 240, End: 300}},
		},
		{
			name:     "already_present",
			given:    []*testEntry{{Start: 120, End: 180}, {Start: 240, End: 300}},
			input:    &testEntry{Start: 240, End: 300},
			expected: []*testEntry{{Start: 120, End: 180}, {Start: 240, End: 300}},
			present:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := listOf(tt.given...)
			got, present := l.InsertIfNotPresent(tt.input)
			assert.Equal(t, tt.present, present)
			assert.Equal(t, tt.input.End, got.End)
			assert.Equal(t, tt.expected, l.Items())
		})
	}
}

func TestSortedList_GetAndDelete(t *testing.T) {
	l := listOf(&testEntry{Start: 0, End: 10}, &testEntry{Start: 10, End: 20}, &testEntry{Start: 20, End: 30})

	e, ok := l.Get(20)
	assert.True(t, ok)
	assert.Equal(t, int64(10), e.Start)
	_, ok = l.Get(25)
	assert.False(t, ok)

	assert.True(t, l.Delete(20))
	assert.False(t, l.Delete(20))
	assert.Equal(t, 2, l.Len())

	front, _ := l.Front()
	back, _ := l.Back()
	assert.Equal(t, int64(10), front.End)
	assert.Equal(t, int64(30), back.End)
}

func TestSortedList_RemoveIf(t *testing.T) {
	l := listOf(
		&testEntry{Start: 0, End: 10},
		&testEntry{Start: 10, End: 20},
		&testEntry{Start: 20, End: 30},
		&testEntry{Start: 30, End: 40},
	)
	removed := l.RemoveIf(30, func(e *testEntry) bool {
		return e.End != 20
	})
	assert.Equal(t, []*testEntry{{Start: 0, End: 10}, {Start: 20, End: 30}}, removed)
	assert.Equal(t, []*testEntry{{Start: 10, End: 20}, {Start: 30, End: 40}}, l.Items())

	var ends []int64
	l.Range(func(e *testEntry) bool {
		ends = append(ends, e.End)
		return true
	})
	assert.Equal(t, []int64{20, 40}, ends)

	l.Clear()
	_, ok := l.Front()
	assert.False(t, ok)
}
