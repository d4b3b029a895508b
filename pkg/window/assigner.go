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
	"fmt"

	"github.com/numaproj/numaslice/pkg/sliceerr"
)

// SliceAssigner maps a timestamp to the slice it belongs to. Slice boundaries are the union of
// all window starts and window ends, so every window is covered by a contiguous run of slices and
// every slice lies in a fixed set of windows.
type SliceAssigner struct {
	size  int64
	slide int64
}

// NewSliceAssigner returns a SliceAssigner for windows of the given size moving by slide.
// A slide equal to the size gives tumbling windows.
func NewSliceAssigner(size int64, slide int64) (*SliceAssigner, error) {
	if size <= 0 || slide <= 0 || slide > size {
		return nil, sliceerr.ErrInvalidWindow.WithCause(fmt.Errorf("size=%d slide=%d", size, slide))
	}
	return &SliceAssigner{
		size:  size,
		slide: slide,
	}, nil
}

// Size returns the length of a window.
func (a *SliceAssigner) Size() int64 {
	return a.size
}

// Slide returns the distance between the starts of two successive windows.
func (a *SliceAssigner) Slide() int64 {
	return a.slide
}

// Type returns the window type.
func (a *SliceAssigner) Type() Type {
	if a.size == a.slide {
		return Tumbling
	}
	return Sliding
}

// SliceStart returns the start of the slice containing ts.
func (a *SliceAssigner) SliceStart(ts int64) int64 {
	prevSlideStart := ts - floorMod(ts, a.slide)
	if ts < a.size {
		return prevSlideStart
	}
	// the closest window end at or before ts is also a slice boundary
	prevWindowEnd := ts - floorMod(ts-a.size, a.slide)
	return max(prevSlideStart, prevWindowEnd)
}

// SliceEnd returns the end of the slice containing ts.
func (a *SliceAssigner) SliceEnd(ts int64) int64 {
	nextSlideStart := ts + a.slide - floorMod(ts, a.slide)
	if ts < a.size {
		return min(nextSlideStart, a.size)
	}
	nextWindowEnd := ts + a.slide - floorMod(ts-a.size, a.slide)
	return min(nextSlideStart, nextWindowEnd)
}

// AssignSlice returns the slice interval for ts. The same timestamp always yields the same interval.
func (a *SliceAssigner) AssignSlice(ts int64) Interval {
	return Interval{
		Start: a.SliceStart(ts),
		End:   a.SliceEnd(ts),
	}
}

// WindowsForSlice returns all windows the slice belongs to in ascending order of their end.
// The first window ends at or after the slice end, the last window starts at or before the slice
// start. Windows starting before zero are never produced.
func (a *SliceAssigner) WindowsForSlice(slice Interval) []WindowInfo {
	firstEnd := a.firstWindowEnd(slice)
	lastEnd := a.LastWindowEnd(slice)
	if firstEnd > lastEnd {
		return nil
	}
	windows := make([]WindowInfo, 0, (lastEnd-firstEnd)/a.slide+1)
	for end := firstEnd; end <= lastEnd; end += a.slide {
		windows = append(windows, WindowInfo{Start: end - a.size, End: end})
	}
	return windows
}

// LastWindowEnd returns the end of the latest window the slice belongs to. Once the watermark has
// passed it, no window can need the slice anymore.
func (a *SliceAssigner) LastWindowEnd(slice Interval) int64 {
	lastWindowStart := slice.Start - floorMod(slice.Start, a.slide)
	return lastWindowStart + a.size
}

// firstWindowEnd rounds max(slice end, size) up to the next window end.
func (a *SliceAssigner) firstWindowEnd(slice Interval) int64 {
	end := max(slice.End, a.size)
	if r := floorMod(end-a.size, a.slide); r != 0 {
		end += a.slide - r
	}
	return end
}

// floorMod is the modulo which is never negative for a positive divisor.
func floorMod(x int64, m int64) int64 {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}
