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
)

// Interval is the half-open time range [Start, End) covered by a slice.
type Interval struct {
	Start int64
	End   int64
}

// Contains reports whether ts falls into the interval.
func (i Interval) Contains(ts int64) bool {
	return ts >= i.Start && ts < i.End
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d-%d)", i.Start, i.End)
}

// WindowInfo is the time range over which a result is computed. End is the canonical id of the window.
type WindowInfo struct {
	Start int64
	End   int64
}

// Covers reports whether the slice interval lies inside the window.
func (w WindowInfo) Covers(i Interval) bool {
	return i.Start >= w.Start && i.End <= w.End
}

func (w WindowInfo) String() string {
	return fmt.Sprintf("[%d-%d)", w.Start, w.End)
}

// Type represents the windowing strategy
type Type int

const (
	Tumbling Type = iota
	Sliding
)

func (t Type) String() string {
	switch t {
	case Tumbling:
		return "Tumbling"
	case Sliding:
		return "Sliding"
	default:
		return "Unknown"
	}
}

// State is the state of a window entry.
type State int32

const (
	// BothSidesFilling means no input side has passed the end of the window yet.
	BothSidesFilling State = iota
	// OneSideFilling means one input side has passed the end of the window. Single input
	// operators start here.
	OneSideFilling
	// Emitted means the window has been handed to the trigger and will never be returned again.
	Emitted
)

func (s State) String() string {
	switch s {
	case BothSidesFilling:
		return "BothSidesFilling"
	case OneSideFilling:
		return "OneSideFilling"
	case Emitted:
		return "Emitted"
	default:
		return "Unknown"
	}
}
