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

//go:build !linux && !darwin

package spill

import (
	"fmt"

	"github.com/numaproj/numaslice/pkg/sliceerr"
)

// SetFileDescriptorLimit returns the number of descriptors left for spill files. The process limit is left as is.
func SetFileDescriptorLimit(limit uint64) (uint64, error) {
	if limit <= reservedFileDescriptors {
		return 0, sliceerr.New(sliceerr.Resource, "rlimit",
			fmt.Sprintf("file descriptor limit %d does not exceed the reserve of %d", limit, reservedFileDescriptors))
	}
	return limit - reservedFileDescriptors, nil
}
