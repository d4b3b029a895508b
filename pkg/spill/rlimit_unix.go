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

//go:build linux || darwin

package spill

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/numaproj/numaslice/pkg/sliceerr"
)

// SetFileDescriptorLimit raises the soft RLIMIT_NOFILE of the process towards limit, never above the hard limit,
// and returns the number of descriptors left for spill files once the reserve for other subsystems is taken off.
func SetFileDescriptorLimit(limit uint64) (uint64, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, sliceerr.Wrap(sliceerr.Resource, "rlimit", err)
	}
	target := min(limit, uint64(rl.Max))
	if target > uint64(rl.Cur) {
		rl.Cur = target
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
			return 0, sliceerr.Wrap(sliceerr.Resource, "rlimit", err)
		}
	}
	usable := min(limit, uint64(rl.Cur))
	if usable <= reservedFileDescriptors {
		return 0, sliceerr.New(sliceerr.Resource, "rlimit",
			fmt.Sprintf("file descriptor limit %d does not exceed the reserve of %d", usable, reservedFileDescriptors))
	}
	return usable - reservedFileDescriptors, nil
}
