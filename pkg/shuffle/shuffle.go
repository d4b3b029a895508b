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

package shuffle

import (
	"github.com/cespare/xxhash/v2"

	"github.com/numaproj/numaslice/pkg/operator"
)

// Shuffle partitions records among worker threads by key, so all records of a key land on the same thread
type Shuffle struct {
	numberOfWorkers uint64
}

// NewShuffle accepts the number of worker threads and returns new shuffle instance
func NewShuffle(numberOfWorkers int) *Shuffle {
	return &Shuffle{
		numberOfWorkers: uint64(max(1, numberOfWorkers)),
	}
}

// Worker returns the worker thread owning the key
func (s *Shuffle) Worker(key string) int {
	// hash of the key mod the number of workers decides the thread
	return int(xxhash.Sum64String(key) % s.numberOfWorkers)
}

// ShuffleRecords returns the records of every worker thread, indexed by worker id, in their original order
func (s *Shuffle) ShuffleRecords(records []operator.Record) [][]operator.Record {
	partitions := make([][]operator.Record, s.numberOfWorkers)
	for _, r := range records {
		w := s.Worker(r.Key)
		partitions[w] = append(partitions[w], r)
	}
	return partitions
}
