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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/numaproj/numaslice/pkg/operator"
)

func TestShuffle_ShuffleRecords(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		records int
	}{
		{name: "RecordCountGreaterThanWorkerCount", workers: 4, records: 10000},
		{name: "WorkerCountGreaterThanRecordCount", workers: 100, records: 10},
		{name: "SingleWorker", workers: 1, records: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []operator.Record
			for i := 0; i < tt.records; i++ {
				records = append(records, operator.Record{Timestamp: int64(i), Key: fmt.Sprintf("key_%d", i%37), Value: int64(i)})
			}
			s := NewShuffle(tt.workers)
			partitions := s.ShuffleRecords(records)
			assert.Len(t, partitions, tt.workers)

			total := 0
			for w, partition := range partitions {
				total += len(partition)
				var last int64 = -1
				for _, r := range partition {
					assert.Equal(t, w, s.Worker(r.Key), "all records of a key go to one worker")
					assert.Greater(t, r.Timestamp, last, "order is kept")
					last = r.Timestamp
				}
			}
			assert.Equal(t, tt.records, total)
		})
	}
}

func TestShuffle_ZeroWorkers(t *testing.T) {
	s := NewShuffle(0)
	assert.Equal(t, 0, s.Worker("any"))
}
