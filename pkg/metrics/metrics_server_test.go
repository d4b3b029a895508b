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

package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func Test_StartMetricsServer(t *testing.T) {
	healthy := atomic.NewError(errors.New("not running"))
	ms := NewMetricsServer(WithAddress("127.0.0.1:0"), WithHealthChecker(HealthCheckerFunc(func(ctx context.Context) error {
		return healthy.Load()
	})))
	addr, shutdown, err := ms.Start(context.TODO())
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, shutdown(context.TODO()))
	}()

	e := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  fmt.Sprintf("http://%s", addr),
		Reporter: httpexpect.NewRequireReporter(t),
	})
	e.GET("/livez").WithMaxRetries(3).WithRetryDelay(100*time.Millisecond, time.Second).Expect().Status(204)
	e.GET("/readyz").Expect().Status(500).Body().IsEqual("not running")
	healthy.Store(nil)
	e.GET("/readyz").Expect().Status(204)
	e.GET("/metrics").Expect().Status(200)
	e.GET("/debug/pprof/").Expect().Status(404)
}

func Test_MetricsServer_Options(t *testing.T) {
	ms := NewMetricsServer(nil, WithPprof(true), WithAddress(":0"))
	assert.True(t, ms.pprof)
	assert.Equal(t, ":0", ms.address)
	assert.Empty(t, ms.healthCheckExecutors)
	assert.Equal(t, DefaultAddress, NewMetricsServer().address)
}

func Test_LateRecordsCounter(t *testing.T) {
	c, err := LateRecords.GetMetricWithLabelValues("test-operator")
	require.NoError(t, err)
	c.Inc()
	c.Inc()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())
}
