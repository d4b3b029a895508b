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
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/numaproj/numaslice/pkg/shared/logging"
)

const (
	// DefaultAddress is the listen address of the metrics server.
	DefaultAddress = ":2469"
	// healthCheckTimeout bounds a single health check.
	healthCheckTimeout = 30 * time.Second
)

// metricsServer runs an HTTP server to:
// 1. Expose metrics;
// 2. Serve an endpoint to execute health checks
type metricsServer struct {
	address string
	pprof   bool
	// Functions that health check executes
	healthCheckExecutors []func(ctx context.Context) error
}

type Option func(*metricsServer)

// WithAddress sets the listen address, ":0" picks a free port
func WithAddress(address string) Option {
	return func(m *metricsServer) {
		m.address = address
	}
}

// WithPprof enables the pprof debug endpoints
func WithPprof(enabled bool) Option {
	return func(m *metricsServer) {
		m.pprof = enabled
	}
}

// WithHealthChecker appends a health checker executed by the readiness endpoint
func WithHealthChecker(hc HealthChecker) Option {
	return func(m *metricsServer) {
		m.healthCheckExecutors = append(m.healthCheckExecutors, hc.IsHealthy)
	}
}

// NewMetricsServer returns a Prometheus metrics server instance, which can be used to start an HTTP service to
// expose Prometheus metrics.
func NewMetricsServer(opts ...Option) *metricsServer {
	m := &metricsServer{address: DefaultAddress}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (ms *metricsServer) healthy(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	for _, ex := range ms.healthCheckExecutors {
		if err := ex(cctx); err != nil {
			return err
		}
	}
	return nil
}

// Start starts the HTTP service to expose metrics. It returns the bound address, a shutdown function and an error
// if any.
func (ms *metricsServer) Start(ctx context.Context) (string, func(ctx context.Context) error, error) {
	log := logging.FromContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ms.healthy(r.Context()); err != nil {
			log.Errorw("Failed to execute health check", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if ms.pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("Not enabling pprof debug endpoints")
	}

	listener, err := net.Listen("tcp", ms.address)
	if err != nil {
		return "", nil, err
	}
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("Starting metrics HTTP server", zap.String("address", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Failed to serve metrics", zap.Error(err))
		}
		log.Info("Metrics server shutdown")
	}()
	return listener.Addr().String(), httpServer.Shutdown, nil
}
