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

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/araddon/dateparse"
	"github.com/goccy/go-json"
	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/numaproj/numaslice"
	"github.com/numaproj/numaslice/pkg/config"
	"github.com/numaproj/numaslice/pkg/metrics"
	"github.com/numaproj/numaslice/pkg/operator"
	"github.com/numaproj/numaslice/pkg/operator/aggregation"
	"github.com/numaproj/numaslice/pkg/operator/join"
	"github.com/numaproj/numaslice/pkg/shared/logging"
	"github.com/numaproj/numaslice/pkg/shuffle"
	"github.com/numaproj/numaslice/pkg/slice"
	"github.com/numaproj/numaslice/pkg/spill"
	"github.com/numaproj/numaslice/pkg/watermark"
	"github.com/numaproj/numaslice/pkg/window"
)

const (
	operatorJoin        = "join"
	operatorAggregation = "aggregation"
)

type simulateOptions struct {
	configPath       string
	operatorType     string
	origins          int
	recordsPerOrigin int
	batchSize        int
	keys             int
	step             int64
	start            string
	startMillis      int64
	metricsAddress   string
	output           string
}

func NewSimulateCommand() *cobra.Command {
	opts := &simulateOptions{}
	command := &cobra.Command{
		Use:   "simulate",
		Short: "Feed synthetic batches from several origins through a windowed operator and print the results as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			if opts.output != "" && opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("failed to create output file, %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			return runSimulation(ctx, opts, out)
		},
	}
	command.Flags().StringVar(&opts.configPath, "config", "", "Path of the YAML configuration, defaults and NUMASLICE_ environment variables are used if empty")
	command.Flags().StringVar(&opts.operatorType, "operator", operatorAggregation, "Operator type, 'aggregation' or 'join'")
	command.Flags().IntVar(&opts.origins, "origins", 2, "Number of upstream origins, the join splits them into left and right halves")
	command.Flags().IntVar(&opts.recordsPerOrigin, "records-per-origin", 1000, "Number of records every origin produces")
	command.Flags().IntVar(&opts.batchSize, "batch-size", 100, "Number of records per batch")
	command.Flags().IntVar(&opts.keys, "keys", 10, "Number of distinct keys")
	command.Flags().Int64Var(&opts.step, "step", 100, "Event time distance in milliseconds between two records of an origin")
	command.Flags().StringVar(&opts.start, "start", "", "Event time of the first record of every origin, in any common date format, the epoch if empty")
	command.Flags().StringVar(&opts.metricsAddress, "metrics-address", "", "Serve Prometheus metrics on this address, disabled if empty")
	command.Flags().StringVar(&opts.output, "output", "-", "Output file of the results, '-' for stdout")
	return command
}

func (o *simulateOptions) validate() error {
	switch {
	case o.operatorType != operatorJoin && o.operatorType != operatorAggregation:
		return fmt.Errorf("unrecognized operator type %q", o.operatorType)
	case o.origins <= 0 || (o.operatorType == operatorJoin && o.origins < 2):
		return fmt.Errorf("invalid number of origins %d", o.origins)
	case o.recordsPerOrigin <= 0 || o.batchSize <= 0 || o.keys <= 0 || o.step <= 0:
		return fmt.Errorf("records-per-origin, batch-size, keys and step must be positive")
	}
	if o.start != "" {
		t, err := dateparse.ParseIn(o.start, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid start time %q, %w", o.start, err)
		}
		o.startMillis = t.UnixMilli()
	}
	return nil
}

// windowResults is one output line.
type windowResults struct {
	Window  window.WindowInfo `json:"window"`
	Count   int               `json:"count"`
	Results any               `json:"results"`
}

type resultWriter struct {
	lock    sync.Mutex
	enc     *json.Encoder
	results int
	// counts holds the number of results of every emitted window
	counts stats.Float64Data
}

func (w *resultWriter) write(win window.WindowInfo, results any, n int) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.results += n
	w.counts = append(w.counts, float64(n))
	return w.enc.Encode(windowResults{Window: win, Count: n, Results: results})
}

// summary returns the log fields describing the results per window.
func (w *resultWriter) summary() []any {
	w.lock.Lock()
	defer w.lock.Unlock()
	fields := []any{"windows", len(w.counts), "results", w.results}
	if len(w.counts) == 0 {
		return fields
	}
	mean, _ := stats.Mean(w.counts)
	p99, _ := stats.Percentile(w.counts, 99)
	most, _ := stats.Max(w.counts)
	return append(fields, "meanResultsPerWindow", mean, "p99ResultsPerWindow", p99, "maxResultsPerWindow", most)
}

// simulation is the operator under test, reduced to what the generators need.
type simulation struct {
	handler *operator.WindowBasedOperatorHandler
	build   func(ctx context.Context, workerID int, origin watermark.OriginID, batch operator.Batch) error
}

func newSimulation(ctx context.Context, opts *simulateOptions, conf config.Config, sink *resultWriter) (*simulation, error) {
	assigner, err := window.NewSliceAssigner(conf.WindowSize, conf.WindowSlide)
	if err != nil {
		return nil, err
	}
	cacheType, err := conf.CacheType()
	if err != nil {
		return nil, err
	}
	handlerOpts := []operator.Option{
		operator.WithOperatorID(opts.operatorType),
		operator.WithSliceCache(cacheType, conf.SliceCacheNumberOfEntries),
		operator.WithNumberOfWorkerThreads(conf.NumberOfWorkerThreads),
	}
	origins := make([]watermark.OriginID, opts.origins)
	for i := range origins {
		origins[i] = watermark.OriginID(i)
	}

	if opts.operatorType == operatorAggregation {
		h, err := aggregation.NewHandler(ctx, assigner, aggregation.EmitterFunc(func(_ context.Context, w window.WindowInfo, results []aggregation.Result) error {
			return sink.write(w, results, len(results))
		}), append(handlerOpts, operator.WithOrigins(origins...))...)
		if err != nil {
			return nil, err
		}
		return &simulation{
			handler: h.WindowBasedOperatorHandler,
			build: func(ctx context.Context, workerID int, _ watermark.OriginID, batch operator.Batch) error {
				return h.Build(ctx, workerID, batch)
			},
		}, nil
	}

	half := len(origins) / 2
	joinOpts := []join.Option{
		join.WithLeftOrigins(origins[:half]...),
		join.WithRightOrigins(origins[half:]...),
		join.WithHandlerOptions(handlerOpts...),
	}
	if conf.SpillEnabled() {
		manager, err := spill.NewFileDescriptorManager(ctx, conf.NumberOfWorkerThreads,
			spill.WithWorkingDirectory(conf.WorkingDirectory),
			spill.WithMaxNumFileDescriptors(conf.MaxNumFileDescriptors),
			spill.WithBufferSize(conf.FileDescriptorBufferSize),
			spill.WithBuffersPerWorker(conf.NumberOfBuffersPerWorker),
			spill.WithOperator(opts.operatorType))
		if err != nil {
			return nil, err
		}
		joinOpts = append(joinOpts, join.WithSpill(manager, conf.MaxResidentBytesPerWorker))
	}
	h, err := join.NewHandler(ctx, assigner, join.EmitterFunc(func(_ context.Context, w window.WindowInfo, results []join.Result) error {
		return sink.write(w, results, len(results))
	}), joinOpts...)
	if err != nil {
		return nil, err
	}
	return &simulation{
		handler: h.WindowBasedOperatorHandler,
		build: func(ctx context.Context, workerID int, origin watermark.OriginID, batch operator.Batch) error {
			side := slice.Left
			if int(origin) >= half {
				side = slice.Right
			}
			return h.Build(ctx, workerID, side, batch)
		},
	}, nil
}

// generate produces the records of one origin. Every batch is one sequence, its records are shuffled among the
// worker threads and every non-empty share is sent as one chunk of the sequence.
func generate(ctx context.Context, opts *simulateOptions, sim *simulation, origin watermark.OriginID, shuffler *shuffle.Shuffle) error {
	seq := uint64(0)
	for start := 0; start < opts.recordsPerOrigin; start += opts.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+opts.batchSize, opts.recordsPerOrigin)
		records := make([]operator.Record, 0, end-start)
		for i := start; i < end; i++ {
			records = append(records, operator.Record{
				Timestamp: opts.startMillis + int64(i)*opts.step,
				Key:       fmt.Sprintf("key-%d", (i+int(origin))%opts.keys),
				Value:     int64(i),
			})
		}
		seq++
		partitions := shuffler.ShuffleRecords(records)
		var workers []int
		for w, p := range partitions {
			if len(p) > 0 {
				workers = append(workers, w)
			}
		}
		for i, w := range workers {
			meta := watermark.BatchMetadata{
				Watermark:      watermark.Watermark(opts.startMillis + int64(end-1)*opts.step),
				SequenceNumber: seq,
				ChunkNumber:    uint64(i + 1),
				LastChunk:      i == len(workers)-1,
				OriginID:       origin,
			}
			if err := sim.build(ctx, w, origin, operator.Batch{Metadata: meta, Records: partitions[w]}); err != nil {
				return fmt.Errorf("origin %d failed to build sequence %d, %w", origin, seq, err)
			}
		}
	}
	return nil
}

// onConfigChange retunes the log level of the running simulation. The other settings are fixed once it started.
func onConfigChange(level zap.AtomicLevel, log *zap.SugaredLogger) func(config.Config) {
	return func(conf config.Config) {
		if err := level.UnmarshalText([]byte(conf.LogLevel)); err != nil {
			log.Warnw("Ignoring invalid log level", "logLevel", conf.LogLevel, zap.Error(err))
			return
		}
		log.Infow("Log level changed", "logLevel", level.Level().String())
	}
}

func runSimulation(ctx context.Context, opts *simulateOptions, out io.Writer) (err error) {
	if err := opts.validate(); err != nil {
		return err
	}
	level := zap.NewAtomicLevel()
	log := logging.NewLoggerWithLevel(level).Named("simulate")
	global, err := config.LoadConfig(opts.configPath, func(err error) {
		log.Errorw("Failed to reload configuration", zap.Error(err))
	}, onConfigChange(level, log))
	if err != nil {
		return err
	}
	conf := global.Get()
	if err := level.UnmarshalText([]byte(conf.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q, %w", conf.LogLevel, err)
	}
	ctx = logging.WithLogger(ctx, log)
	version := numaslice.GetVersion()
	metrics.BuildInfo.WithLabelValues(CLIName, version.Version, version.Platform).Set(1)
	log.Infow("Starting simulation", "version", version.Version, "operator", opts.operatorType,
		"windowSize", conf.WindowSize, "windowSlide", conf.WindowSlide, "workerThreads", conf.NumberOfWorkerThreads)

	sink := &resultWriter{enc: json.NewEncoder(out)}
	sim, err := newSimulation(ctx, opts, conf, sink)
	if err != nil {
		return err
	}

	if opts.metricsAddress != "" {
		addr, shutdown, err := metrics.NewMetricsServer(metrics.WithAddress(opts.metricsAddress),
			metrics.WithHealthChecker(sim.handler)).Start(ctx)
		if err != nil {
			_ = sim.handler.Stop(ctx, false)
			return fmt.Errorf("failed to start metrics server, %w", err)
		}
		log.Infow("Serving metrics", "address", addr)
		defer func() {
			err = multierr.Append(err, shutdown(context.WithoutCancel(ctx)))
		}()
	}

	if err := sim.handler.Start(ctx); err != nil {
		return err
	}
	shuffler := shuffle.NewShuffle(conf.NumberOfWorkerThreads)
	g, gCtx := errgroup.WithContext(ctx)
	for o := 0; o < opts.origins; o++ {
		origin := watermark.OriginID(o)
		g.Go(func() error {
			return generate(gCtx, opts, sim, origin, shuffler)
		})
	}
	runErr := g.Wait()
	interrupted := errors.Is(runErr, context.Canceled)
	if interrupted {
		log.Info("Simulation interrupted, flushing the open windows")
		runErr = nil
	}
	// the remaining windows are flushed unless a build failed
	err = multierr.Append(runErr, sim.handler.Stop(context.WithoutCancel(ctx), runErr == nil))
	log.Infow("Simulation finished", append(sink.summary(), "buildWatermark", sim.handler.BuildWatermark(), zap.Error(err))...)
	return err
}
