// Package app wires a harvest run together: it loads the input files, builds the
// throttle, selector, fetcher, dispatcher and worker pool, and owns every
// long-lived service (progress hub, output sinks, tracer, metrics server) so
// they can be shut down in one place.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	gouuid "github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/clock/system"
	"github.com/JakeFAU/replica-harvester/internal/config"
	"github.com/JakeFAU/replica-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/replica-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/replica-harvester/internal/harvest"
	"github.com/JakeFAU/replica-harvester/internal/id/uuid"
	"github.com/JakeFAU/replica-harvester/internal/input"
	"github.com/JakeFAU/replica-harvester/internal/metrics"
	"github.com/JakeFAU/replica-harvester/internal/output"
	"github.com/JakeFAU/replica-harvester/internal/progress"
	"github.com/JakeFAU/replica-harvester/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/replica-harvester/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/replica-harvester/internal/queue/memory"
	"github.com/JakeFAU/replica-harvester/internal/selector"
	"github.com/JakeFAU/replica-harvester/internal/storage/gcs"
	"github.com/JakeFAU/replica-harvester/internal/storage/local"
	"github.com/JakeFAU/replica-harvester/internal/storage/postgres"
	"github.com/JakeFAU/replica-harvester/internal/telemetry"
	"github.com/JakeFAU/replica-harvester/internal/throttle"
	"github.com/JakeFAU/replica-harvester/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Paths names the three positional files of a run.
type Paths struct {
	Input     string
	Addresses string
	Output    string
}

// Options overrides collaborators; zero values select the production wiring.
type Options struct {
	Fetcher   harvest.Fetcher
	Publisher harvest.Publisher
	BlobStore harvest.BlobStore
	Registry  *prometheus.Registry
	// SpanProcessors are attached to the tracer provider.
	SpanProcessors []sdktrace.SpanProcessor
}

// App holds the services of one harvest run.
type App struct {
	cfg    config.Config
	paths  Paths
	runID  gouuid.UUID
	logger *zap.Logger
	clock  harvest.Clock

	replicas []harvest.Replica
	items    []string
	throttle *throttle.Throttle
	pool     *worker.Pool
	file     *output.FileSink
	archive  harvest.BlobStore
	registry *prometheus.Registry

	hub     *progress.Hub
	tracer  *sdktrace.TracerProvider
	metrics *http.Server
	closers []func(context.Context) error
}

// New performs every startup step. Any error here is a configuration or input
// problem and no worker has started yet.
func New(ctx context.Context, cfg config.Config, paths Paths, logger, diag *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, paths: paths, logger: logger, clock: system.New()}
	if err := a.init(ctx, diag, opts); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, diag *zap.Logger, opts Options) error {
	var err error
	if a.items, err = input.ReadItems(a.paths.Input); err != nil {
		return err
	}
	if a.replicas, err = input.ReadReplicas(a.paths.Addresses); err != nil {
		return fmt.Errorf("load replicas: %w", err)
	}
	if a.runID, err = uuid.NewUUIDGenerator().NewRunID(); err != nil {
		return err
	}
	a.logger = a.logger.With(zap.Stringer("run_id", a.runID))
	runID := progress.UUIDToBytes(a.runID)

	if err := a.initProgress(opts.Registry); err != nil {
		return err
	}
	if a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     a.cfg.Tracing.Enabled,
		ServiceName: a.cfg.Tracing.ServiceName,
		Logger:      a.logger,
		Processors:  opts.SpanProcessors,
	}); err != nil {
		return err
	}

	h := a.cfg.Harvest
	if a.throttle, err = throttle.New(a.replicas, throttle.Config{
		Limit: h.ConcurrencyPerProxy,
		RPS:   h.ReplicaRPS,
		Burst: 1,
	}); err != nil {
		return fmt.Errorf("build throttle: %w", err)
	}
	sel, err := selector.New(h.Selector, a.replicas, h.Seed)
	if err != nil {
		return fmt.Errorf("build selector: %w", err)
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(fetcherConfig(h))
	}
	disp := dispatcher.New(sel, a.throttle, fetcher, a.clock, a.hub, dispatcher.Config{
		MaxRetries:     h.MaxRetries,
		AttemptTimeout: h.AttemptTimeout,
		RunID:          runID,
		Tracer:         a.tracer.Tracer("github.com/JakeFAU/replica-harvester/internal/dispatcher"),
	}, diag)

	sink, err := a.initSinks(ctx, opts.Publisher)
	if err != nil {
		return err
	}
	if err := a.initArchive(ctx, opts.BlobStore); err != nil {
		return err
	}

	q := queueMemory.Preload(a.items)
	workers := make([]*worker.Worker, h.Workers)
	for i := range workers {
		workers[i] = worker.New(q, disp, sink, a.clock, a.hub,
			worker.Config{RunID: runID, MaxRetries: h.MaxRetries},
			a.logger.Named("worker").With(zap.Int("index", i)),
			diag,
		)
	}
	a.pool = worker.NewPool(workers, a.clock, a.hub, runID, a.logger.Named("pool"))

	a.startMetricsServer()
	a.logger.Info("harvest configured",
		zap.Int("items", len(a.items)),
		zap.Int("replicas", len(a.replicas)),
		zap.Int("workers", h.Workers),
		zap.Int("concurrency_per_proxy", h.ConcurrencyPerProxy),
		zap.Int("max_retries", h.MaxRetries),
		zap.String("selector", h.Selector),
	)
	return nil
}

// fetcherConfig matches the per-replica connection cap to the throttle limit.
func fetcherConfig(h config.HarvestConfig) collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:       h.UserAgent,
		Timeout:         h.AttemptTimeout,
		MaxConnsPerHost: h.ConcurrencyPerProxy,
	}
}

func (a *App) initProgress(reg *prometheus.Registry) error {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	a.registry = reg
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")},
		promSink,
		sinks.NewLogSink(a.logger),
	)
	return nil
}

// initSinks opens the output file and attaches the optional fan-out targets.
func (a *App) initSinks(ctx context.Context, pub harvest.Publisher) (harvest.Sink, error) {
	file, err := output.OpenFile(a.paths.Output)
	if err != nil {
		return nil, err
	}
	a.file = file

	var secondaries []harvest.Sink
	out := a.cfg.Output
	if pub == nil && out.PubSubTopic != "" {
		client, err := pubsub.NewClient(ctx, out.PubSubProject)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		p, err := pubsubpublisher.New(client, out.PubSubTopic)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			p.Stop()
			return client.Close()
		})
		pub = p
	}
	if pub != nil {
		secondaries = append(secondaries, output.NewPublishSink(pub, out.PubSubTopic, a.runID, a.clock))
	}
	if out.PostgresDSN != "" {
		store, err := postgres.NewDeliveryStore(ctx, postgres.Config{
			DSN:   out.PostgresDSN,
			Table: out.PostgresTable,
		}, a.runID, a.clock)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		secondaries = append(secondaries, store)
	}
	if len(secondaries) == 0 {
		return file, nil
	}
	return output.NewMulti(file, a.logger.Named("output"), secondaries...), nil
}

func (a *App) initArchive(ctx context.Context, store harvest.BlobStore) error {
	if store != nil {
		a.archive = store
		return nil
	}
	switch {
	case a.cfg.Archive.LocalDir != "":
		s, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("archive store: %w", err)
		}
		a.archive = s
	case a.cfg.Archive.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		s, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("archive store: %w", err)
		}
		a.archive = s
	}
	return nil
}

func (a *App) startMetricsServer() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	a.metrics = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           metrics.NewRouter(a.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.Addr))
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// RunID identifies this run in logs, events and archive paths.
func (a *App) RunID() gouuid.UUID {
	return a.runID
}

// Registry exposes the Prometheus registry backing /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Run drains the queue, closes the output file and archives it when configured.
// Per-item failures never surface here; only archive errors do.
func (a *App) Run(ctx context.Context) (harvest.Summary, error) {
	summary := a.pool.Run(ctx)
	a.logger.Info("harvest finished",
		zap.Int64("items", summary.Items),
		zap.Int64("delivered", summary.Delivered),
		zap.Int64("exhausted", summary.Exhausted),
		zap.Int64("fatal", summary.Fatal),
		zap.Int64("not_found", summary.NotFound),
		zap.Int64("canceled", summary.Canceled),
		zap.Int64("attempts", summary.Attempts),
		zap.Int64("sink_errors", summary.SinkErrors),
	)
	if err := a.file.Close(); err != nil {
		return summary, err
	}
	if a.archive == nil {
		return summary, nil
	}
	uri, err := output.Archive(ctx, a.archive, a.paths.Output, a.file.StartOffset(), a.cfg.Archive.Prefix, a.runID)
	if err != nil {
		return summary, err
	}
	a.logger.Info("output archived", zap.String("uri", uri))
	return summary, nil
}

// Close shuts every service down. Errors are logged, not returned.
func (a *App) Close(ctx context.Context) {
	if a.file != nil {
		if err := a.file.Close(); err != nil {
			a.logger.Warn("close output failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close output target failed", zap.Error(err))
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
