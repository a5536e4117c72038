// Package server builds the placesearch service from configuration and runs
// it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/api"
	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/config"
	"github.com/JakeFAU/places-search/internal/dispatcher"
	"github.com/JakeFAU/places-search/internal/id/uuid"
	"github.com/JakeFAU/places-search/internal/jobs"
	"github.com/JakeFAU/places-search/internal/orchestrator"
	"github.com/JakeFAU/places-search/internal/policy/ratelimit"
	"github.com/JakeFAU/places-search/internal/progress"
	progresssinks "github.com/JakeFAU/places-search/internal/progress/sinks"
	"github.com/JakeFAU/places-search/internal/provider"
	memorypublisher "github.com/JakeFAU/places-search/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/places-search/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/places-search/internal/queue/memory"
	"github.com/JakeFAU/places-search/internal/search"
	gcsstorage "github.com/JakeFAU/places-search/internal/storage/gcs"
	localstorage "github.com/JakeFAU/places-search/internal/storage/local"
	memoryStorage "github.com/JakeFAU/places-search/internal/storage/memory"
	pgstore "github.com/JakeFAU/places-search/internal/storage/postgres"
	redisstore "github.com/JakeFAU/places-search/internal/storage/redis"
	"github.com/JakeFAU/places-search/internal/telemetry"
	"github.com/JakeFAU/places-search/internal/walker"
	"github.com/JakeFAU/places-search/internal/worker"
)

// Version is stamped into the tracing resource.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	jobStore    search.JobStore
	service     *jobs.Service
	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	queue       *queueMemory.Queue
	progressHub *progress.Hub

	pubsubClient   *pubsub.Client
	pubsubPub      *gcppublisher.Publisher
	storageClient  *storage.Client
	closers        []func() error
	checks         map[string]api.Checker
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, checks: map[string]api.Checker{}}

	tp, err := telemetry.InitTelemetry(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("blob_backend", cfg.Storage.BlobBackend),
	)

	if err := app.setupJobStore(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	emitter, err := app.setupProgress()
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	orch, err := app.setupOrchestrator(emitter, publisher)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	clock := system.New()
	app.queue = queueMemory.NewQueue(cfg.Orchestrator.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Orchestrator.Concurrency)
	for i := 0; i < cfg.Orchestrator.Concurrency; i++ {
		workers = append(workers, worker.New(i+1, app.queue, orch, clock, app.logger.Named("worker")))
	}
	app.dispatch = dispatcher.New(app.queue, workers, clock)

	app.service = jobs.NewService(
		app.jobStore,
		app.dispatch,
		blobs,
		uuid.NewUUIDGenerator(),
		clock,
		jobs.Config{
			DefaultResultCap: cfg.Jobs.DefaultResultCap,
			MaxResultCap:     cfg.Jobs.MaxResultCap,
			ExportPrefix:     cfg.Storage.ExportPrefix,
		},
		app.logger,
	)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.service, api.Config{
		APIKey:         apiKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, app.logger, app.checks)

	return app, nil
}

func (a *App) setupJobStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewJobStore(ctx, pgstore.Config{
			DSN:             a.cfg.Database.DSN,
			Table:           a.cfg.Database.Table,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
			AutoMigrate:     a.cfg.Database.AutoMigrate,
		})
		if err != nil {
			return fmt.Errorf("postgres job store init failed: %w", err)
		}
		a.jobStore = store
		a.checks["postgres"] = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		a.logger.Info("using postgres job store", zap.String("table", a.cfg.Database.Table))
	case config.BackendRedis:
		client, err := redisstore.NewClient(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis client init failed: %w", err)
		}
		store, err := redisstore.NewJobStore(client, redisstore.WithPrefix(a.cfg.Redis.KeyPrefix))
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("redis job store init failed: %w", err)
		}
		a.jobStore = store
		a.checks["redis"] = store
		a.closers = append(a.closers, store.Close)
		a.logger.Info("using redis job store", zap.String("prefix", a.cfg.Redis.KeyPrefix))
	default:
		a.jobStore = memoryStorage.NewJobStore()
		a.logger.Info("using in-memory job store")
	}
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) (search.BlobStore, error) {
	switch a.cfg.Storage.BlobBackend {
	case config.BlobGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := blobs.CheckBucket(ctx); err != nil {
			return nil, err
		}
		a.logger.Info("using GCS export archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.BlobLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local export archive", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	case config.BlobNone:
		a.logger.Info("export archive disabled")
		return nil, nil
	default:
		a.logger.Info("using in-memory export archive")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (search.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPub = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPub, nil
}

func (a *App) setupProgress() (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return a.progressHub, nil
}

func (a *App) setupOrchestrator(emitter progress.Emitter, publisher search.Publisher) (*orchestrator.Orchestrator, error) {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.RateLimit.RPS,
		DefaultBurst: a.cfg.RateLimit.Burst,
	})
	client, err := provider.New(provider.Config{
		BaseURL: a.cfg.Provider.BaseURL,
		APIKey:  a.cfg.Provider.APIKey,
		Timeout: a.cfg.Provider.Timeout,
	}, limiter, a.logger.Named("provider"))
	if err != nil {
		return nil, fmt.Errorf("provider client init failed: %w", err)
	}
	pager := walker.New(client, walker.Config{
		PageSize:       a.cfg.Walker.PageSize,
		MaxPages:       a.cfg.Walker.MaxPages,
		EmptyPageLimit: a.cfg.Walker.EmptyPageLimit,
		PageDelay:      a.cfg.Walker.PageDelay,
	}, a.logger.Named("walker"))

	topic := ""
	if a.cfg.PubSub.Enabled {
		topic = a.cfg.PubSub.TopicName
	}
	a.logger.Info("orchestrator config",
		zap.Int("concurrency", a.cfg.Orchestrator.Concurrency),
		zap.Int("progress_every", a.cfg.Orchestrator.ProgressEvery),
		zap.Int("min_city_budget", a.cfg.Orchestrator.MinCityBudget),
		zap.Float64("provider_rps", a.cfg.RateLimit.RPS),
	)
	return orchestrator.New(a.jobStore, pager, system.New(), emitter, publisher, orchestrator.Config{
		Topic:           topic,
		ProgressEvery:   a.cfg.Orchestrator.ProgressEvery,
		MinCityBudget:   a.cfg.Orchestrator.MinCityBudget,
		FinalizeTimeout: a.cfg.Orchestrator.FinalizeTimeout,
	}, a.logger), nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and executes jobs until ctx is canceled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.cfg.Orchestrator.RecoverOnStart {
		if _, err := a.service.Recover(ctx); err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			return fmt.Errorf("recover jobs: %w", err)
		}
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Orchestrator.Concurrency))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Close()
		a.pubsubPub = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storageClient = nil
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("job store close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
