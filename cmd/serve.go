package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/api"
	cacheredis "github.com/dumbsheep1990/policy-search-engine/internal/cache/redis"
	"github.com/dumbsheep1990/policy-search-engine/internal/clock/system"
	"github.com/dumbsheep1990/policy-search-engine/internal/config"
	"github.com/dumbsheep1990/policy-search-engine/internal/dispatcher"
	"github.com/dumbsheep1990/policy-search-engine/internal/id/uuid"
	"github.com/dumbsheep1990/policy-search-engine/internal/logging"
	"github.com/dumbsheep1990/policy-search-engine/internal/metrics"
	pubsubpublisher "github.com/dumbsheep1990/policy-search-engine/internal/publisher/pubsub"
	quememory "github.com/dumbsheep1990/policy-search-engine/internal/queue/memory"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
	memorystore "github.com/dumbsheep1990/policy-search-engine/internal/storage/memory"
	pgstore "github.com/dumbsheep1990/policy-search-engine/internal/storage/postgres"
	"github.com/dumbsheep1990/policy-search-engine/internal/telemetry"
	"github.com/dumbsheep1990/policy-search-engine/internal/worker"
)

const serviceVersion = "0.1.0"

// newServeCmd creates the 'serve' subcommand running the HTTP service.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the policy search HTTP service",
		Long: `Runs the long-lived service: the HTTP API accepts search jobs, a
bounded queue feeds a fixed worker pool, and each worker fans the job
out across the configured portals, ranks the merged results, and
persists them for retrieval.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, "policy-search-engine", serviceVersion); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	jobStore, closeJobs, err := buildJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeJobs()

	blobStore, closeBlobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	var resultCache search.Cache
	if cfg.Cache.Enabled {
		cache, err := cacheredis.New(ctx, cacheredis.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.CacheTTL(),
		}, logger.Named("cache"))
		if err != nil {
			return fmt.Errorf("init result cache: %w", err)
		}
		defer func() { _ = cache.Close() }()
		resultCache = cache
	}

	sched, closeBrowser, err := buildScheduler(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBrowser()

	clock := system.New()
	tool, err := buildAsyncTool(cfg, sched, blobStore, clock, logger)
	if err != nil {
		return fmt.Errorf("init search tool: %w", err)
	}

	queue := quememory.NewQueue(cfg.Engine.QueueDepth)
	registry := worker.NewRegistry()
	workerCfg := worker.Config{Topic: cfg.PubSub.TopicName}

	workers := make([]*worker.Worker, 0, cfg.Server.Workers)
	for i := 0; i < cfg.Server.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			tool,
			publisher,
			resultCache,
			clock,
			registry,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(jobStore, dispatch, registry, uuid.New(), clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildJobStore connects to Postgres when a DSN is configured, falling back
// to the in-memory store otherwise.
func buildJobStore(ctx context.Context, cfg config.Config) (search.JobStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memorystore.NewJobStore(), func() {}, nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.JobStoreConfig{
		DSN:          cfg.DB.DSN,
		JobsTable:    cfg.DB.JobsTable,
		ResultsTable: cfg.DB.ResultsTable,
		MaxConns:     cfg.DB.MaxConns,
		MinConns:     cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres job store: %w", err)
	}
	return store, store.Close, nil
}

// buildPublisher wires the Pub/Sub completion publisher when a project and
// topic are configured. Without them job completion events are not published.
func buildPublisher(ctx context.Context, cfg config.Config) (search.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	closer := func() {
		topic.Stop()
		_ = client.Close()
	}
	return pubsubpublisher.New(topic), closer, nil
}
