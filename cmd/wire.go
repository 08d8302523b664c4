package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/aggregate"
	"github.com/dumbsheep1990/policy-search-engine/internal/config"
	"github.com/dumbsheep1990/policy-search-engine/internal/engine"
	"github.com/dumbsheep1990/policy-search-engine/internal/fetch/browser"
	"github.com/dumbsheep1990/policy-search-engine/internal/fetch/static"
	"github.com/dumbsheep1990/policy-search-engine/internal/portal"
	"github.com/dumbsheep1990/policy-search-engine/internal/ratelimit"
	"github.com/dumbsheep1990/policy-search-engine/internal/schedule"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
	gcsstore "github.com/dumbsheep1990/policy-search-engine/internal/storage/gcs"
	localstore "github.com/dumbsheep1990/policy-search-engine/internal/storage/local"
	memorystore "github.com/dumbsheep1990/policy-search-engine/internal/storage/memory"
)

// buildScheduler assembles the crawl backends and the routing scheduler.
// The browser backend is only wired when enabled in config; init failures
// there degrade to static-only crawling instead of aborting startup.
func buildScheduler(cfg config.Config, logger *zap.Logger) (*schedule.Scheduler, func(), error) {
	crawlTimeout := time.Duration(cfg.Crawl.TimeoutSeconds) * time.Second
	staticBackend := static.New(static.Config{
		UserAgent:     cfg.Crawl.UserAgent,
		RespectRobots: cfg.Crawl.RespectRobots,
		Timeout:       crawlTimeout,
	})

	var browserBackend search.Crawler
	closeBrowser := func() {}
	if cfg.Crawl.Browser.Enabled {
		bf, err := browser.New(browser.Config{
			MaxParallel:       cfg.Crawl.Browser.MaxParallel,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(cfg.Crawl.Browser.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("browser backend init failed, continuing static-only", zap.Error(err))
		} else {
			browserBackend = bf
			closeBrowser = bf.Close
		}
	}

	sched, err := schedule.New(schedule.Config{
		QualityThreshold: cfg.Scheduler.QualityThreshold,
		DynamicHosts:     cfg.Scheduler.DynamicHosts,
		WindowSize:       cfg.Scheduler.WindowSize,
	}, staticBackend, browserBackend, logger.Named("scheduler"))
	if err != nil {
		closeBrowser()
		return nil, nil, fmt.Errorf("init scheduler: %w", err)
	}
	return sched, closeBrowser, nil
}

// buildBlobStore selects the snapshot store by configuration precedence:
// GCS bucket, then local directory, then in-memory.
func buildBlobStore(ctx context.Context, cfg config.Config) (search.BlobStore, func(), error) {
	switch {
	case cfg.Storage.GCSBucket != "":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	case cfg.Storage.LocalDir != "":
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, func() {}, nil
	default:
		return memorystore.NewBlobStore(), func() {}, nil
	}
}

// buildAsyncTool wires the portal client, execution engine, aggregator
// config, and scheduler into the async search pipeline.
func buildAsyncTool(
	cfg config.Config,
	sched *schedule.Scheduler,
	snapshots search.BlobStore,
	clock search.Clock,
	logger *zap.Logger,
) (*portal.AsyncTool, error) {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawl.PerHostRPS,
		DefaultBurst: cfg.Crawl.PerHostBurst,
	})
	client := portal.NewClient(
		&http.Client{Timeout: time.Duration(cfg.Crawl.TimeoutSeconds) * time.Second},
		cfg.Crawl.UserAgent,
		limiter,
		logger.Named("portal"),
	)

	portals := make([]portal.Portal, 0, len(cfg.Portals))
	for _, pc := range cfg.Portals {
		portals = append(portals, portal.FromConfig(pc))
	}
	portal.ApplyHostLimits(limiter, portals)

	eng := engine.New(engine.Config{
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		TaskTimeout:    cfg.TaskTimeout(),
		MaxRetries:     cfg.Engine.MaxRetries,
		RatePerSecond:  cfg.Engine.RatePerSecond,
		RateBurst:      cfg.Engine.RateBurst,
		BackoffBase:    time.Duration(cfg.Engine.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Engine.BackoffMaxMs) * time.Millisecond,
	}, logger.Named("engine"))

	ranking := aggregate.Config{
		Weights: aggregate.Weights{
			Relevance: cfg.Ranking.RelevanceWeight,
			Quality:   cfg.Ranking.QualityWeight,
			Freshness: cfg.Ranking.FreshnessWeight,
			Authority: cfg.Ranking.AuthorityWeight,
			Coverage:  cfg.Ranking.CoverageWeight,
		},
		HalfLifeDays:    cfg.Ranking.HalfLifeDays,
		TopK:            cfg.Ranking.TopKDefault,
		MaxPerSource:    cfg.Ranking.MaxPerSource,
		AuthorityByHost: cfg.Ranking.AuthorityByHost,
	}

	return portal.NewAsyncTool(portal.AsyncToolConfig{
		Client:              client,
		Portals:             portals,
		Engine:              eng,
		Ranking:             ranking,
		Clock:               clock,
		Scheduler:           sched,
		Snapshots:           snapshots,
		SnapshotPrefix:      cfg.Storage.Prefix,
		SnapshotContentType: cfg.Storage.ContentType,
		Logger:              logger.Named("search"),
	})
}
