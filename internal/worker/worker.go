// Package worker implements the search job execution loop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	cacheredis "github.com/dumbsheep1990/policy-search-engine/internal/cache/redis"
	"github.com/dumbsheep1990/policy-search-engine/internal/metrics"
	"github.com/dumbsheep1990/policy-search-engine/internal/portal"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// Config controls Worker behavior.
type Config struct {
	// Topic is the completion event topic; empty disables publishing.
	Topic string
}

// Worker consumes queue items and runs the search pipeline for each job.
type Worker struct {
	queue     search.Queue
	jobs      search.JobStore
	tool      *portal.AsyncTool
	publisher search.Publisher
	cache     search.Cache
	clock     search.Clock
	registry  *Registry
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. Publisher and cache are optional.
func New(
	queue search.Queue,
	jobs search.JobStore,
	tool *portal.AsyncTool,
	publisher search.Publisher,
	cache search.Cache,
	clock search.Clock,
	registry *Registry,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobs:      jobs,
		tool:      tool,
		publisher: publisher,
		cache:     cache,
		clock:     clock,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item search.QueueItem) {
	metrics.WorkerStarted()
	defer metrics.WorkerFinished()

	// Confirm the job was not canceled while queued.
	if job, err := w.jobs.GetJob(ctx, item.JobID); err == nil && job.Status == search.JobStatusCanceled {
		w.logger.Info("skipping canceled job", zap.String("job_id", item.JobID))
		return
	}

	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, search.JobStatusRunning, "", search.JobCounters{}); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	jobCtx, cancel := w.registry.Register(ctx, item.JobID)
	defer cancel()
	defer w.registry.Release(item.JobID)

	if w.serveFromCache(jobCtx, item) {
		return
	}

	results, counters, runErr := w.tool.Run(jobCtx, item.JobID, item.Params)
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}

	if runErr == nil {
		if err := w.jobs.StoreResults(jobCtx, item.JobID, results); err != nil {
			w.logger.Error("store results failed", zap.String("job_id", item.JobID), zap.Error(err))
			errText = err.Error()
			runErr = err
		} else if w.cache != nil {
			if err := w.cache.Set(jobCtx, cacheredis.Key(item.Params), results); err != nil {
				w.logger.Warn("cache set failed", zap.String("job_id", item.JobID), zap.Error(err))
			}
		}
	}

	status := w.deriveFinalStatus(jobCtx, runErr)
	metrics.ObserveJob(string(status))
	if status == search.JobStatusSucceeded {
		metrics.ObserveRankedResults(counters.ResultsRanked)
	}
	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	w.publishCompletion(ctx, item.JobID, status, counters)
}

// serveFromCache resolves the job from the result cache when possible; it
// reports whether the job was fully handled.
func (w *Worker) serveFromCache(ctx context.Context, item search.QueueItem) bool {
	if w.cache == nil {
		return false
	}
	cached, found, err := w.cache.Get(ctx, cacheredis.Key(item.Params))
	if err != nil {
		w.logger.Warn("cache get failed", zap.String("job_id", item.JobID), zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	if err := w.jobs.StoreResults(ctx, item.JobID, cached); err != nil {
		w.logger.Error("store cached results failed", zap.String("job_id", item.JobID), zap.Error(err))
		return false
	}
	counters := search.JobCounters{ResultsRanked: len(cached)}
	metrics.ObserveJob(string(search.JobStatusSucceeded))
	metrics.ObserveRankedResults(len(cached))
	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, search.JobStatusSucceeded, "", counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	w.logger.Info("job served from cache", zap.String("job_id", item.JobID), zap.Int("results", len(cached)))
	w.publishCompletion(ctx, item.JobID, search.JobStatusSucceeded, counters)
	return true
}

func (w *Worker) publishCompletion(ctx context.Context, jobID string, status search.JobStatus, counters search.JobCounters) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	now := time.Now().UTC()
	if w.clock != nil {
		now = w.clock.Now()
	}
	payload := map[string]any{
		"job_id":           jobID,
		"status":           string(status),
		"results_ranked":   counters.ResultsRanked,
		"portals_searched": counters.PortalsSearched,
		"portals_failed":   counters.PortalsFailed,
		"finished_at":      now.Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish completion failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	w.logger.Info("job completion published",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Int("results_ranked", counters.ResultsRanked),
	)
}

func (w *Worker) deriveFinalStatus(ctx context.Context, runErr error) search.JobStatus {
	switch {
	case ctx.Err() != nil:
		return search.JobStatusCanceled
	case runErr != nil:
		return search.JobStatusFailed
	default:
		return search.JobStatusSucceeded
	}
}
