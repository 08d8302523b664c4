// Package engine runs bounded-concurrency batches of named tasks with shared
// rate limiting, per-attempt timeouts, retry, and optional result aggregation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dumbsheep1990/policy-search-engine/internal/metrics"
)

// Status classifies the outcome of a single task.
type Status string

// Task outcome values.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCanceled  Status = "canceled"
)

// Config controls Engine behavior.
type Config struct {
	MaxConcurrency int
	TaskTimeout    time.Duration
	MaxRetries     int
	RatePerSecond  float64
	RateBurst      int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Task is a named unit of work executed by the engine.
type Task struct {
	ID  string
	Run func(ctx context.Context) (any, error)
}

// TaskResult captures the outcome of one task, including retry bookkeeping.
type TaskResult struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Value     any           `json:"-"`
	Err       string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// Aggregator combines the values of successful tasks into a single output.
type Aggregator func(values []any) (any, error)

// Result is the outcome of one Execute call. Tasks holds per-task results in
// submission order; Aggregate is set when an Aggregator was supplied and at
// least one task succeeded.
type Result struct {
	Tasks        []TaskResult  `json:"tasks"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	TimedOut     int           `json:"timed_out"`
	Canceled     int           `json:"canceled"`
	Duration     time.Duration `json:"duration"`
	Aggregate    any           `json:"-"`
	AggregateErr string        `json:"aggregate_error,omitempty"`
}

// Engine executes task batches. It is safe for concurrent use; the rate
// limiter is shared across all Execute calls on the same Engine.
type Engine struct {
	cfg     Config
	retry   *RetryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New constructs an Engine, applying defaults for unset config values.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		retry:   NewRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Execute fans the tasks out across the worker pool and blocks until every
// task finished or the context ended. Per-task failures never abort the
// batch; an aggregator error is reported on the Result, not as an error.
func (e *Engine) Execute(ctx context.Context, tasks []Task, agg Aggregator) (Result, error) {
	start := time.Now()
	result := Result{Tasks: make([]TaskResult, len(tasks))}
	if len(tasks) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}
	for i, task := range tasks {
		if task.Run == nil {
			return Result{}, fmt.Errorf("task %d (%q) has no run function", i, task.ID)
		}
	}

	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrency))
	for i := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context ended while waiting for a slot; mark the rest canceled.
			for j := i; j < len(tasks); j++ {
				result.Tasks[j] = TaskResult{
					ID:        tasks[j].ID,
					Status:    StatusCanceled,
					Err:       ctx.Err().Error(),
					StartedAt: time.Now().UTC(),
				}
			}
			break
		}
		go func(idx int, task Task) {
			defer sem.Release(1)
			result.Tasks[idx] = e.runTask(ctx, task)
		}(i, tasks[i])
	}
	// Acquiring the full weight waits for all in-flight tasks.
	if err := sem.Acquire(context.Background(), int64(e.cfg.MaxConcurrency)); err == nil {
		sem.Release(int64(e.cfg.MaxConcurrency))
	}

	values := make([]any, 0, len(tasks))
	for _, tr := range result.Tasks {
		switch tr.Status {
		case StatusSucceeded:
			result.Succeeded++
			values = append(values, tr.Value)
		case StatusTimedOut:
			result.TimedOut++
		case StatusCanceled:
			result.Canceled++
		default:
			result.Failed++
		}
	}

	if agg != nil && len(values) > 0 {
		aggregate, err := agg(values)
		if err != nil {
			result.AggregateErr = err.Error()
			e.logger.Warn("aggregator failed", zap.Error(err))
		} else {
			result.Aggregate = aggregate
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) runTask(ctx context.Context, task Task) TaskResult {
	tr := TaskResult{ID: task.ID, StartedAt: time.Now().UTC()}
	var lastErr error

	for attempt := 1; ; attempt++ {
		tr.Attempts = attempt
		if err := e.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
		value, err := task.Run(attemptCtx)
		cancel()

		if err == nil {
			tr.Status = StatusSucceeded
			tr.Value = value
			tr.Duration = time.Since(tr.StartedAt)
			metrics.ObserveEngineTask(string(tr.Status), tr.Duration)
			return tr
		}
		lastErr = err

		if ctx.Err() != nil || !e.retry.ShouldRetry(err, attempt) {
			break
		}
		e.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !sleepCtx(ctx, e.retry.Backoff(attempt)) {
			lastErr = ctx.Err()
			break
		}
	}

	tr.Status = classifyFailure(ctx, lastErr)
	if lastErr != nil {
		tr.Err = lastErr.Error()
	}
	tr.Duration = time.Since(tr.StartedAt)
	metrics.ObserveEngineTask(string(tr.Status), tr.Duration)
	return tr
}

func classifyFailure(ctx context.Context, err error) Status {
	switch {
	case ctx.Err() != nil:
		return StatusCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimedOut
	default:
		return StatusFailed
	}
}

// sleepCtx waits d or until the context ends; it reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
