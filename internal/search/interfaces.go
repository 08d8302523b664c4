package search

import (
	"context"
	"time"
)

// JobStore persists job metadata and ranked results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	StoreResults(ctx context.Context, jobID string, results []RankedResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListResults(ctx context.Context, jobID string) ([]RankedResult, error)
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Crawler fetches one document URL and returns the body plus metadata.
type Crawler interface {
	Name() string
	Crawl(ctx context.Context, request CrawlRequest) (CrawlResponse, error)
}

// Cache stores ranked result sets keyed by normalized query.
type Cache interface {
	Get(ctx context.Context, key string) ([]RankedResult, bool, error)
	Set(ctx context.Context, key string, results []RankedResult) error
}

// Queue provides enqueue/dequeue semantics for search jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
