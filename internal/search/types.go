// Package search defines core types shared across the policy search subsystems.
package search

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a search job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobParameters captures per-job configuration knobs requested by the client.
type JobParameters struct {
	Keywords        []string          `json:"keywords"`
	Portals         []string          `json:"portals"`
	TopK            int               `json:"top_k"`
	MaxPerSource    int               `json:"max_per_source"`
	EnrichTopN      int               `json:"enrich_top_n"`
	BudgetSeconds   int               `json:"budget_seconds"`
	CrawlAllowed    bool              `json:"crawl_allowed" mapstructure:"crawl_allowed"`
	CrawlProvided   bool              `json:"-" mapstructure:"crawl_provided"`
	FreshnessOnly   bool              `json:"freshness_only"`
	PublishedAfter  *time.Time        `json:"published_after,omitempty"`
	PublishedBefore *time.Time        `json:"published_before,omitempty"`
	Tags            map[string]string `json:"tags"`
}

// Job represents the metadata persisted for each submitted search request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job outcome stats.
type JobCounters struct {
	PortalsSearched int `json:"portals_searched"`
	PortalsFailed   int `json:"portals_failed"`
	ResultsRaw      int `json:"results_raw"`
	ResultsRanked   int `json:"results_ranked"`
	PagesEnriched   int `json:"pages_enriched"`
	Retries         int `json:"retries"`
}

// Result is a single policy document surfaced by a portal search.
type Result struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Source      string     `json:"source"`
	Keyword     string     `json:"keyword,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Relevance   float64    `json:"relevance"`
	Quality     float64    `json:"quality"`
	Authority   float64    `json:"authority,omitempty"`
	Position    int        `json:"position"`
}

// RankedResult is a Result after aggregation, carrying the composite score
// and the merge bookkeeping used to produce it.
type RankedResult struct {
	Result
	Score       float64  `json:"score"`
	Fingerprint string   `json:"fingerprint"`
	Sources     []string `json:"sources,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Occurrences int      `json:"occurrences"`
	ContentURI  string   `json:"content_uri,omitempty"`
}

// CrawlRequest captures everything needed to fetch one document URL.
type CrawlRequest struct {
	JobID   string
	URL     string
	Headers http.Header
}

// CrawlResponse is the payload returned by a crawl backend.
type CrawlResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Backend    string
}

// JobResult is returned by the API results endpoint.
type JobResult struct {
	Job     Job            `json:"job"`
	Results []RankedResult `json:"results"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
