// Package metrics exposes Prometheus collectors for the policy search service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchJobsTotal            *prometheus.CounterVec
	portalRequestsTotal        *prometheus.CounterVec
	crawlTotal                 *prometheus.CounterVec
	engineTaskDurationSeconds  *prometheus.HistogramVec
	rankedResultsPerJob        prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policysearch_jobs_total",
				Help: "Total number of search jobs processed, labeled by final status.",
			},
			[]string{"status"},
		)

		portalRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policysearch_portal_requests_total",
				Help: "Total number of portal search requests, labeled by portal and outcome.",
			},
			[]string{"portal", "outcome"},
		)

		crawlTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policysearch_crawl_total",
				Help: "Total number of crawl attempts, labeled by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		)

		engineTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policysearch_engine_task_duration_seconds",
				Help:    "Histogram of engine task latencies, labeled by task status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		rankedResultsPerJob = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "policysearch_ranked_results_per_job",
				Help:    "Histogram of ranked result counts returned per job.",
				Buckets: []float64{0, 5, 10, 20, 50, 100},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policysearch_rate_limit_delay_seconds",
				Help:    "Histogram of delays introduced by per-host rate limiting.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "policysearch_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)
	})
}

// ObserveJob records the final status of a processed search job.
func ObserveJob(status string) {
	Init()
	searchJobsTotal.WithLabelValues(status).Inc()
}

// ObservePortalRequest records one portal search request outcome. The
// outcome is either a status code ("502") or an error class ("parse_error").
func ObservePortalRequest(portal, outcome string) {
	Init()
	portalRequestsTotal.WithLabelValues(portal, outcome).Inc()
}

// ObserveCrawl records one crawl attempt outcome for a backend.
func ObserveCrawl(backend, outcome string) {
	Init()
	crawlTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveEngineTask records the latency of one engine task.
func ObserveEngineTask(status string, d time.Duration) {
	Init()
	engineTaskDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveRankedResults records the ranked result count for a finished job.
func ObserveRankedResults(n int) {
	Init()
	rankedResultsPerJob.Observe(float64(n))
}

// ObserveRateLimitDelay records a delay introduced by the per-host limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest records an API request outcome.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	Init()
	activeWorkers.Inc()
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	Init()
	activeWorkers.Dec()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
