// Package schedule routes crawl requests between the static and browser
// backends, scoring payload quality and failing over when a backend
// underdelivers.
package schedule

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/metrics"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// Config controls routing and failover behavior.
type Config struct {
	// QualityThreshold triggers failover when the first payload scores below it.
	QualityThreshold float64
	// DynamicHosts are always routed to the browser backend.
	DynamicHosts []string
	// WindowSize bounds the per-backend success counters.
	WindowSize int
}

// Scheduler picks a crawl backend per URL and retries on the other backend
// when the first attempt fails or produces a low-quality payload.
type Scheduler struct {
	static     search.Crawler
	browser    search.Crawler
	classifier *Classifier
	threshold  float64
	window     int
	logger     *zap.Logger

	mu    sync.Mutex
	stats map[string]*backendStats
}

type backendStats struct {
	successes int
	attempts  int
}

func (s *backendStats) rate() float64 {
	if s.attempts == 0 {
		return 1
	}
	return float64(s.successes) / float64(s.attempts)
}

// New constructs a Scheduler. The browser backend may be nil, in which case
// every request runs on the static backend without failover.
func New(cfg Config, staticBackend, browserBackend search.Crawler, logger *zap.Logger) (*Scheduler, error) {
	if staticBackend == nil {
		return nil, fmt.Errorf("static backend is required")
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = 0.35
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		static:     staticBackend,
		browser:    browserBackend,
		classifier: NewClassifier(cfg.DynamicHosts),
		threshold:  cfg.QualityThreshold,
		window:     cfg.WindowSize,
		logger:     logger,
		stats:      make(map[string]*backendStats),
	}, nil
}

// Fetch crawls the URL with the backend selected for its complexity class,
// then fails over to the other backend on error or low quality. The better
// payload wins.
func (s *Scheduler) Fetch(ctx context.Context, request search.CrawlRequest) (search.CrawlResponse, QualityReport, error) {
	primary, secondary := s.route(request.URL)

	resp, report, err := s.attempt(ctx, primary, request)
	if err == nil && report.Score >= s.threshold {
		return resp, report, nil
	}
	if secondary == nil {
		if err != nil {
			return search.CrawlResponse{}, QualityReport{}, err
		}
		// Low quality with nowhere to fail over; the payload is still usable.
		return resp, report, nil
	}
	if ctx.Err() != nil {
		return search.CrawlResponse{}, QualityReport{}, fmt.Errorf("crawl canceled: %w", ctx.Err())
	}

	s.logger.Debug("failing over to secondary backend",
		zap.String("url", request.URL),
		zap.String("primary", primary.Name()),
		zap.String("secondary", secondary.Name()),
		zap.Float64("quality", report.Score),
		zap.Error(err),
	)

	altResp, altReport, altErr := s.attempt(ctx, secondary, request)
	switch {
	case err == nil && altErr == nil:
		if altReport.Score > report.Score {
			return altResp, altReport, nil
		}
		return resp, report, nil
	case altErr == nil:
		return altResp, altReport, nil
	case err == nil:
		return resp, report, nil
	default:
		return search.CrawlResponse{}, QualityReport{},
			fmt.Errorf("both backends failed: %s: %w; %s: %v", primary.Name(), err, secondary.Name(), altErr)
	}
}

// Classify exposes the URL complexity heuristic.
func (s *Scheduler) Classify(rawURL string) Complexity {
	return s.classifier.Classify(rawURL)
}

func (s *Scheduler) route(rawURL string) (primary, secondary search.Crawler) {
	if s.browser == nil {
		return s.static, nil
	}
	switch s.classifier.Classify(rawURL) {
	case ComplexityStatic:
		return s.static, s.browser
	case ComplexityDynamic:
		return s.browser, s.static
	default:
		// Unknown complexity: prefer the backend that has been succeeding,
		// with the cheap static backend winning ties.
		if s.successRate(s.browser.Name()) > s.successRate(s.static.Name()) {
			return s.browser, s.static
		}
		return s.static, s.browser
	}
}

func (s *Scheduler) attempt(ctx context.Context, backend search.Crawler, request search.CrawlRequest) (search.CrawlResponse, QualityReport, error) {
	resp, err := backend.Crawl(ctx, request)
	if err != nil {
		s.record(backend.Name(), false)
		metrics.ObserveCrawl(backend.Name(), "error")
		return search.CrawlResponse{}, QualityReport{}, fmt.Errorf("%s crawl: %w", backend.Name(), err)
	}
	report := EvaluateQuality(resp.Body)
	ok := report.Score >= s.threshold
	s.record(backend.Name(), ok)
	if ok {
		metrics.ObserveCrawl(backend.Name(), "ok")
	} else {
		metrics.ObserveCrawl(backend.Name(), "low_quality")
	}
	return resp, report, nil
}

func (s *Scheduler) record(backend string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[backend]
	if !ok {
		st = &backendStats{}
		s.stats[backend] = st
	}
	st.attempts++
	if success {
		st.successes++
	}
	// Keep the window bounded so old behavior ages out.
	if st.attempts > s.window {
		st.attempts /= 2
		st.successes /= 2
	}
}

func (s *Scheduler) successRate(backend string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[backend]
	if !ok {
		return 1
	}
	return st.rate()
}
