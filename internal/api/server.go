// Package api exposes the HTTP interface for the policy search service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/config"
	"github.com/dumbsheep1990/policy-search-engine/internal/dispatcher"
	"github.com/dumbsheep1990/policy-search-engine/internal/metrics"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
	"github.com/dumbsheep1990/policy-search-engine/internal/worker"
)

// Server wires HTTP handlers to the dispatcher, stores, and cancel registry.
type Server struct {
	router     chi.Router
	jobStore   search.JobStore
	dispatcher *dispatcher.Dispatcher
	registry   *worker.Registry
	idGen      search.IDGenerator
	clock      search.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore search.JobStore,
	dispatcher *dispatcher.Dispatcher,
	registry *worker.Registry,
	idGen search.IDGenerator,
	clock search.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		registry:   registry,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/searches", func(r chi.Router) {
			r.Post("/", s.submitSearch)
			r.Post("/standard", s.submitStandardSearch)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getSearchStatus)
				r.Get("/results", s.getSearchResults)
				r.Post("/cancel", s.cancelSearch)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The store and queue are wired at startup; report ready once serving.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) submitStandardSearch(w http.ResponseWriter, r *http.Request) {
	var req standardSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "missing search name")
		return
	}
	templateParams, ok := s.cfg.StandardSearches[req.Name]
	if !ok {
		s.writeError(w, http.StatusNotFound, "standard search template not found")
		return
	}
	params := s.applyDefaults(cloneJobParameters(templateParams))
	if len(params.Keywords) == 0 {
		s.writeError(w, http.StatusInternalServerError, "standard search template has no keywords")
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getSearchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getSearchResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	results, err := s.jobStore.ListResults(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job results")
		return
	}
	s.writeJSON(w, http.StatusOK, search.JobResult{Job: job, Results: results})
}

func (s *Server) cancelSearch(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	switch job.Status {
	case search.JobStatusSucceeded, search.JobStatusFailed, search.JobStatusCanceled:
		s.writeError(w, http.StatusConflict, "job already finished")
		return
	}
	// Abort the in-flight run if a worker picked it up; queued jobs are
	// skipped by the worker after the status flips.
	if s.registry != nil {
		s.registry.Cancel(jobID)
	}
	if err := s.jobStore.UpdateJobStatus(
		r.Context(),
		jobID,
		search.JobStatusCanceled,
		"canceled via API",
		job.Counters,
	); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(search.JobStatusCanceled)})
}

func (s *Server) enqueueJob(ctx context.Context, params search.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := search.Job{
		ID:         jobID,
		Status:     search.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
		Counters:   search.JobCounters{},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := search.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toJobParameters(req searchRequest) (search.JobParameters, error) {
	if len(req.Keywords) == 0 {
		return search.JobParameters{}, errors.New("keywords required")
	}
	params := search.JobParameters{
		Keywords:        req.Keywords,
		Portals:         req.Portals,
		Tags:            req.Tags,
		FreshnessOnly:   boolOrDefault(req.FreshnessOnly, false),
		PublishedAfter:  req.PublishedAfter,
		PublishedBefore: req.PublishedBefore,
	}
	params.TopK = valueOrDefault(req.TopK, s.cfg.Ranking.TopKDefault)
	params.MaxPerSource = valueOrDefault(req.MaxPerSource, s.cfg.Ranking.MaxPerSource)
	params.EnrichTopN = valueOrDefault(req.EnrichTopN, 0)
	params.BudgetSeconds = valueOrDefault(req.BudgetSeconds, s.cfg.Engine.TaskTimeoutSec*2)
	params.CrawlAllowed = boolOrDefault(req.CrawlAllowed, true)
	params.CrawlProvided = req.CrawlAllowed != nil

	return s.applyDefaults(params), nil
}

type standardSearchRequest struct {
	Name string `json:"name"`
}

type searchRequest struct {
	Keywords        []string          `json:"keywords"`
	Portals         []string          `json:"portals"`
	TopK            *int              `json:"top_k"`
	MaxPerSource    *int              `json:"max_per_source"`
	EnrichTopN      *int              `json:"enrich_top_n"`
	BudgetSeconds   *int              `json:"budget_seconds"`
	CrawlAllowed    *bool             `json:"crawl_allowed"`
	FreshnessOnly   *bool             `json:"freshness_only"`
	PublishedAfter  *time.Time        `json:"published_after"`
	PublishedBefore *time.Time        `json:"published_before"`
	Tags            map[string]string `json:"tags"`
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) applyDefaults(params search.JobParameters) search.JobParameters {
	if params.TopK == 0 {
		params.TopK = s.cfg.Ranking.TopKDefault
	}
	if params.MaxPerSource == 0 {
		params.MaxPerSource = s.cfg.Ranking.MaxPerSource
	}
	if params.BudgetSeconds == 0 {
		params.BudgetSeconds = s.cfg.Engine.TaskTimeoutSec * 2
	}
	if !params.CrawlProvided {
		params.CrawlAllowed = true
		params.CrawlProvided = true
	}
	if params.Tags == nil {
		params.Tags = map[string]string{}
	}
	return params
}

func cloneJobParameters(src search.JobParameters) search.JobParameters {
	cp := src
	cp.Keywords = cloneStringSlice(src.Keywords)
	cp.Portals = cloneStringSlice(src.Portals)
	if src.Tags != nil {
		cp.Tags = make(map[string]string, len(src.Tags))
		for k, v := range src.Tags {
			cp.Tags[k] = v
		}
	}
	return cp
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSONStatic(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSONStatic(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
