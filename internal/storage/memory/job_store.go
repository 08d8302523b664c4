// Package memory provides in-memory persistence implementations for
// development and testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// JobStore keeps jobs and ranked results in process memory.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]search.Job
	results map[string][]search.RankedResult
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]search.Job),
		results: make(map[string][]search.RankedResult),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job search.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status, error text, and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status search.JobStatus,
	errText string,
	counters search.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == search.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// StoreResults replaces the ranked results for a job.
func (s *JobStore) StoreResults(_ context.Context, jobID string, results []search.RankedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return errors.New("job not found")
	}
	stored := make([]search.RankedResult, len(results))
	copy(stored, results)
	s.results[jobID] = stored
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (search.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return search.Job{}, errors.New("job not found")
	}
	return job, nil
}

// ListResults returns the ranked results stored for a job.
func (s *JobStore) ListResults(_ context.Context, jobID string) ([]search.RankedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.results[jobID]
	out := make([]search.RankedResult, len(results))
	copy(out, results)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status search.JobStatus) bool {
	switch status {
	case search.JobStatusSucceeded, search.JobStatusFailed, search.JobStatusCanceled:
		return true
	default:
		return false
	}
}
