package worker

import (
	"context"
	"sync"
)

// Registry tracks cancel functions for running jobs so the API can abort
// in-flight searches.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]context.CancelFunc)}
}

// Register derives a cancelable context for the job and records its cancel
// function until Release is called.
func (r *Registry) Register(ctx context.Context, jobID string) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()
	return jobCtx, cancel
}

// Release forgets the job's cancel function.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	delete(r.cancels, jobID)
	r.mu.Unlock()
}

// Cancel aborts a running job, reporting whether it was in flight.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
