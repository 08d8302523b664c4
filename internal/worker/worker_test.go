package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dumbsheep1990/policy-search-engine/internal/aggregate"
	cacheredis "github.com/dumbsheep1990/policy-search-engine/internal/cache/redis"
	"github.com/dumbsheep1990/policy-search-engine/internal/config"
	"github.com/dumbsheep1990/policy-search-engine/internal/engine"
	"github.com/dumbsheep1990/policy-search-engine/internal/metrics"
	"github.com/dumbsheep1990/policy-search-engine/internal/portal"
	pubmemory "github.com/dumbsheep1990/policy-search-engine/internal/publisher/memory"
	quememory "github.com/dumbsheep1990/policy-search-engine/internal/queue/memory"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
	stomemory "github.com/dumbsheep1990/policy-search-engine/internal/storage/memory"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]search.RankedResult
	sets    int
}

func (c *fakeCache) Get(_ context.Context, key string) ([]search.RankedResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	results, ok := c.entries[key]
	return results, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, results []search.RankedResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]search.RankedResult)
	}
	c.entries[key] = results
	c.sets++
	return nil
}

func configPortal(baseURL string) config.PortalConfig {
	return config.PortalConfig{Name: "test-portal", BaseURL: baseURL}
}

func cacheKeyFor(params search.JobParameters) string {
	return cacheredis.Key(params)
}

func newSERPServer(t *testing.T, items int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>`)
		for i := 1; i <= items; i++ {
			fmt.Fprintf(w, `<div class="result"><h3>Notice %d</h3><a href="/doc-%d.html">x</a>
				<p>Policy notice body %d.</p></div>`, i, i, i)
		}
		fmt.Fprint(w, `</body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAsyncTool(t *testing.T, baseURL string) *portal.AsyncTool {
	t.Helper()
	client := portal.NewClient(http.DefaultClient, "test-bot", nil, nil)
	p := portal.FromConfig(configPortal(baseURL))
	tool, err := portal.NewAsyncTool(portal.AsyncToolConfig{
		Client:  client,
		Portals: []portal.Portal{p},
		Engine:  engine.New(engine.Config{MaxConcurrency: 2, TaskTimeout: 5 * time.Second}, nil),
		Ranking: aggregate.Config{Weights: aggregate.DefaultWeights(), TopK: 20, MaxPerSource: 20},
	})
	require.NoError(t, err)
	return tool
}

func newTestWorker(t *testing.T, tool *portal.AsyncTool, cache search.Cache) (*Worker, *quememory.Queue, *stomemory.JobStore, *pubmemory.Publisher) {
	t.Helper()
	queue := quememory.NewQueue(4)
	jobs := stomemory.NewJobStore()
	pub := pubmemory.New()
	w := New(queue, jobs, tool, pub, cache, nil, NewRegistry(), Config{Topic: "search-events"}, nil)
	return w, queue, jobs, pub
}

func createJob(t *testing.T, jobs *stomemory.JobStore, id string, params search.JobParameters) search.QueueItem {
	t.Helper()
	require.NoError(t, jobs.CreateJob(context.Background(), search.Job{
		ID:         id,
		Status:     search.JobStatusQueued,
		Submitted:  time.Now().UTC(),
		Parameters: params,
	}))
	return search.QueueItem{JobID: id, Params: params}
}

func TestWorkerProcessesJob(t *testing.T) {
	t.Parallel()

	srv := newSERPServer(t, 3)
	w, _, jobs, pub := newTestWorker(t, newAsyncTool(t, srv.URL), nil)
	item := createJob(t, jobs, "job-1", search.JobParameters{Keywords: []string{"policy"}})

	w.processJob(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, job.Counters.PortalsSearched)
	require.Equal(t, 3, job.Counters.ResultsRanked)

	results, err := jobs.ListResults(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, results, 3)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "search-events", msgs[0].Topic)
}

func TestWorkerMarksJobFailed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	w, _, jobs, _ := newTestWorker(t, newAsyncTool(t, srv.URL), nil)
	item := createJob(t, jobs, "job-2", search.JobParameters{Keywords: []string{"policy"}})

	w.processJob(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusFailed, job.Status)
	require.NotEmpty(t, job.ErrorText)
}

func TestWorkerSkipsCanceledJob(t *testing.T) {
	t.Parallel()

	srv := newSERPServer(t, 1)
	w, _, jobs, pub := newTestWorker(t, newAsyncTool(t, srv.URL), nil)
	item := createJob(t, jobs, "job-3", search.JobParameters{Keywords: []string{"policy"}})
	require.NoError(t, jobs.UpdateJobStatus(context.Background(), "job-3", search.JobStatusCanceled, "", search.JobCounters{}))

	w.processJob(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), "job-3")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusCanceled, job.Status)
	require.Empty(t, pub.Messages())
}

func TestWorkerServesFromCache(t *testing.T) {
	t.Parallel()

	srv := newSERPServer(t, 3)
	params := search.JobParameters{Keywords: []string{"policy"}}
	cached := []search.RankedResult{{Fingerprint: "fp-cached", Score: 0.9}}
	cache := &fakeCache{}
	require.NoError(t, cache.Set(context.Background(), cacheKeyFor(params), cached))

	w, _, jobs, pub := newTestWorker(t, newAsyncTool(t, srv.URL), cache)
	item := createJob(t, jobs, "job-4", params)

	w.processJob(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), "job-4")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, job.Counters.ResultsRanked)

	results, err := jobs.ListResults(context.Background(), "job-4")
	require.NoError(t, err)
	require.Equal(t, "fp-cached", results[0].Fingerprint)
	require.Len(t, pub.Messages(), 1)
}

func TestWorkerPopulatesCacheOnSuccess(t *testing.T) {
	t.Parallel()

	srv := newSERPServer(t, 2)
	cache := &fakeCache{}
	w, _, jobs, _ := newTestWorker(t, newAsyncTool(t, srv.URL), cache)
	item := createJob(t, jobs, "job-5", search.JobParameters{Keywords: []string{"policy"}})

	w.processJob(context.Background(), item)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.Equal(t, 1, cache.sets)
}

func TestWorkerRunConsumesQueue(t *testing.T) {
	t.Parallel()

	srv := newSERPServer(t, 1)
	w, queue, jobs, _ := newTestWorker(t, newAsyncTool(t, srv.URL), nil)
	item := createJob(t, jobs, "job-6", search.JobParameters{Keywords: []string{"policy"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, queue.Enqueue(ctx, item))
	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(context.Background(), "job-6")
		return err == nil && job.Status == search.JobStatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRegistryCancel(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx, cancel := r.Register(context.Background(), "job-7")
	defer cancel()

	require.True(t, r.Cancel("job-7"))
	require.Error(t, ctx.Err())

	r.Release("job-7")
	require.False(t, r.Cancel("job-7"))
	require.False(t, r.Cancel("never-registered"))
}

func rankedResultsObservations(t *testing.T) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "policysearch_ranked_results_per_job_count") {
			fields := strings.Fields(line)
			require.Len(t, fields, 2)
			v, err := strconv.ParseFloat(fields[1], 64)
			require.NoError(t, err)
			return v
		}
	}
	return 0
}

func TestWorkerObservesRankedResultCount(t *testing.T) {
	srv := newSERPServer(t, 3)
	w, _, jobs, _ := newTestWorker(t, newAsyncTool(t, srv.URL), nil)
	item := createJob(t, jobs, "job-metrics", search.JobParameters{Keywords: []string{"policy"}})

	before := rankedResultsObservations(t)
	w.processJob(context.Background(), item)
	require.GreaterOrEqual(t, rankedResultsObservations(t), before+1)
}
