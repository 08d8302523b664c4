package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock, "search_jobs", "search_results")
	require.NoError(t, err)
	return store, mock
}

func TestNewJobStoreWithPoolRejectsBadTableNames(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "jobs; DROP TABLE jobs", "search_results")
	require.Error(t, err)

	_, err = NewJobStoreWithPool(mock, "search_jobs", "results--")
	require.Error(t, err)
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	job := search.Job{
		ID:        "job-1",
		Status:    search.JobStatusQueued,
		Submitted: now,
		Parameters: search.JobParameters{
			Keywords: []string{"pension"},
			TopK:     10,
		},
	}

	mock.ExpectExec("INSERT INTO search_jobs").
		WithArgs(job.ID, "queued", now, "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobRequiresID(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	err := store.CreateJob(context.Background(), search.Job{})
	require.Error(t, err)
}

func TestUpdateJobStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE search_jobs").
		WithArgs("job-1", "running", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateJobStatus(context.Background(), "job-1", search.JobStatusRunning, "", search.JobCounters{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusUnknownJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE search_jobs").
		WithArgs("missing", "failed", "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJobStatus(context.Background(), "missing", search.JobStatusFailed, "boom", search.JobCounters{})
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestStoreResultsReplacesRowsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	results := []search.RankedResult{
		{
			Result: search.Result{
				URL:    "https://example.gov/a.html",
				Title:  "A",
				Source: "gov",
			},
			Score:       0.9,
			Fingerprint: "fp-a",
			Occurrences: 2,
		},
		{
			Result: search.Result{
				URL:    "https://example.gov/b.html",
				Title:  "B",
				Source: "gov",
			},
			Score:       0.7,
			Fingerprint: "fp-b",
			Occurrences: 1,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM search_results").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	for i, rr := range results {
		mock.ExpectExec("INSERT INTO search_results").
			WithArgs(
				"job-1", i+1, rr.Fingerprint, rr.URL, rr.Title, rr.Summary, rr.Source,
				rr.PublishedAt, rr.Score, rr.Relevance, rr.Quality,
				pgxmock.AnyArg(), pgxmock.AnyArg(), rr.Occurrences, rr.ContentURI,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.StoreResults(context.Background(), "job-1", results))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "status", "submitted_at", "started_at", "finished_at",
		"error_text", "parameters", "counters",
	}).AddRow(
		"job-1", "succeeded", now, &now, &now,
		"", []byte(`{"keywords":["pension"],"top_k":10}`), []byte(`{"portals_searched":2}`),
	)
	mock.ExpectQuery("SELECT (.+) FROM search_jobs").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusSucceeded, job.Status)
	require.Equal(t, []string{"pension"}, job.Parameters.Keywords)
	require.Equal(t, 2, job.Counters.PortalsSearched)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM search_jobs").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "submitted_at", "started_at", "finished_at",
			"error_text", "parameters", "counters",
		}))

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestListResults(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{
		"fingerprint", "url", "title", "summary", "source", "published_at",
		"score", "relevance", "quality", "sources", "keywords", "occurrences", "content_uri",
	}).AddRow(
		"fp-a", "https://example.gov/a.html", "A", "", "gov", (*time.Time)(nil),
		0.9, 0.8, 0.7, []byte(`["gov"]`), []byte(`["pension"]`), 2, "gs://b/a.html",
	)
	mock.ExpectQuery("SELECT (.+) FROM search_results").
		WithArgs("job-1").
		WillReturnRows(rows)

	results, err := store.ListResults(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "fp-a", results[0].Fingerprint)
	require.Equal(t, []string{"gov"}, results[0].Sources)
	require.Equal(t, 0.9, results[0].Score)
}
