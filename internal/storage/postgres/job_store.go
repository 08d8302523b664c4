// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrJobNotFound is returned when a job ID has no row.
var ErrJobNotFound = errors.New("job not found")

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	JobsTable       string
	ResultsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// JobStore persists search jobs and ranked results in Postgres.
type JobStore struct {
	pool         dbPool
	jobsTable    string
	resultsTable string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewJobStoreWithPool(pool, cfg.JobsTable, cfg.ResultsTable)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewJobStoreWithPool(pool dbPool, jobsTable, resultsTable string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if jobsTable == "" {
		jobsTable = "search_jobs"
	}
	if resultsTable == "" {
		resultsTable = "search_results"
	}
	for _, table := range []string{jobsTable, resultsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &JobStore{pool: pool, jobsTable: jobsTable, resultsTable: resultsTable}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job search.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, error_text, parameters, counters)
VALUES ($1,$2,$3,$4,$5,$6)`, s.jobsTable)
	if _, err := s.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.Submitted, job.ErrorText, params, counters,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates the status, error text, and counters for a job.
// Started/finished timestamps are maintained server-side.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status search.JobStatus,
	errText string,
	counters search.JobCounters,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('succeeded','failed','canceled') THEN now() ELSE finished_at END
WHERE id = $1`, s.jobsTable)
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, countersJSON)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// StoreResults replaces the ranked results for a job in one transaction.
func (s *JobStore) StoreResults(ctx context.Context, jobID string, results []search.RankedResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, s.resultsTable)
	if _, err := tx.Exec(ctx, deleteQuery, jobID); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (
	job_id, rank, fingerprint, url, title, summary, source,
	published_at, score, relevance, quality, sources, keywords,
	occurrences, content_uri
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, s.resultsTable)

	for i, rr := range results {
		sources, err := json.Marshal(rr.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		keywords, err := json.Marshal(rr.Keywords)
		if err != nil {
			return fmt.Errorf("marshal keywords: %w", err)
		}
		if _, err := tx.Exec(ctx, insertQuery,
			jobID, i+1, rr.Fingerprint, rr.URL, rr.Title, rr.Summary, rr.Source,
			rr.PublishedAt, rr.Score, rr.Relevance, rr.Quality, sources, keywords,
			rr.Occurrences, rr.ContentURI,
		); err != nil {
			return fmt.Errorf("insert result %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (search.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM %s WHERE id = $1`, s.jobsTable)

	var (
		job          search.Job
		status       string
		paramsJSON   []byte
		countersJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &status, &job.Submitted, &job.Started, &job.Finished,
		&job.ErrorText, &paramsJSON, &countersJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return search.Job{}, ErrJobNotFound
	}
	if err != nil {
		return search.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = search.JobStatus(status)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
			return search.Job{}, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
			return search.Job{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	return job, nil
}

// ListResults returns the ranked results stored for a job in rank order.
func (s *JobStore) ListResults(ctx context.Context, jobID string) ([]search.RankedResult, error) {
	query := fmt.Sprintf(`
SELECT fingerprint, url, title, summary, source, published_at,
	score, relevance, quality, sources, keywords, occurrences, content_uri
FROM %s WHERE job_id = $1 ORDER BY rank`, s.resultsTable)

	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	defer rows.Close()

	var results []search.RankedResult
	for rows.Next() {
		var (
			rr           search.RankedResult
			sourcesJSON  []byte
			keywordsJSON []byte
		)
		if err := rows.Scan(
			&rr.Fingerprint, &rr.URL, &rr.Title, &rr.Summary, &rr.Source,
			&rr.PublishedAt, &rr.Score, &rr.Relevance, &rr.Quality,
			&sourcesJSON, &keywordsJSON, &rr.Occurrences, &rr.ContentURI,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &rr.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		if len(keywordsJSON) > 0 {
			if err := json.Unmarshal(keywordsJSON, &rr.Keywords); err != nil {
				return nil, fmt.Errorf("unmarshal keywords: %w", err)
			}
		}
		results = append(results, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}
