// Package postgres persists search jobs in Postgres through a pgx pool.
// Progress and results are stored as JSONB columns on one row per job.
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

	"github.com/JakeFAU/places-search/internal/search"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "search_jobs"

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// AutoMigrate creates the table and index when missing.
	AutoMigrate bool
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore implements search.JobStore on Postgres. State transitions are
// conditional updates, so concurrent writers cannot skip a state.
type JobStore struct {
	pool  pool
	table string
}

// NewJobStore connects a pool using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewJobStoreWithPool builds a store over an existing pool (primarily for tests).
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: p, table: table}, nil
}

// Migrate creates the jobs table and owner index if they do not exist.
func (s *JobStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id             TEXT PRIMARY KEY,
	owner          TEXT NOT NULL,
	query          TEXT NOT NULL,
	location_scope TEXT,
	result_cap     INTEGER NOT NULL CHECK (result_cap > 0),
	status         TEXT NOT NULL,
	progress       JSONB NOT NULL DEFAULT '{}'::jsonb,
	results        JSONB NOT NULL DEFAULT '[]'::jsonb,
	total_found    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %[1]s_owner_created_idx ON %[1]s (owner, created_at DESC);
CREATE INDEX IF NOT EXISTS %[1]s_status_created_idx ON %[1]s (status, created_at);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new pending job.
func (s *JobStore) CreateJob(ctx context.Context, job search.Job) error {
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	status := job.Status
	if status == "" {
		status = search.JobStatusPending
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, owner, query, location_scope, result_cap, status, progress, results, total_found, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, '[]'::jsonb, 0, $8)`, s.table)
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.Owner,
		job.Query,
		job.LocationScope,
		job.ResultCap,
		string(status),
		progress,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// MarkRunning moves a pending job to running.
func (s *JobStore) MarkRunning(ctx context.Context, jobID string, progress search.Progress, at time.Time) error {
	body, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = 'running', progress = $2, started_at = $3
WHERE id = $1 AND status = 'pending'`, s.table)
	return s.transition(ctx, jobID, search.JobStatusRunning, query, jobID, body, at)
}

// UpdateProgress replaces the progress of a running job, keeping the larger
// of the stored and incoming percentage.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress search.Progress) error {
	body, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET progress = $2::jsonb || jsonb_build_object(
	'percentage', GREATEST(($2::jsonb->>'percentage')::int, COALESCE((progress->>'percentage')::int, 0))
)
WHERE id = $1 AND status = 'running'`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, body)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, jobID, search.JobStatusRunning)
	}
	return nil
}

// Complete finalizes a running job with its results.
func (s *JobStore) Complete(
	ctx context.Context,
	jobID string,
	results []search.Place,
	progress search.Progress,
	at time.Time,
) error {
	if results == nil {
		results = []search.Place{}
	}
	resultsBody, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	progressBody, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = 'completed', results = $2, total_found = $3, progress = $4,
	completed_at = $5, error_message = NULL
WHERE id = $1 AND status = 'running'`, s.table)
	return s.transition(ctx, jobID, search.JobStatusCompleted, query,
		jobID, resultsBody, len(results), progressBody, at)
}

// Fail finalizes a running job with an error and drops partial results.
func (s *JobStore) Fail(ctx context.Context, jobID string, errMsg string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'failed', error_message = $2, completed_at = $3,
	results = '[]'::jsonb, total_found = 0
WHERE id = $1 AND status = 'running'`, s.table)
	return s.transition(ctx, jobID, search.JobStatusFailed, query, jobID, errMsg, at)
}

// GetJob loads one job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (search.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return search.Job{}, fmt.Errorf("get job %s: %w", jobID, search.ErrNotFound)
		}
		return search.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobsByOwner returns the owner's jobs, newest first.
func (s *JobStore) ListJobsByOwner(ctx context.Context, owner string) ([]search.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE owner = $1 ORDER BY created_at DESC, id DESC`, columns, s.table)
	return s.queryJobs(ctx, query, owner)
}

// ListJobsByStatus returns every job in status, oldest first.
func (s *JobStore) ListJobsByStatus(ctx context.Context, status search.JobStatus) ([]search.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at ASC, id ASC`, columns, s.table)
	return s.queryJobs(ctx, query, string(status))
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]search.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]search.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job that is not running.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status <> 'running'`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	status, err := s.status(ctx, jobID)
	if err != nil {
		return err
	}
	if status == search.JobStatusRunning {
		return fmt.Errorf("delete job %s: %w", jobID, search.ErrJobActive)
	}
	return fmt.Errorf("delete job %s: no row removed", jobID)
}

func (s *JobStore) transition(ctx context.Context, jobID string, to search.JobStatus, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set job %s %s: %w", jobID, to, err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, jobID, to)
	}
	return nil
}

// explainMiss turns a zero-row conditional update into ErrNotFound or a
// transition error naming the stored status.
func (s *JobStore) explainMiss(ctx context.Context, jobID string, to search.JobStatus) error {
	status, err := s.status(ctx, jobID)
	if err != nil {
		return err
	}
	return search.TransitionError(jobID, status, to)
}

func (s *JobStore) status(ctx context.Context, jobID string) (search.JobStatus, error) {
	var status string
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table)
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("job %s: %w", jobID, search.ErrNotFound)
		}
		return "", fmt.Errorf("load job status: %w", err)
	}
	return search.JobStatus(status), nil
}

const columns = `id, owner, query, location_scope, result_cap, status, progress, results,
	total_found, error_message, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (search.Job, error) {
	var (
		job          search.Job
		status       string
		progressBody []byte
		resultsBody  []byte
	)
	err := row.Scan(
		&job.ID,
		&job.Owner,
		&job.Query,
		&job.LocationScope,
		&job.ResultCap,
		&status,
		&progressBody,
		&resultsBody,
		&job.TotalFound,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return search.Job{}, err
	}
	job.Status = search.JobStatus(status)
	if len(progressBody) > 0 {
		if err := json.Unmarshal(progressBody, &job.Progress); err != nil {
			return search.Job{}, fmt.Errorf("decode progress: %w", err)
		}
	}
	if len(resultsBody) > 0 {
		if err := json.Unmarshal(resultsBody, &job.Results); err != nil {
			return search.Job{}, fmt.Errorf("decode results: %w", err)
		}
	}
	if len(job.Results) == 0 {
		job.Results = nil
	}
	return job, nil
}
