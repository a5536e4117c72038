// Package redis stores search jobs in Redis. Each job is a JSON snapshot
// under its own key and every owner has a sorted set of job ids scored by
// creation time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/places-search/internal/search"
)

const (
	defaultPrefix     = "placesearch"
	maxWatchRetries   = 8
	scanBatch         = 100
	ownerIndexSuffix  = "owner"
	jobSnapshotSuffix = "job"
)

// Option customizes a JobStore.
type Option func(*JobStore)

// WithPrefix namespaces every key written by the store.
func WithPrefix(prefix string) Option {
	return func(s *JobStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// JobStore implements search.JobStore on Redis. Transitions run inside
// WATCH/MULTI so a concurrent writer aborts the transaction instead of
// overwriting a newer state.
type JobStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewJobStore wraps an existing client.
func NewJobStore(rdb redis.UniversalClient, opts ...Option) (*JobStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	s := &JobStore{rdb: rdb, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *JobStore) Close() error {
	return s.rdb.Close()
}

func (s *JobStore) jobKey(id string) string {
	return s.prefix + ":" + jobSnapshotSuffix + ":" + id
}

func (s *JobStore) ownerKey(owner string) string {
	return s.prefix + ":" + ownerIndexSuffix + ":" + owner
}

// CreateJob stores a new pending job and indexes it under its owner.
func (s *JobStore) CreateJob(ctx context.Context, job search.Job) error {
	if job.Status == "" {
		job.Status = search.JobStatusPending
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.jobKey(job.ID), body, 0).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	score := float64(job.CreatedAt.UnixNano())
	if err := s.rdb.ZAdd(ctx, s.ownerKey(job.Owner), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return fmt.Errorf("index job: %w", err)
	}
	return nil
}

// MarkRunning moves a pending job to running.
func (s *JobStore) MarkRunning(ctx context.Context, jobID string, progress search.Progress, at time.Time) error {
	return s.update(ctx, jobID, func(job *search.Job) error {
		if !search.CanTransition(job.Status, search.JobStatusRunning) {
			return search.TransitionError(jobID, job.Status, search.JobStatusRunning)
		}
		job.Status = search.JobStatusRunning
		job.Progress = progress
		started := at
		job.StartedAt = &started
		return nil
	})
}

// UpdateProgress replaces the progress of a running job. The stored
// percentage never decreases.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress search.Progress) error {
	return s.update(ctx, jobID, func(job *search.Job) error {
		if job.Status != search.JobStatusRunning {
			return search.TransitionError(jobID, job.Status, search.JobStatusRunning)
		}
		if progress.Percentage < job.Progress.Percentage {
			progress.Percentage = job.Progress.Percentage
		}
		job.Progress = progress
		return nil
	})
}

// Complete finalizes a running job with its results.
func (s *JobStore) Complete(
	ctx context.Context,
	jobID string,
	results []search.Place,
	progress search.Progress,
	at time.Time,
) error {
	return s.update(ctx, jobID, func(job *search.Job) error {
		if !search.CanTransition(job.Status, search.JobStatusCompleted) {
			return search.TransitionError(jobID, job.Status, search.JobStatusCompleted)
		}
		job.Status = search.JobStatusCompleted
		job.Results = append([]search.Place(nil), results...)
		job.TotalFound = len(results)
		job.Progress = progress
		job.ErrorMessage = nil
		done := at
		job.CompletedAt = &done
		return nil
	})
}

// Fail finalizes a running job with an error message.
func (s *JobStore) Fail(ctx context.Context, jobID string, errMsg string, at time.Time) error {
	return s.update(ctx, jobID, func(job *search.Job) error {
		if !search.CanTransition(job.Status, search.JobStatusFailed) {
			return search.TransitionError(jobID, job.Status, search.JobStatusFailed)
		}
		job.Status = search.JobStatusFailed
		msg := errMsg
		job.ErrorMessage = &msg
		job.Results = nil
		job.TotalFound = 0
		done := at
		job.CompletedAt = &done
		return nil
	})
}

// GetJob loads one job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (search.Job, error) {
	job, err := s.load(ctx, s.rdb, jobID)
	if err != nil {
		return search.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobsByOwner returns the owner's jobs, newest first. Index entries whose
// snapshot has vanished are skipped.
func (s *JobStore) ListJobsByOwner(ctx context.Context, owner string) ([]search.Job, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.ownerKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]search.Job, 0, len(ids))
	if len(ids) == 0 {
		return jobs, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	return s.loadMany(ctx, keys)
}

// ListJobsByStatus scans every job snapshot and returns those in status,
// oldest first. It walks the whole keyspace and is meant for startup
// recovery, not request paths.
func (s *JobStore) ListJobsByStatus(ctx context.Context, status search.JobStatus) ([]search.Job, error) {
	match := s.jobKey("*")
	var (
		cursor uint64
		jobs   = make([]search.Job, 0)
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan jobs: %w", err)
		}
		if len(keys) > 0 {
			batch, err := s.loadMany(ctx, keys)
			if err != nil {
				return nil, err
			}
			for _, job := range batch {
				if job.Status == status {
					jobs = append(jobs, job)
				}
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// loadMany fetches snapshots in one MGET, skipping keys that have vanished.
func (s *JobStore) loadMany(ctx context.Context, keys []string) ([]search.Job, error) {
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	jobs := make([]search.Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var job search.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DeleteJob removes a job unless it is running.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	key := s.jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		job, err := s.load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status == search.JobStatusRunning {
			return search.ErrJobActive
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.ownerKey(job.Owner), jobID)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// update applies mutate to the stored snapshot under WATCH, retrying when
// another writer touched the key first.
func (s *JobStore) update(ctx context.Context, jobID string, mutate func(*search.Job) error) error {
	key := s.jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		job, err := s.load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := mutate(&job); err != nil {
			return err
		}
		body, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, search.ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	return nil
}

func (s *JobStore) watch(ctx context.Context, txf func(*redis.Tx) error, key string) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("too much contention on %s", key)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *JobStore) load(ctx context.Context, c getter, jobID string) (search.Job, error) {
	raw, err := c.Get(ctx, s.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return search.Job{}, search.ErrNotFound
		}
		return search.Job{}, err
	}
	var job search.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return search.Job{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	if len(job.Results) == 0 {
		job.Results = nil
	}
	return job, nil
}
