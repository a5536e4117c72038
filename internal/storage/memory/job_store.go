package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/places-search/internal/search"
)

// JobStore keeps search jobs in a map guarded by a RWMutex. Readers always
// receive deep copies.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]search.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]search.Job)}
}

// CreateJob stores a new pending job.
func (s *JobStore) CreateJob(_ context.Context, job search.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = search.JobStatusPending
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// MarkRunning moves a pending job to running with its initial progress.
func (s *JobStore) MarkRunning(_ context.Context, jobID string, progress search.Progress, at time.Time) error {
	return s.transition(jobID, search.JobStatusRunning, func(job *search.Job) {
		job.Progress = progress
		started := at
		job.StartedAt = &started
	})
}

// UpdateProgress replaces the progress snapshot of a running job. The stored
// percentage never decreases.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, progress search.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update progress %s: %w", jobID, search.ErrNotFound)
	}
	if job.Status != search.JobStatusRunning {
		return fmt.Errorf("update progress: %w", search.TransitionError(jobID, job.Status, search.JobStatusRunning))
	}
	if progress.Percentage < job.Progress.Percentage {
		progress.Percentage = job.Progress.Percentage
	}
	job.Progress = progress
	s.jobs[jobID] = job
	return nil
}

// Complete finalizes a running job with its results.
func (s *JobStore) Complete(
	_ context.Context,
	jobID string,
	results []search.Place,
	progress search.Progress,
	at time.Time,
) error {
	return s.transition(jobID, search.JobStatusCompleted, func(job *search.Job) {
		job.Results = append([]search.Place(nil), results...)
		job.TotalFound = len(results)
		job.Progress = progress
		job.ErrorMessage = nil
		done := at
		job.CompletedAt = &done
	})
}

// Fail finalizes a running job with an error message and no results.
func (s *JobStore) Fail(_ context.Context, jobID string, errMsg string, at time.Time) error {
	return s.transition(jobID, search.JobStatusFailed, func(job *search.Job) {
		msg := errMsg
		job.ErrorMessage = &msg
		job.Results = nil
		job.TotalFound = 0
		done := at
		job.CompletedAt = &done
	})
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (search.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return search.Job{}, fmt.Errorf("get job %s: %w", jobID, search.ErrNotFound)
	}
	return job.Clone(), nil
}

// ListJobsByOwner returns the owner's jobs, newest first.
func (s *JobStore) ListJobsByOwner(_ context.Context, owner string) ([]search.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]search.Job, 0)
	for _, job := range s.jobs {
		if job.Owner == owner {
			out = append(out, job.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListJobsByStatus returns the jobs currently in status, oldest first.
func (s *JobStore) ListJobsByStatus(_ context.Context, status search.JobStatus) ([]search.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]search.Job, 0)
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteJob removes a job unless it is running.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("delete job %s: %w", jobID, search.ErrNotFound)
	}
	if job.Status == search.JobStatusRunning {
		return fmt.Errorf("delete job %s: %w", jobID, search.ErrJobActive)
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *JobStore) transition(jobID string, to search.JobStatus, mutate func(*search.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, search.ErrNotFound)
	}
	if !search.CanTransition(job.Status, to) {
		return search.TransitionError(jobID, job.Status, to)
	}
	job.Status = to
	mutate(&job)
	s.jobs[jobID] = job
	return nil
}
