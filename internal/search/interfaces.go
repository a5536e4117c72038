package search

import (
	"context"
	"io"
	"time"
)

// JobStore persists search jobs. Implementations enforce the status state machine
// and never let a progress write lower the stored percentage.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	MarkRunning(ctx context.Context, jobID string, progress Progress, at time.Time) error
	UpdateProgress(ctx context.Context, jobID string, progress Progress) error
	Complete(ctx context.Context, jobID string, results []Place, progress Progress, at time.Time) error
	Fail(ctx context.Context, jobID string, errMsg string, at time.Time) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobsByOwner(ctx context.Context, owner string) ([]Job, error)
	// ListJobsByStatus returns every job in status, oldest first.
	ListJobsByStatus(ctx context.Context, status JobStatus) ([]Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Provider fetches one page of places.
type Provider interface {
	Search(ctx context.Context, req PageRequest) (PageResponse, error)
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for search jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
