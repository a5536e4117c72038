package search

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a write would break the status state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrNotCompleted is returned when an operation needs a completed job.
	ErrNotCompleted = errors.New("job is not completed")
	// ErrJobActive is returned when deleting a job that is still running.
	ErrJobActive = errors.New("job is running")
	// ErrQueueClosed is returned by a queue that has been shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// ValidationError reports a rejected submission. No job is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransitionError wraps ErrInvalidTransition with the offending states.
func TransitionError(jobID string, from, to JobStatus) error {
	return fmt.Errorf("job %s %s -> %s: %w", jobID, from, to, ErrInvalidTransition)
}
