package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobProgress Stage = "JOB_PROGRESS"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
)

// Event captures a single milestone of a search job run.
type Event struct {
	// JobID is the job identifier as stored in the job store.
	JobID string
	// Owner groups jobs per user or session.
	Owner string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// City is the city being searched when the event fired.
	City string
	// Found is the number of distinct places collected so far.
	Found int
	// Percentage mirrors the persisted progress percentage.
	Percentage int
	// Dur captures the run time so far; set on terminal events.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageJobProgress:
		if e.Percentage < 0 || e.Percentage > 100 {
			return fmt.Errorf("percentage %d out of range", e.Percentage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Found < 0 {
		return errors.New("found must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a job run.
func (e Event) Terminal() bool {
	return e.Stage == StageJobDone || e.Stage == StageJobError
}
