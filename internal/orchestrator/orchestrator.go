// Package orchestrator runs one search job end to end: it expands the job's
// location into cities, walks the provider for every (city, variant) pair
// within the per-city and global budgets, reports progress, and finalizes the
// job exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/geo"
	"github.com/JakeFAU/places-search/internal/progress"
	"github.com/JakeFAU/places-search/internal/search"
	"github.com/JakeFAU/places-search/internal/telemetry"
	"github.com/JakeFAU/places-search/internal/walker"
)

const (
	defaultProgressEvery  = 10
	defaultMinCityBudget  = 100
	defaultFinalizeWindow = 10 * time.Second
)

// Pager walks one (variant, city) pair. *walker.Walker satisfies it.
type Pager interface {
	Walk(
		ctx context.Context,
		variant string,
		city string,
		budget int,
		seen *walker.Seen,
		onPage func(found int),
	) ([]search.Place, int, walker.Stats)
}

// Config controls orchestrator behavior.
type Config struct {
	// Topic receives completion events; empty disables publishing.
	Topic string
	// ProgressEvery is the number of new results within a city between
	// progress writes (default 10).
	ProgressEvery int
	// MinCityBudget is the floor of the per-city budget for multi-city
	// scopes (default 100).
	MinCityBudget int
	// FinalizeTimeout bounds the terminal store write, which runs detached
	// from the job context so shutdown still records the outcome.
	FinalizeTimeout time.Duration
}

// CompletionEvent is published after a job reaches a terminal status.
type CompletionEvent struct {
	JobID      string           `json:"job_id"`
	Owner      string           `json:"owner"`
	Status     search.JobStatus `json:"status"`
	TotalFound int              `json:"total_found"`
	FinishedAt time.Time        `json:"finished_at"`
	Error      string           `json:"error,omitempty"`
}

// Orchestrator is the only writer of a job's status, progress, and results.
type Orchestrator struct {
	store     search.JobStore
	pager     Pager
	clock     search.Clock
	emitter   progress.Emitter
	publisher search.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. emitter and publisher may be nil.
func New(
	store search.JobStore,
	pager Pager,
	clock search.Clock,
	emitter progress.Emitter,
	publisher search.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if cfg.MinCityBudget <= 0 {
		cfg.MinCityBudget = defaultMinCityBudget
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		pager:     pager,
		clock:     clock,
		emitter:   emitter,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}
}

// Run executes the job identified by jobID. It refuses jobs that are not
// pending. The returned error describes why the job failed, or why it could
// not be started; a job that completes returns nil.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != search.JobStatusPending {
		return search.TransitionError(jobID, job.Status, search.JobStatusRunning)
	}

	logger := o.logger.With(zap.String("job_id", job.ID), zap.String("owner", job.Owner))
	started := o.clock.Now()
	initial := search.Progress{TargetResultCount: job.ResultCap}
	if err := o.store.MarkRunning(ctx, job.ID, initial, started); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	telemetry.IncActiveJobs()
	defer telemetry.DecActiveJobs()
	o.emit(job, progress.StageJobStart, initial, started, 0, "")
	logger.Info("job started", zap.String("query", job.Query), zap.String("location", job.Location()))

	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.Run")
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.result_cap", job.ResultCap),
	)
	defer span.End()

	run := &run{o: o, job: job, logger: logger, started: started, progress: initial}
	results, runErr := run.execute(ctx)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		o.fail(ctx, run, runErr)
		return runErr
	}
	if err := o.complete(ctx, run, results); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(ctx, run, err)
		return err
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, r *run, results []search.Place) error {
	final := r.progress
	final.CityIndex = final.TotalCities
	final.CurrentResultCount = len(results)
	final.Percentage = 100

	finished := o.clock.Now()
	writeCtx, cancel := o.finalizeContext(ctx)
	defer cancel()
	if err := o.store.Complete(writeCtx, r.job.ID, results, final, finished); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	telemetry.ObserveJob(string(search.JobStatusCompleted))
	r.logger.Info("job completed",
		zap.Int("total_found", len(results)),
		zap.Duration("elapsed", finished.Sub(r.started)),
	)
	o.emit(r.job, progress.StageJobDone, final, finished, finished.Sub(r.started), "")
	o.publish(writeCtx, r, CompletionEvent{
		JobID:      r.job.ID,
		Owner:      r.job.Owner,
		Status:     search.JobStatusCompleted,
		TotalFound: len(results),
		FinishedAt: finished,
	})
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) {
	finished := o.clock.Now()
	writeCtx, cancel := o.finalizeContext(ctx)
	defer cancel()
	if err := o.store.Fail(writeCtx, r.job.ID, cause.Error(), finished); err != nil {
		r.logger.Error("fail job status update failed", zap.Error(err))
	}

	telemetry.ObserveJob(string(search.JobStatusFailed))
	r.logger.Warn("job failed", zap.Error(cause))
	o.emit(r.job, progress.StageJobError, r.progress, finished, finished.Sub(r.started), cause.Error())
	o.publish(writeCtx, r, CompletionEvent{
		JobID:      r.job.ID,
		Owner:      r.job.Owner,
		Status:     search.JobStatusFailed,
		FinishedAt: finished,
		Error:      cause.Error(),
	})
}

// finalizeContext keeps ctx values but not its cancellation.
func (o *Orchestrator) finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FinalizeTimeout)
}

func (o *Orchestrator) publish(ctx context.Context, r *run, evt CompletionEvent) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, evt); err != nil {
		r.logger.Warn("publish completion event failed", zap.String("topic", o.cfg.Topic), zap.Error(err))
	}
}

func (o *Orchestrator) emit(
	job search.Job,
	stage progress.Stage,
	p search.Progress,
	at time.Time,
	dur time.Duration,
	note string,
) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(progress.Event{
		JobID:      job.ID,
		Owner:      job.Owner,
		TS:         at.UTC(),
		Stage:      stage,
		City:       p.CurrentCity,
		Found:      p.CurrentResultCount,
		Percentage: p.Percentage,
		Dur:        max(dur, 0),
		Note:       note,
	})
}

// CityBudget returns the per-city result budget for a scope with cityCount
// cities and a job-wide cap.
func CityBudget(scope geo.ScopeType, resultCap, cityCount, floor int) int {
	if scope == geo.ScopeCity || cityCount <= 0 {
		return resultCap
	}
	per := (resultCap + cityCount - 1) / cityCount
	return max(floor, per)
}

// Percentage blends city and result progress, never going below prev and
// capping at 99 until the job completes.
func Percentage(prev, cityIndex, totalCities, found, target int) int {
	pct := prev
	if totalCities > 0 {
		pct = max(pct, cityIndex*100/totalCities)
	}
	if target > 0 {
		pct = max(pct, found*100/target)
	}
	return min(pct, 99)
}

// ErrPanic wraps a panic recovered during a run.
var ErrPanic = errors.New("orchestrator panic")
