// Package jobs is the submission and status façade used by the HTTP API: it
// validates requests, creates pending jobs, schedules them on the worker pool,
// and serves reads and exports of stored jobs.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/export"
	"github.com/JakeFAU/places-search/internal/search"
)

const (
	defaultResultCap = 1000
	defaultMaxCap    = 5000
)

// ErrScheduleFailed is returned when a created job could not be queued.
var ErrScheduleFailed = errors.New("job could not be scheduled")

// ErrArchiveDisabled is returned by Archive when no blob store is configured.
var ErrArchiveDisabled = errors.New("export archive is not configured")

// Scheduler queues a job id for background execution.
type Scheduler interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Config holds submission limits and export settings.
type Config struct {
	DefaultResultCap int
	MaxResultCap     int
	ExportPrefix     string
}

// Service implements submission, status, listing, deletion, and export.
type Service struct {
	store     search.JobStore
	scheduler Scheduler
	blobs     search.BlobStore
	ids       search.IDGenerator
	clock     search.Clock
	validate  *validator.Validate
	cfg       Config
	logger    *zap.Logger
}

// NewService wires a Service. blobs may be nil when archiving is disabled.
func NewService(
	store search.JobStore,
	scheduler Scheduler,
	blobs search.BlobStore,
	ids search.IDGenerator,
	clock search.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.DefaultResultCap <= 0 {
		cfg.DefaultResultCap = defaultResultCap
	}
	if cfg.MaxResultCap <= 0 {
		cfg.MaxResultCap = defaultMaxCap
	}
	if cfg.DefaultResultCap > cfg.MaxResultCap {
		cfg.DefaultResultCap = cfg.MaxResultCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		scheduler: scheduler,
		blobs:     blobs,
		ids:       ids,
		clock:     clock,
		validate:  newValidator(),
		cfg:       cfg,
		logger:    logger.Named("jobs"),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// RegisterValidation only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Submit validates req, stores a pending job, and queues it. It returns as
// soon as the job is queued; execution happens on the worker pool.
func (s *Service) Submit(ctx context.Context, req search.SubmitRequest) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", toValidationError(err)
	}

	resultCap := req.ResultCap
	if resultCap == 0 {
		resultCap = s.cfg.DefaultResultCap
	}
	resultCap = min(resultCap, s.cfg.MaxResultCap)

	var location *string
	if req.LocationScope != nil {
		if trimmed := strings.TrimSpace(*req.LocationScope); trimmed != "" {
			location = &trimmed
		}
	}

	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := search.Job{
		ID:            id,
		Owner:         strings.TrimSpace(req.Owner),
		Query:         strings.TrimSpace(req.Query),
		LocationScope: location,
		ResultCap:     resultCap,
		Status:        search.JobStatusPending,
		Progress:      search.Progress{TargetResultCount: resultCap},
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := s.scheduler.Enqueue(ctx, id); err != nil {
		s.logger.Error("enqueue failed; removing pending job", zap.String("job_id", id), zap.Error(err))
		if derr := s.store.DeleteJob(context.WithoutCancel(ctx), id); derr != nil {
			s.logger.Error("remove unscheduled job failed", zap.String("job_id", id), zap.Error(derr))
		}
		return "", fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}

	s.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("owner", job.Owner),
		zap.String("query", job.Query),
		zap.String("location", job.Location()),
		zap.Int("result_cap", resultCap),
	)
	return id, nil
}

// Recovery counts what Recover did.
type Recovery struct {
	Requeued int
	Failed   int
}

// interruptedMessage is stored on jobs found running when the service starts.
const interruptedMessage = "interrupted: service stopped before the job finished"

// Recover reconciles durable jobs left over from a previous process. Jobs
// still pending are queued again, oldest first; jobs still running lost
// their orchestrator and are failed. Only one process may own a store while
// it recovers.
func (s *Service) Recover(ctx context.Context) (Recovery, error) {
	var rec Recovery

	running, err := s.store.ListJobsByStatus(ctx, search.JobStatusRunning)
	if err != nil {
		return rec, fmt.Errorf("list running jobs: %w", err)
	}
	for _, job := range running {
		if err := s.store.Fail(ctx, job.ID, interruptedMessage, s.clock.Now()); err != nil {
			if errors.Is(err, search.ErrInvalidTransition) {
				continue
			}
			return rec, fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
		rec.Failed++
		s.logger.Warn("failed interrupted job", zap.String("job_id", job.ID), zap.String("owner", job.Owner))
	}

	pending, err := s.store.ListJobsByStatus(ctx, search.JobStatusPending)
	if err != nil {
		return rec, fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range pending {
		if err := s.scheduler.Enqueue(ctx, job.ID); err != nil {
			return rec, fmt.Errorf("%w: requeue %s: %w", ErrScheduleFailed, job.ID, err)
		}
		rec.Requeued++
	}
	if rec.Requeued > 0 || rec.Failed > 0 {
		s.logger.Info("recovered jobs", zap.Int("requeued", rec.Requeued), zap.Int("failed", rec.Failed))
	}
	return rec, nil
}

// GetStatus returns the current snapshot of a job; search.ErrNotFound when absent.
func (s *Service) GetStatus(ctx context.Context, jobID string) (search.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return search.Job{}, fmt.Errorf("get status: %w", err)
	}
	return job, nil
}

// ListForOwner returns the owner's jobs, newest first.
func (s *Service) ListForOwner(ctx context.Context, owner string) ([]search.Job, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, &search.ValidationError{Field: "owner", Reason: "is required"}
	}
	jobs, err := s.store.ListJobsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job that is not running.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.logger.Info("job deleted", zap.String("job_id", jobID))
	return nil
}

// Export renders a completed job in memory.
func (s *Service) Export(ctx context.Context, jobID string, opts export.Options) ([]byte, search.Job, error) {
	job, err := s.GetStatus(ctx, jobID)
	if err != nil {
		return nil, search.Job{}, err
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, job, opts); err != nil {
		return nil, job, fmt.Errorf("export: %w", err)
	}
	return buf.Bytes(), job, nil
}

// Archive renders a completed job and stores it in the blob store, returning
// the object URI.
func (s *Service) Archive(ctx context.Context, jobID string, opts export.Options) (string, error) {
	if s.blobs == nil {
		return "", ErrArchiveDisabled
	}
	body, job, err := s.Export(ctx, jobID, opts)
	if err != nil {
		return "", err
	}
	name := export.Filename(job.ID, opts.Format)
	if opts.PhoneOnly {
		name = strings.TrimSuffix(name, "."+string(opts.Format)) + "-phone." + string(opts.Format)
	}
	objectPath := path.Join(strings.Trim(s.cfg.ExportPrefix, "/"), job.Owner, name)
	uri, err := s.blobs.PutObject(ctx, objectPath, opts.Format.ContentType(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	s.logger.Info("export archived", zap.String("job_id", job.ID), zap.String("uri", uri))
	return uri, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &search.ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	var reason string
	switch fe.Tag() {
	case "required", "notblank":
		reason = "is required"
	case "max":
		reason = "must be at most " + fe.Param() + " characters"
	case "gte":
		reason = "must be >= " + fe.Param()
	default:
		reason = "failed " + fe.Tag() + " validation"
	}
	return &search.ValidationError{Field: fe.Field(), Reason: reason}
}
