package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/export"
	"github.com/JakeFAU/places-search/internal/jobs"
	"github.com/JakeFAU/places-search/internal/search"
	"github.com/JakeFAU/places-search/internal/telemetry"
)

const (
	defaultRequestTimeout = 60 * time.Second
	readinessTimeout      = 2 * time.Second
	maxBodyBytes          = 1 << 20
)

// JobService is the job façade the handlers call into.
type JobService interface {
	Submit(ctx context.Context, req search.SubmitRequest) (string, error)
	GetStatus(ctx context.Context, jobID string) (search.Job, error)
	ListForOwner(ctx context.Context, owner string) ([]search.Job, error)
	Delete(ctx context.Context, jobID string) error
	Export(ctx context.Context, jobID string, opts export.Options) ([]byte, search.Job, error)
	Archive(ctx context.Context, jobID string, opts export.Options) (string, error)
}

// Checker is a dependency consulted by /readyz.
type Checker interface {
	Ping(ctx context.Context) error
}

// Config tunes the HTTP surface.
type Config struct {
	// APIKey gates /v1 when non-empty.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job service.
type Server struct {
	router chi.Router
	jobs   JobService
	checks map[string]Checker
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc JobService, cfg Config, logger *zap.Logger, checks map[string]Checker) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		jobs:   svc,
		checks: checks,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.deleteJob)
				r.Get("/export", s.downloadExport)
				r.Post("/exports", s.archiveExport)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "unavailable",
				"dependency": name,
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	Owner         string  `json:"owner"`
	Query         string  `json:"query"`
	LocationScope *string `json:"location_scope"`
	ResultCap     *int    `json:"result_cap"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	in := search.SubmitRequest{
		Owner:         req.Owner,
		Query:         req.Query,
		LocationScope: req.LocationScope,
	}
	if req.ResultCap != nil {
		in.ResultCap = *req.ResultCap
	}
	jobID, err := s.jobs.Submit(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetStatus(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		s.writeError(w, http.StatusBadRequest, "owner is required")
		return
	}
	list, err := s.jobs.ListForOwner(r.Context(), owner)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	opts, err := exportOptions(r.URL.Query().Get("format"), r.URL.Query().Get("phone_only"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, job, err := s.jobs.Export(r.Context(), chi.URLParam(r, "job_id"), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", opts.Format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(job.ID, opts.Format)))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write export failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

type archiveRequest struct {
	Format    string `json:"format"`
	PhoneOnly bool   `json:"phone_only"`
}

func (s *Server) archiveExport(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	uri, err := s.jobs.Archive(r.Context(), chi.URLParam(r, "job_id"),
		export.Options{Format: format, PhoneOnly: req.PhoneOnly})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"uri": uri})
}

func exportOptions(formatParam, phoneParam string) (export.Options, error) {
	format, err := export.ParseFormat(formatParam)
	if err != nil {
		return export.Options{}, err
	}
	opts := export.Options{Format: format}
	if phoneParam != "" {
		opts.PhoneOnly, err = strconv.ParseBool(phoneParam)
		if err != nil {
			return export.Options{}, fmt.Errorf("invalid phone_only %q", phoneParam)
		}
	}
	return opts, nil
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *search.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, search.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, search.ErrJobActive):
		s.writeError(w, http.StatusConflict, "job is running")
	case errors.Is(err, search.ErrNotCompleted):
		s.writeError(w, http.StatusConflict, "job is not completed")
	case errors.Is(err, export.ErrUnknownFormat):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrScheduleFailed):
		s.logger.Error("job scheduling failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "job could not be scheduled")
	case errors.Is(err, jobs.ErrArchiveDisabled):
		s.writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusRequestTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
