// Package poller keeps a client-side cache of one owner's jobs fresh, picks
// the job worth showing, and exports snapshots of completed jobs.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/export"
	"github.com/JakeFAU/places-search/internal/search"
)

const defaultInterval = 2 * time.Second

// Source lists an owner's jobs; *Client satisfies it.
type Source interface {
	ListForOwner(ctx context.Context, owner string) ([]search.Job, error)
}

// JobGetter loads a single job by id; *Client satisfies it.
type JobGetter interface {
	GetJob(ctx context.Context, jobID string) (search.Job, error)
}

// OwnerForJob resolves which owner to poll when the user pins jobID. The
// job must exist, and when owner is set it must own the job. With no jobID
// owner is returned unchanged.
func OwnerForJob(ctx context.Context, getter JobGetter, owner, jobID string) (string, error) {
	if jobID == "" {
		return owner, nil
	}
	job, err := getter.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("look up job %s: %w", jobID, err)
	}
	if owner != "" && job.Owner != owner {
		return "", fmt.Errorf("job %s belongs to %q, not %q: %w", jobID, job.Owner, owner, search.ErrNotFound)
	}
	return job.Owner, nil
}

// Config controls polling.
type Config struct {
	Owner    string
	Interval time.Duration
	// OnRefresh runs after every successful refresh with the new cache.
	OnRefresh func(jobs []search.Job)
}

// Poller refreshes the job cache on a fixed interval between Start and Stop.
type Poller struct {
	source Source
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	jobs     []search.Job
	selected string
	cron     *cron.Cron
	cancel   context.CancelFunc
}

// New builds a Poller. Owner is required.
func New(source Source, cfg Config, logger *zap.Logger) (*Poller, error) {
	if source == nil {
		return nil, errors.New("job source is required")
	}
	if cfg.Owner == "" {
		return nil, errors.New("owner is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{source: source, cfg: cfg, logger: logger.Named("poller")}, nil
}

// Start refreshes once immediately, then on every interval until Stop or ctx
// is done. Starting twice is an error.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cron != nil {
		p.mu.Unlock()
		return errors.New("poller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{p.logger.Sugar()})))
	if _, err := c.AddFunc("@every "+p.cfg.Interval.String(), func() { p.tick(runCtx) }); err != nil {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("schedule poll: %w", err)
	}
	p.cron = c
	p.cancel = cancel
	p.mu.Unlock()

	p.tick(runCtx)
	c.Start()
	p.logger.Info("polling started", zap.String("owner", p.cfg.Owner), zap.Duration("interval", p.cfg.Interval))
	return nil
}

// Stop halts the schedule and waits for an in-flight refresh to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	p.logger.Info("polling stopped")
}

func (p *Poller) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn("refresh failed", zap.Error(err))
	}
}

// Refresh fetches the owner's jobs and replaces the cache wholesale. On
// error the previous cache is kept.
func (p *Poller) Refresh(ctx context.Context) error {
	jobs, err := p.source.ListForOwner(ctx, p.cfg.Owner)
	if err != nil {
		return err
	}
	snapshot := make([]search.Job, len(jobs))
	for i, job := range jobs {
		snapshot[i] = job.Clone()
	}
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].CreatedAt.After(snapshot[j].CreatedAt)
	})

	p.mu.Lock()
	p.jobs = snapshot
	selected := p.selected
	p.mu.Unlock()

	if selected != "" && !containsJob(snapshot, selected) {
		p.logger.Warn("selected job not in owner's jobs; falling back",
			zap.String("job_id", selected), zap.String("owner", p.cfg.Owner))
	}
	if p.cfg.OnRefresh != nil {
		p.cfg.OnRefresh(p.Jobs())
	}
	return nil
}

func containsJob(jobs []search.Job, jobID string) bool {
	for _, job := range jobs {
		if job.ID == jobID {
			return true
		}
	}
	return false
}

// Jobs returns a copy of the cache, newest first.
func (p *Poller) Jobs() []search.Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]search.Job, len(p.jobs))
	for i, job := range p.jobs {
		out[i] = job.Clone()
	}
	return out
}

// Select pins jobID as the active job for this session. An empty id clears
// the selection.
func (p *Poller) Select(jobID string) {
	p.mu.Lock()
	p.selected = jobID
	p.mu.Unlock()
}

// Active returns the job to display: the selected job when cached, else the
// most recent pending or running job, else the most recent job.
func (p *Poller) Active() (search.Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.selected != "" {
		for _, job := range p.jobs {
			if job.ID == p.selected {
				return job.Clone(), true
			}
		}
	}
	for _, job := range p.jobs {
		if job.Status == search.JobStatusPending || job.Status == search.JobStatusRunning {
			return job.Clone(), true
		}
	}
	if len(p.jobs) > 0 {
		return p.jobs[0].Clone(), true
	}
	return search.Job{}, false
}

// Export writes a snapshot of a cached job. The cache is left untouched by
// filtering.
func (p *Poller) Export(w io.Writer, jobID string, opts export.Options) error {
	p.mu.RLock()
	var (
		job   search.Job
		found bool
	)
	for _, cached := range p.jobs {
		if cached.ID == jobID {
			job, found = cached.Clone(), true
			break
		}
	}
	p.mu.RUnlock()
	if !found {
		return fmt.Errorf("export %s: %w", jobID, search.ErrNotFound)
	}
	return export.Write(w, job, opts)
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
