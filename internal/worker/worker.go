// Package worker consumes queued job ids and hands each one to a runner.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/search"
)

// Runner executes one job to completion. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Worker pulls queue items and runs them one at a time.
type Worker struct {
	id     int
	queue  search.Queue
	runner Runner
	clock  search.Clock
	logger *zap.Logger
}

// New constructs a Worker; id only labels its log lines.
func New(id int, queue search.Queue, runner Runner, clock search.Clock, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		clock:  clock,
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until ctx finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, search.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item search.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	if w.clock != nil && item.Submitted > 0 {
		wait := w.clock.Now().Sub(time.Unix(0, item.Submitted))
		logger.Debug("job picked up", zap.Duration("queue_wait", wait))
	}
	if err := w.runner.Run(ctx, item.JobID); err != nil {
		if errors.Is(err, search.ErrInvalidTransition) || errors.Is(err, search.ErrNotFound) {
			logger.Warn("job skipped", zap.Error(err))
			return
		}
		logger.Error("job run failed", zap.Error(err))
	}
}
