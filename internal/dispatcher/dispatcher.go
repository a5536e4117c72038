// Package dispatcher owns the worker pool that executes search jobs in the
// background, decoupled from the request that submitted them.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/places-search/internal/search"
	"github.com/JakeFAU/places-search/internal/worker"
)

// Dispatcher fans queue work out to a fixed pool of workers.
type Dispatcher struct {
	queue   search.Queue
	workers []*worker.Worker
	clock   search.Clock
}

// New creates a Dispatcher over queue and the given workers.
func New(queue search.Queue, workers []*worker.Worker, clock search.Clock) *Dispatcher {
	return &Dispatcher{queue: queue, workers: workers, clock: clock}
}

// Run starts all workers and blocks until ctx finishes and every worker has
// returned. Jobs in flight observe the same ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue schedules jobID for execution without waiting for it to run.
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string) error {
	item := search.QueueItem{JobID: jobID}
	if d.clock != nil {
		item.Submitted = d.clock.Now().UnixNano()
	} else {
		item.Submitted = time.Now().UnixNano()
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Size returns the number of workers in the pool.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}
