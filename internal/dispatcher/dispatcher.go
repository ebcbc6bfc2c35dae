// Package dispatcher fans queued jobs out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

// Runner is a long-lived queue consumer.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the job queue and the workers draining it.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every one of them has returned,
// which happens when ctx finishes or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}

// Enqueue hands a job to the pool.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
