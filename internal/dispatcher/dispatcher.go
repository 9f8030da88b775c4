// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

// Runner is a queue consumer, normally a *worker.Worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher registers jobs and fans queue work out to a pool of workers.
type Dispatcher struct {
	queue    biodumpy.Queue
	jobStore biodumpy.JobStore
	ids      biodumpy.IDGenerator
	clock    biodumpy.Clock
	workers  []Runner
}

// New creates a Dispatcher.
func New(
	queue biodumpy.Queue,
	jobStore biodumpy.JobStore,
	ids biodumpy.IDGenerator,
	clock biodumpy.Clock,
	workers []Runner,
) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		jobStore: jobStore,
		ids:      ids,
		clock:    clock,
		workers:  workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item biodumpy.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit records a queued job and hands it to the workers. A job the queue
// refuses is kept as failed so its ID still resolves.
func (d *Dispatcher) Submit(ctx context.Context, req biodumpy.JobRequest) (biodumpy.Job, error) {
	if d.jobStore == nil || d.ids == nil {
		return biodumpy.Job{}, errors.New("dispatcher has no job store")
	}
	id, err := d.ids.NewID()
	if err != nil {
		return biodumpy.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := time.Now().UTC()
	if d.clock != nil {
		now = d.clock.Now().UTC()
	}
	job := biodumpy.Job{
		ID:        id,
		Status:    biodumpy.JobStatusQueued,
		Submitted: now,
		Request:   req,
	}
	if err := d.jobStore.CreateJob(ctx, job); err != nil {
		return biodumpy.Job{}, fmt.Errorf("create job: %w", err)
	}
	item := biodumpy.QueueItem{JobID: id, Request: req, Submitted: now.Unix()}
	if err := d.Enqueue(ctx, item); err != nil {
		if upErr := d.jobStore.UpdateJobStatus(ctx, id, biodumpy.JobStatusFailed, err.Error(), biodumpy.JobCounters{}); upErr != nil {
			return biodumpy.Job{}, errors.Join(err, upErr)
		}
		return biodumpy.Job{}, err
	}
	return job, nil
}
