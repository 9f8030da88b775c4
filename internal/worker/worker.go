// Package worker implements the download job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/metrics"
	"github.com/JakeFAU/biodumpy/internal/progress"
	queueMemory "github.com/JakeFAU/biodumpy/internal/queue/memory"
)

// DefaultJobTemplate is the path template used when a request has no output_path.
const DefaultJobTemplate = "{date}/{module}/{name}"

// Dequeue retry delays after a transient queue error.
const (
	DefaultRetryBackoff = 250 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
)

// JobPrefix roots every dump of a job under its own directory.
const JobPrefix = "jobs"

// InputBuilder constructs the inputs a request selected, with bulk forced
// on when asked.
type InputBuilder func(modules []string, bulk bool) ([]biodumpy.Input, error)

// Config controls Worker behavior.
type Config struct {
	ContinueOnError bool
	// RetryBackoff is the first wait after a failed dequeue; it doubles up
	// to five seconds while failures continue.
	RetryBackoff time.Duration
	// Progress receives per-job runner events when set.
	Progress progress.Emitter
}

// Worker consumes queue items and runs each job through a biodumpy.Runner.
type Worker struct {
	queue    biodumpy.Queue
	jobStore biodumpy.JobStore
	build    InputBuilder
	deps     biodumpy.Deps
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. deps carries the blob store, hasher, clock and
// any extra recorders; the job store is always added as a recorder.
func New(
	queue biodumpy.Queue,
	jobStore biodumpy.JobStore,
	build InputBuilder,
	deps biodumpy.Deps,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Worker{
		queue:    queue,
		jobStore: jobStore,
		build:    build,
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed. Other dequeue errors are logged and retried after a backoff.
func (w *Worker) Run(ctx context.Context) {
	backoff := w.cfg.RetryBackoff
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queueMemory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(2*backoff, maxRetryBackoff)
			continue
		}
		backoff = w.cfg.RetryBackoff
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) processJob(ctx context.Context, item biodumpy.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID))
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, biodumpy.JobStatusRunning, "", biodumpy.JobCounters{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	summary, runErr := w.runJob(ctx, item)
	counters := biodumpy.JobCounters{
		Elements: summary.Elements,
		Records:  summary.Records,
		Failures: summary.Failures,
		Dumps:    len(summary.Dumps),
	}
	status, errText := deriveFinalStatus(ctx, counters, runErr)
	metrics.ObserveJob(string(status))
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("elements", counters.Elements),
		zap.Int("dumps", counters.Dumps),
		zap.Int("failures", counters.Failures))

	// The final write must land even when the job was canceled.
	finalCtx := context.WithoutCancel(ctx)
	if err := w.jobStore.UpdateJobStatus(finalCtx, item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
}

func (w *Worker) runJob(ctx context.Context, item biodumpy.QueueItem) (biodumpy.Summary, error) {
	if w.build == nil {
		return biodumpy.Summary{}, errors.New("no input builder configured")
	}
	inputs, err := w.build(item.Request.Modules, item.Request.Bulk)
	if err != nil {
		return biodumpy.Summary{}, fmt.Errorf("build inputs: %w", err)
	}

	deps := w.deps
	deps.Recorders = append([]biodumpy.DumpRecorder{w.jobStore}, w.deps.Recorders...)
	deps.Logger = w.logger
	if w.cfg.Progress != nil {
		deps.Observers = append(append([]biodumpy.Observer(nil), w.deps.Observers...),
			progress.NewJobObserver(w.cfg.Progress, item.JobID))
	}
	runner, err := biodumpy.NewRunner(inputs, deps, biodumpy.RunnerConfig{
		ContinueOnError: w.cfg.ContinueOnError,
		JobID:           item.JobID,
	})
	if err != nil {
		return biodumpy.Summary{}, fmt.Errorf("new runner: %w", err)
	}
	return runner.Start(ctx, item.Request.Elements, JobTemplate(item.JobID, item.Request.OutputPath))
}

// JobTemplate scopes a request template below jobs/<id>/.
func JobTemplate(jobID, outputPath string) string {
	tmpl := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(outputPath)), "/")
	if tmpl == "" {
		tmpl = DefaultJobTemplate
	}
	return path.Join(JobPrefix, jobID, tmpl)
}

func deriveFinalStatus(
	ctx context.Context,
	counters biodumpy.JobCounters,
	runErr error,
) (biodumpy.JobStatus, string) {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	switch {
	case ctx.Err() != nil:
		return biodumpy.JobStatusCanceled, errText
	case runErr == nil:
		return biodumpy.JobStatusSucceeded, ""
	case counters.Dumps > 0:
		return biodumpy.JobStatusPartial, errText
	default:
		return biodumpy.JobStatusFailed, errText
	}
}
