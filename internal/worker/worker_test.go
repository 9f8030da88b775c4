package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/clock/system"
	"github.com/JakeFAU/biodumpy/internal/progress"
	queuemem "github.com/JakeFAU/biodumpy/internal/queue/memory"
	"github.com/JakeFAU/biodumpy/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeInput struct {
	name     string
	bulk     bool
	failures map[string]error
}

func (f *fakeInput) Name() string { return f.name }

func (f *fakeInput) Settings() biodumpy.Settings {
	return biodumpy.Settings{Format: biodumpy.FormatJSON, Bulk: f.bulk}
}

func (f *fakeInput) Download(_ context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	if err := f.failures[el.Query]; err != nil {
		return nil, err
	}
	return biodumpy.Payload{map[string]any{"query": el.Query}}, nil
}

type recorder struct {
	dumps []biodumpy.Dump
}

func (r *recorder) RecordDump(_ context.Context, d biodumpy.Dump) error {
	r.dumps = append(r.dumps, d)
	return nil
}

type harness struct {
	queue *queuemem.Queue
	jobs  *memory.JobStore
	blobs *memory.BlobStore
	rec   *recorder
	w     *Worker
}

func newHarness(t *testing.T, build InputBuilder) *harness {
	t.Helper()
	h := &harness{
		queue: queuemem.NewQueue(4),
		jobs:  memory.NewJobStore(),
		blobs: memory.NewBlobStore(),
		rec:   &recorder{},
	}
	deps := biodumpy.Deps{
		Store:     h.blobs,
		Clock:     system.Fixed{T: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)},
		Recorders: []biodumpy.DumpRecorder{h.rec},
	}
	h.w = New(h.queue, h.jobs, build, deps, Config{ContinueOnError: true}, zap.NewNop())
	return h
}

func (h *harness) submit(t *testing.T, id string, req biodumpy.JobRequest) {
	t.Helper()
	require.NoError(t, h.jobs.CreateJob(context.Background(), biodumpy.Job{
		ID: id, Status: biodumpy.JobStatusQueued, Request: req,
	}))
	require.NoError(t, h.queue.Enqueue(context.Background(), biodumpy.QueueItem{JobID: id, Request: req}))
}

func (h *harness) waitFor(t *testing.T, id string) biodumpy.Job {
	t.Helper()
	var job biodumpy.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.jobs.GetJob(context.Background(), id)
		return err == nil && job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func (h *harness) run(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.w.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestWorkerProcessJobSuccess(t *testing.T) {
	t.Parallel()

	var gotModules []string
	var gotBulk bool
	h := newHarness(t, func(modules []string, bulk bool) ([]biodumpy.Input, error) {
		gotModules, gotBulk = modules, bulk
		return []biodumpy.Input{&fakeInput{name: "gbif"}}, nil
	})
	stop := h.run(t)
	defer stop()

	h.submit(t, "job-1", biodumpy.JobRequest{
		Elements: []biodumpy.Element{{Query: "Alpha beta"}, {Query: "10.1/x"}},
		Modules:  []string{"gbif"},
	})
	job := h.waitFor(t, "job-1")

	assert.Equal(t, biodumpy.JobStatusSucceeded, job.Status)
	assert.Empty(t, job.ErrorText)
	assert.Equal(t, biodumpy.JobCounters{Elements: 2, Records: 2, Dumps: 2}, job.Counters)
	assert.Equal(t, []string{"gbif"}, gotModules)
	assert.False(t, gotBulk)
	assert.Equal(t, []string{
		"jobs/job-1/2024-03-09/gbif/10.1_x.json",
		"jobs/job-1/2024-03-09/gbif/Alpha beta.json",
	}, h.blobs.Paths())

	dumps, err := h.jobs.ListDumps(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, dumps, 2)
	assert.Equal(t, "job-1", dumps[0].JobID)
	assert.Len(t, h.rec.dumps, 2)
}

func TestWorkerProcessJobPartial(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func([]string, bool) ([]biodumpy.Input, error) {
		return []biodumpy.Input{&fakeInput{
			name:     "worms",
			failures: map[string]error{"Missing": biodumpy.ErrNotFound},
		}}, nil
	})
	stop := h.run(t)
	defer stop()

	h.submit(t, "job-2", biodumpy.JobRequest{
		Elements:   []biodumpy.Element{{Query: "Missing"}, {Query: "Found"}},
		Modules:    []string{"worms"},
		OutputPath: "custom/{name}",
	})
	job := h.waitFor(t, "job-2")

	assert.Equal(t, biodumpy.JobStatusPartial, job.Status)
	assert.Contains(t, job.ErrorText, "Missing")
	assert.Equal(t, 1, job.Counters.Failures)
	assert.Equal(t, []string{"jobs/job-2/custom/Found.json"}, h.blobs.Paths())
}

func TestWorkerBuildFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func([]string, bool) ([]biodumpy.Input, error) {
		return nil, errors.New(`unknown module "scopus"`)
	})
	stop := h.run(t)
	defer stop()

	h.submit(t, "job-3", biodumpy.JobRequest{
		Elements: []biodumpy.Element{{Query: "Alpha"}},
		Modules:  []string{"scopus"},
	})
	job := h.waitFor(t, "job-3")

	assert.Equal(t, biodumpy.JobStatusFailed, job.Status)
	assert.Equal(t, `build inputs: unknown module "scopus"`, job.ErrorText)
	assert.Empty(t, h.blobs.Paths())
}

func TestWorkerBulkJobWritesOneFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ []string, bulk bool) ([]biodumpy.Input, error) {
		return []biodumpy.Input{&fakeInput{name: "obis", bulk: bulk}}, nil
	})
	stop := h.run(t)
	defer stop()

	h.submit(t, "job-4", biodumpy.JobRequest{
		Elements: []biodumpy.Element{{Query: "A"}, {Query: "B"}},
		Modules:  []string{"obis"},
		Bulk:     true,
	})
	job := h.waitFor(t, "job-4")

	assert.Equal(t, biodumpy.JobStatusSucceeded, job.Status)
	assert.Equal(t, []string{"jobs/job-4/2024-03-09/obis/bulk.json"}, h.blobs.Paths())
	dumps, err := h.jobs.ListDumps(context.Background(), "job-4")
	require.NoError(t, err)
	require.Len(t, dumps, 1)
	assert.True(t, dumps[0].Bulk)
	assert.Equal(t, 2, dumps[0].Records)
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func TestWorkerEmitsProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func([]string, bool) ([]biodumpy.Input, error) {
		return []biodumpy.Input{&fakeInput{name: "col"}}, nil
	})
	events := &eventLog{}
	h.w.cfg.Progress = events
	stop := h.run(t)
	defer stop()

	h.submit(t, "job-5", biodumpy.JobRequest{
		Elements: []biodumpy.Element{{Query: "Alpha"}},
		Modules:  []string{"col"},
	})
	h.waitFor(t, "job-5")

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.events, 3)
	assert.Equal(t, progress.StageElementStart, events.events[0].Stage)
	assert.Equal(t, progress.StageModuleDone, events.events[1].Stage)
	assert.Equal(t, progress.StageDumpWritten, events.events[2].Stage)
	assert.Equal(t, "job-5", events.events[2].JobID)
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	done := make(chan struct{})
	go func() {
		h.w.Run(context.Background())
		close(done)
	}()
	h.queue.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

// flakyQueue fails its first dequeues, then hands out items.
type flakyQueue struct {
	mu       sync.Mutex
	failures int
	calls    int
	items    chan biodumpy.QueueItem
}

func (q *flakyQueue) Enqueue(_ context.Context, item biodumpy.QueueItem) error {
	q.items <- item
	return nil
}

func (q *flakyQueue) Dequeue(ctx context.Context) (biodumpy.QueueItem, error) {
	q.mu.Lock()
	q.calls++
	fail := q.calls <= q.failures
	q.mu.Unlock()
	if fail {
		return biodumpy.QueueItem{}, errors.New("broker unavailable")
	}
	select {
	case <-ctx.Done():
		return biodumpy.QueueItem{}, ctx.Err()
	case item := <-q.items:
		return item, nil
	}
}

func TestWorkerRetriesAfterDequeueError(t *testing.T) {
	t.Parallel()

	queue := &flakyQueue{failures: 3, items: make(chan biodumpy.QueueItem, 1)}
	jobs := memory.NewJobStore()
	deps := biodumpy.Deps{
		Store: memory.NewBlobStore(),
		Clock: system.Fixed{T: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)},
	}
	build := func([]string, bool) ([]biodumpy.Input, error) {
		return []biodumpy.Input{&fakeInput{name: "gbif"}}, nil
	}
	w := New(queue, jobs, build, deps, Config{RetryBackoff: time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	req := biodumpy.JobRequest{Elements: []biodumpy.Element{{Query: "Alpha beta"}}, Modules: []string{"gbif"}}
	require.NoError(t, jobs.CreateJob(context.Background(), biodumpy.Job{ID: "job-r", Status: biodumpy.JobStatusQueued, Request: req}))
	require.NoError(t, queue.Enqueue(context.Background(), biodumpy.QueueItem{JobID: "job-r", Request: req}))

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(context.Background(), "job-r")
		return err == nil && job.Status == biodumpy.JobStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)
	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.Greater(t, queue.calls, 3)
}

func TestWorkerBackoffHonoursCancel(t *testing.T) {
	t.Parallel()

	queue := &flakyQueue{failures: 1 << 30, items: make(chan biodumpy.QueueItem)}
	w := New(queue, memory.NewJobStore(), nil, biodumpy.Deps{}, Config{RetryBackoff: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return queue.calls == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop while backing off")
	}
}

func TestJobTemplate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jobs/abc/{date}/{module}/{name}", JobTemplate("abc", ""))
	assert.Equal(t, "jobs/abc/out/{name}", JobTemplate("abc", "/out/{name}"))
	assert.Equal(t, "jobs/abc/escape/{name}", JobTemplate("abc", "../../escape/{name}"))
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	boom := errors.New("boom")

	status, text := deriveFinalStatus(canceled, biodumpy.JobCounters{}, context.Canceled)
	assert.Equal(t, biodumpy.JobStatusCanceled, status)
	assert.Equal(t, "context canceled", text)

	status, text = deriveFinalStatus(context.Background(), biodumpy.JobCounters{Dumps: 1}, nil)
	assert.Equal(t, biodumpy.JobStatusSucceeded, status)
	assert.Empty(t, text)

	status, _ = deriveFinalStatus(context.Background(), biodumpy.JobCounters{Dumps: 1}, boom)
	assert.Equal(t, biodumpy.JobStatusPartial, status)

	status, text = deriveFinalStatus(context.Background(), biodumpy.JobCounters{}, boom)
	assert.Equal(t, biodumpy.JobStatusFailed, status)
	assert.Equal(t, "boom", text)
}
