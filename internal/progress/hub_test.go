package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJob = "0190a6c4-0000-7000-8000-000000000001"

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, FlushSize: 2, FlushEvery: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(elementStart(testJob, "Alpha", 1, 2))
	hub.Emit(elementStart(testJob, "Beta", 2, 2))

	require.Eventually(t, func() bool {
		b := sink.batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesAfterInterval(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{FlushSize: 50, FlushEvery: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(elementStart(testJob, "Alpha", 1, 1))
	require.Eventually(t, func() bool { return len(sink.batches()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubCloseDeliversQueuedEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{FlushSize: 100, FlushEvery: time.Hour}, sink)
	hub.Emit(moduleDone(testJob, "gbif", 3))
	hub.Emit(Event{JobID: testJob, TS: time.Now(), Stage: StageDumpWritten, URI: "mem://x"})

	require.NoError(t, hub.Close(context.Background()))
	var total int
	for _, b := range sink.batches() {
		total += len(b)
	}
	assert.Equal(t, 2, total)
	assert.True(t, sink.isClosed())

	// Emit after Close is ignored and a second Close only waits.
	hub.Emit(moduleDone(testJob, "gbif", 1))
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubSkipsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{FlushSize: 1}, sink)
	hub.Emit(Event{JobID: testJob, TS: time.Now(), Stage: StageDumpWritten})
	hub.Emit(Event{JobID: testJob, TS: time.Now(), Stage: "BOGUS", Module: "gbif"})
	hub.Emit(moduleDone(testJob, "gbif", 1))
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, StageModuleDone, batches[0][0].Stage)
}

func TestHubEmitDoesNotBlockWhenFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sink := &recordingSink{wait: block}
	hub := NewHub(Config{BufferSize: 1, FlushSize: 1}, sink)

	start := time.Now()
	for i := 0; i < 50; i++ {
		hub.Emit(moduleDone(testJob, "bold", 1))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.NotZero(t, hub.warnedAt.Load())

	close(block)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubTalliesPerJob(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{FlushSize: 1})
	hub.Emit(elementStart(testJob, "Alpha", 1, 2))
	hub.Emit(moduleDone(testJob, "gbif", 4))
	hub.Emit(Event{JobID: testJob, TS: time.Now(), Stage: StageModuleError, Module: "bold", Note: "boom"})
	hub.Emit(Event{JobID: testJob, TS: time.Now(), Stage: StageDumpWritten, URI: "mem://a", Bytes: 120})
	hub.Emit(elementStart("other", "Beta", 1, 1))
	require.NoError(t, hub.Close(context.Background()))

	got, ok := hub.Progress(testJob)
	require.True(t, ok)
	assert.Equal(t, 1, got.Elements)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, "Alpha", got.Current)
	assert.Equal(t, 1, got.ModulesDone)
	assert.Equal(t, 1, got.ModuleErrors)
	assert.Equal(t, 4, got.Records)
	assert.Equal(t, 1, got.Dumps)
	assert.Equal(t, 120, got.Bytes)
	assert.False(t, got.UpdatedAt.IsZero())

	_, ok = hub.Progress("missing")
	assert.False(t, ok)
}

func TestHubEvictsOldestTally(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{TrackedJobs: 2, FlushSize: 1})
	for _, id := range []string{"a", "b", "c"} {
		hub.Emit(elementStart(id, "Alpha", 1, 1))
	}
	require.NoError(t, hub.Close(context.Background()))

	_, ok := hub.Progress("a")
	assert.False(t, ok)
	_, ok = hub.Progress("c")
	assert.True(t, ok)
}

func TestHubCloseHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	hub := NewHub(Config{FlushSize: 1}, &recordingSink{wait: block})
	hub.Emit(moduleDone(testJob, "gbif", 1))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := hub.Close(ctx)
	assert.True(t, errors.Is(err, context.Canceled))

	close(block)
	require.NoError(t, hub.Close(context.Background()))
}

func TestNilHubIsInert(t *testing.T) {
	var hub *Hub
	hub.Emit(moduleDone(testJob, "gbif", 1))
	_, ok := hub.Progress(testJob)
	assert.False(t, ok)
	assert.NoError(t, hub.Close(context.Background()))
}

type recordingSink struct {
	mu     sync.Mutex
	seen   [][]Event
	closed bool
	wait   chan struct{}
}

func (s *recordingSink) Consume(ctx context.Context, batch []Event) error {
	if s.wait != nil {
		select {
		case <-s.wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, batch)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.seen...)
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func elementStart(job, query string, index, total int) Event {
	return Event{JobID: job, TS: time.Now(), Stage: StageElementStart, Query: query, Index: index, Total: total}
}

func moduleDone(job, module string, records int) Event {
	return Event{JobID: job, TS: time.Now(), Stage: StageModuleDone, Module: module, Records: records}
}
