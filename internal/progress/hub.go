package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub. Zero values pick the
// defaults below.
type Config struct {
	// BufferSize is the number of events Emit can queue before dropping.
	BufferSize int
	// FlushEvery and FlushSize bound how long and how large a batch grows
	// before sinks see it.
	FlushEvery time.Duration
	FlushSize  int
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// TrackedJobs caps the number of job tallies kept for Progress.
	TrackedJobs int
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 1024
	defaultFlushSize   = 256
	defaultFlushEvery  = 500 * time.Millisecond
	defaultSinkTimeout = 10 * time.Second
	defaultTrackedJobs = 512
	dropLogInterval    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FlushSize <= 0 {
		c.FlushSize = defaultFlushSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = defaultFlushEvery
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.TrackedJobs <= 0 {
		c.TrackedJobs = defaultTrackedJobs
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Tally is the running count of one job's events.
type Tally struct {
	JobID        string    `json:"job_id"`
	Elements     int       `json:"elements"`
	Total        int       `json:"total"`
	ModulesDone  int       `json:"modules_done"`
	ModuleErrors int       `json:"module_errors"`
	Dumps        int       `json:"dumps"`
	Records      int       `json:"records"`
	Bytes        int       `json:"bytes"`
	Current      string    `json:"current,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (t *Tally) apply(evt Event) {
	switch evt.Stage {
	case StageElementStart:
		t.Elements++
		t.Current = evt.Query
		if evt.Total > t.Total {
			t.Total = evt.Total
		}
	case StageModuleDone:
		t.ModulesDone++
		t.Records += evt.Records
	case StageModuleError:
		t.ModuleErrors++
	case StageDumpWritten:
		t.Dumps++
		t.Bytes += evt.Bytes
	}
	if evt.TS.After(t.UpdatedAt) {
		t.UpdatedAt = evt.TS
	}
}

// Hub takes events from concurrent runners, keeps per-job tallies and hands
// batches to sinks from one goroutine. Emit never blocks.
type Hub struct {
	cfg    Config
	sinks  []Sink
	in     chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	mu     sync.RWMutex
	tally  map[string]*Tally
	order  []string
	closer context.Context

	dropped  atomic.Int64
	warnedAt atomic.Int64
	stopping atomic.Bool
	stopOnce sync.Once
}

// NewHub starts the hub loop. Close must be called to stop it.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		in:     make(chan Event, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger.Named("progress"),
		tally:  make(map[string]*Tally),
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events are discarded; when the buffer is full
// the event is counted as dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.stopping.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.in <- evt:
		return
	default:
	}
	n := h.dropped.Add(1)
	now := time.Now().UnixNano()
	prev := h.warnedAt.Load()
	if time.Duration(now-prev) < dropLogInterval || !h.warnedAt.CompareAndSwap(prev, now) {
		return
	}
	h.dropped.Add(-n)
	h.logger.Warn("progress events dropped", zap.Int64("dropped", n))
}

// Progress returns the tally of jobID, if the hub has seen any of its events.
func (h *Hub) Progress(jobID string) (Tally, bool) {
	if h == nil {
		return Tally{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tally[jobID]
	if !ok {
		return Tally{}, false
	}
	return *t, true
}

// Close stops intake, flushes what is queued, closes the sinks and waits for
// the loop to exit or ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		h.stopping.Store(true)
		h.mu.Lock()
		h.closer = ctx
		h.mu.Unlock()
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	timer := time.NewTimer(h.cfg.FlushEvery)
	timer.Stop()
	armed := false
	pending := make([]Event, 0, h.cfg.FlushSize)

	send := func() {
		if armed {
			timer.Stop()
			armed = false
		}
		h.deliver(pending)
		pending = pending[:0]
	}

	for {
		select {
		case evt := <-h.in:
			h.track(evt)
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.FlushSize:
				send()
			case !armed:
				timer.Reset(h.cfg.FlushEvery)
				armed = true
			}
		case <-timer.C:
			armed = false
			send()
		case <-h.quit:
			for drained := false; !drained; {
				select {
				case evt := <-h.in:
					h.track(evt)
					pending = append(pending, evt)
				default:
					drained = true
				}
			}
			send()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) track(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tally[evt.JobID]
	if !ok {
		if len(h.order) >= h.cfg.TrackedJobs {
			delete(h.tally, h.order[0])
			h.order = h.order[1:]
		}
		t = &Tally{JobID: evt.JobID}
		h.tally[evt.JobID] = t
		h.order = append(h.order, evt.JobID)
	}
	t.apply(evt)
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	// Sinks may keep the slice; pending is reused by the loop.
	out := make([]Event, len(batch))
	copy(out, batch)
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := s.Consume(ctx, out)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(out)), zap.Error(err))
		}
	}
}

func (h *Hub) closeSinks() {
	h.mu.RLock()
	ctx := h.closer
	h.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, s := range h.sinks {
		if err := s.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
