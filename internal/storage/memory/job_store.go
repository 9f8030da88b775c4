package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

// JobStore provides an in-memory biodumpy.JobStore.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]biodumpy.Job
	dumps map[string][]biodumpy.Dump
	now   func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]biodumpy.Job),
		dumps: make(map[string][]biodumpy.Dump),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job biodumpy.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status biodumpy.JobStatus,
	errText string,
	counters biodumpy.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", biodumpy.ErrJobNotFound, jobID)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == biodumpy.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordDump appends a dump to its job. Dumps without a job ID are ignored.
func (s *JobStore) RecordDump(_ context.Context, dump biodumpy.Dump) error {
	if dump.JobID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dumps[dump.JobID] = append(s.dumps[dump.JobID], dump)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (biodumpy.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return biodumpy.Job{}, fmt.Errorf("%w: %s", biodumpy.ErrJobNotFound, jobID)
	}
	return job, nil
}

// ListDumps returns all recorded dumps for a job.
func (s *JobStore) ListDumps(_ context.Context, jobID string) ([]biodumpy.Dump, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", biodumpy.ErrJobNotFound, jobID)
	}
	dumps := s.dumps[jobID]
	out := make([]biodumpy.Dump, len(dumps))
	copy(out, dumps)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
