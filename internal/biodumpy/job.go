package biodumpy

import (
	"context"
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of a download job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusPartial, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// ErrJobNotFound is returned by job stores for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// JobRequest is what a client submits in serve mode.
type JobRequest struct {
	Elements   []Element `json:"elements"`
	Modules    []string  `json:"modules"`
	OutputPath string    `json:"output_path,omitempty"`
	Bulk       bool      `json:"bulk,omitempty"`
}

// JobCounters tracks per-job progress.
type JobCounters struct {
	Elements int `json:"elements"`
	Records  int `json:"records"`
	Failures int `json:"failures"`
	Dumps    int `json:"dumps"`
}

// Job is the metadata kept for each submitted request.
type Job struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Request   JobRequest  `json:"request"`
	Counters  JobCounters `json:"counters"`
}

// JobStore persists jobs and the dumps they produced.
type JobStore interface {
	DumpRecorder
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListDumps(ctx context.Context, jobID string) ([]Dump, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Request   JobRequest
	Attempt   int
	Submitted int64
}

// Queue provides enqueue/dequeue semantics for download jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes dump events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
