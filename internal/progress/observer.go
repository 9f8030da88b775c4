package progress

import (
	"time"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

// JobObserver turns runner callbacks for one job into Events.
type JobObserver struct {
	emitter Emitter
	jobID   string
	now     func() time.Time
}

var _ biodumpy.Observer = (*JobObserver)(nil)

// NewJobObserver binds an emitter to a job.
func NewJobObserver(emitter Emitter, jobID string) *JobObserver {
	return &JobObserver{
		emitter: emitter,
		jobID:   jobID,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ElementStarted implements biodumpy.Observer.
func (o *JobObserver) ElementStarted(el biodumpy.Element, index, total int) {
	o.emit(Event{Stage: StageElementStart, Query: el.Query, Index: index, Total: total})
}

// ModuleFinished implements biodumpy.Observer.
func (o *JobObserver) ModuleFinished(module string, el biodumpy.Element, records int, err error) {
	evt := Event{Stage: StageModuleDone, Module: module, Query: el.Query, Records: records}
	if err != nil {
		evt.Stage = StageModuleError
		evt.Note = err.Error()
	}
	o.emit(evt)
}

// Dumped implements biodumpy.Observer.
func (o *JobObserver) Dumped(d biodumpy.Dump) {
	o.emit(Event{
		Stage:   StageDumpWritten,
		Module:  d.Module,
		Query:   d.Name,
		Records: d.Records,
		Bytes:   d.Bytes,
		URI:     d.URI,
	})
}

func (o *JobObserver) emit(evt Event) {
	if o.emitter == nil {
		return
	}
	evt.JobID = o.jobID
	evt.TS = o.now()
	o.emitter.Emit(evt)
}
