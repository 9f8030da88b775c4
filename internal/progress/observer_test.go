package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) {
	r.events = append(r.events, evt)
}

func TestJobObserverEmitsEvents(t *testing.T) {
	t.Parallel()

	rec := &recordingEmitter{}
	obs := NewJobObserver(rec, "job-1")
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	obs.now = func() time.Time { return ts }

	el := biodumpy.Element{Query: "Alpha"}
	obs.ElementStarted(el, 1, 4)
	obs.ModuleFinished("gbif", el, 3, nil)
	obs.ModuleFinished("worms", el, 0, errors.New("no aphia id"))
	obs.Dumped(biodumpy.Dump{Module: "gbif", Name: "Alpha", URI: "file:///out/Alpha.json", Records: 3, Bytes: 120})

	require.Len(t, rec.events, 4)
	for _, evt := range rec.events {
		assert.Equal(t, "job-1", evt.JobID)
		assert.Equal(t, ts, evt.TS)
		require.NoError(t, evt.Validate())
	}
	assert.Equal(t, StageElementStart, rec.events[0].Stage)
	assert.Equal(t, 4, rec.events[0].Total)
	assert.Equal(t, StageModuleDone, rec.events[1].Stage)
	assert.Equal(t, 3, rec.events[1].Records)
	assert.Equal(t, StageModuleError, rec.events[2].Stage)
	assert.Equal(t, "no aphia id", rec.events[2].Note)
	assert.Equal(t, StageDumpWritten, rec.events[3].Stage)
	assert.Equal(t, 120, rec.events[3].Bytes)
}

func TestJobObserverNilEmitter(t *testing.T) {
	t.Parallel()

	obs := NewJobObserver(nil, "job-1")
	obs.ElementStarted(biodumpy.Element{Query: "Alpha"}, 0, 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	ts := time.Unix(10, 0)
	cases := map[string]struct {
		evt  Event
		want string
	}{
		"missing job":   {Event{TS: ts, Stage: StageElementStart, Query: "q"}, "job id is required"},
		"missing ts":    {Event{JobID: "j", Stage: StageElementStart, Query: "q"}, "timestamp is required"},
		"no query":      {Event{JobID: "j", TS: ts, Stage: StageElementStart}, "element start requires query"},
		"no module":     {Event{JobID: "j", TS: ts, Stage: StageModuleError}, "MODULE_ERROR requires module"},
		"no uri":        {Event{JobID: "j", TS: ts, Stage: StageDumpWritten}, "dump written requires uri"},
		"unknown stage": {Event{JobID: "j", TS: ts, Stage: "NOPE"}, `unknown stage "NOPE"`},
		"negative":      {Event{JobID: "j", TS: ts, Stage: StageModuleDone, Module: "m", Records: -1}, "counts must be >= 0"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.EqualError(t, tc.evt.Validate(), tc.want)
		})
	}
}
