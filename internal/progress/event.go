package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the runner milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageElementStart Stage = "ELEMENT_START"
	StageModuleDone   Stage = "MODULE_DONE"
	StageModuleError  Stage = "MODULE_ERROR"
	StageDumpWritten  Stage = "DUMP_WRITTEN"
)

// Event captures one step of a download job.
type Event struct {
	JobID string
	TS    time.Time
	Stage Stage
	// Module is empty for element-level events.
	Module string
	Query  string
	// Index and Total locate the element in the run.
	Index   int
	Total   int
	Records int
	Bytes   int
	// URI is set for dumps.
	URI string
	// Note carries error text for failures.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageElementStart:
		if e.Query == "" {
			return errors.New("element start requires query")
		}
	case StageModuleDone, StageModuleError:
		if e.Module == "" {
			return fmt.Errorf("%s requires module", e.Stage)
		}
	case StageDumpWritten:
		if e.URI == "" {
			return errors.New("dump written requires uri")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Records < 0 || e.Bytes < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}
