// Package biodumpy defines the core types and the orchestration loop that
// drives input modules over a list of elements and dumps their payloads.
package biodumpy

import (
	"fmt"
	"strings"
	"time"
)

// OutputFormat names the encoding used when a payload is written.
type OutputFormat string

// Supported output formats.
const (
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatFASTA OutputFormat = "fasta"
)

// ParseOutputFormat normalises a user supplied format name.
func ParseOutputFormat(raw string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatJSON, FormatCSV, FormatFASTA:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q", raw)
	}
}

// Extension returns the file extension used for the format.
func (f OutputFormat) Extension() string {
	return string(f)
}

// ContentType returns the MIME type written alongside blobs of this format.
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatFASTA:
		return "text/x-fasta; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// Payload is the list of records an input returns for one element.
type Payload []any

// Settings are the knobs every input shares.
type Settings struct {
	Format OutputFormat
	Bulk   bool
	Sleep  time.Duration
}

// Dump describes one file written by the runner.
type Dump struct {
	JobID     string       `json:"job_id,omitempty"`
	Module    string       `json:"module"`
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	URI       string       `json:"uri"`
	Format    OutputFormat `json:"format"`
	Records   int          `json:"records"`
	Bytes     int          `json:"bytes"`
	Hash      string       `json:"hash"`
	Bulk      bool         `json:"bulk"`
	WrittenAt time.Time    `json:"written_at"`
}

// Summary reports what a run did.
type Summary struct {
	Elements int    `json:"elements"`
	Records  int    `json:"records"`
	Failures int    `json:"failures"`
	Dumps    []Dump `json:"dumps"`
}
