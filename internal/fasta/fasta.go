// Package fasta reads and writes FASTA sequence records.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

const bufSize = 1 << 20 // 1 MiB

// DefaultLineWidth wraps sequences the way NCBI renders them.
const DefaultLineWidth = 70

// Record is one FASTA entry.
type Record struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Seq         string `json:"seq"`
}

// Header renders the line after '>'.
func (r Record) Header() string {
	if r.Description == "" {
		return r.ID
	}
	return r.ID + " " + r.Description
}

// Parse reads every record from r. Text before the first header is ignored.
func Parse(r io.Reader) ([]Record, error) {
	br := bufio.NewReaderSize(r, bufSize)
	var (
		records []Record
		current *Record
		seq     strings.Builder
	)
	flush := func() {
		if current != nil {
			current.Seq = seq.String()
			records = append(records, *current)
			seq.Reset()
		}
	}
	for {
		line, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read fasta: %w", err)
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 && line[0] == '>' {
			flush()
			id, desc, _ := strings.Cut(strings.TrimSpace(string(line[1:])), " ")
			current = &Record{ID: id, Description: strings.TrimSpace(desc)}
		} else if current != nil {
			seq.Write(bytes.TrimSpace(line))
		}
		if err == io.EOF {
			flush()
			return records, nil
		}
	}
}

// Writer renders records, wrapping sequence lines at a fixed width.
type Writer struct {
	w     *bufio.Writer
	width int
}

// NewWriter wraps w. A non-positive width writes each sequence on one line.
func NewWriter(w io.Writer, width int) *Writer {
	return &Writer{w: bufio.NewWriter(w), width: width}
}

// Write appends one record.
func (w *Writer) Write(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("fasta record has no id")
	}
	if _, err := fmt.Fprintf(w.w, ">%s\n", rec.Header()); err != nil {
		return err
	}
	seq := rec.Seq
	if w.width <= 0 {
		_, err := fmt.Fprintln(w.w, seq)
		return err
	}
	for len(seq) > w.width {
		if _, err := fmt.Fprintln(w.w, seq[:w.width]); err != nil {
			return err
		}
		seq = seq[w.width:]
	}
	if seq != "" {
		_, err := fmt.Fprintln(w.w, seq)
		return err
	}
	return nil
}

// WriteRaw appends pre-rendered FASTA text, adding a trailing newline when
// it is missing.
func (w *Writer) WriteRaw(text string) error {
	if text == "" {
		return nil
	}
	if _, err := w.w.WriteString(text); err != nil {
		return err
	}
	if !strings.HasSuffix(text, "\n") {
		return w.w.WriteByte('\n')
	}
	return nil
}

// Flush writes any buffered data.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
