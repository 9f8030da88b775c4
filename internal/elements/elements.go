// Package elements loads download lists from files. Supported layouts are
// plain text (one query per line, # comments), JSON or YAML lists of strings
// or objects (optionally under an "elements" key), and CSV with a header.
package elements

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

// Format is the layout of an element file.
type Format string

// Supported element file formats.
const (
	FormatText Format = "txt"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// DetectFormat picks a format from the file extension, defaulting to text.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".csv":
		return FormatCSV
	default:
		return FormatText
	}
}

// LoadFile reads and parses an element file.
func LoadFile(path string) ([]biodumpy.Element, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied list
	if err != nil {
		return nil, fmt.Errorf("open element file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	els, err := Parse(f, DetectFormat(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return els, nil
}

// Parse reads elements in the given format. Empty entries are skipped.
func Parse(r io.Reader, format Format) ([]biodumpy.Element, error) {
	switch format {
	case FormatText, "":
		return parseText(r)
	case FormatJSON:
		return parseJSON(r)
	case FormatYAML:
		return parseYAML(r)
	case FormatCSV:
		return parseCSV(r)
	default:
		return nil, fmt.Errorf("unknown element format %q", format)
	}
}

func parseText(r io.Reader) ([]biodumpy.Element, error) {
	var out []biodumpy.Element
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, biodumpy.Element{Query: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return out, nil
}

func parseJSON(r io.Reader) ([]biodumpy.Element, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return fromRaw(raw)
}

func parseYAML(r io.Reader) ([]biodumpy.Element, error) {
	var raw any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return fromRaw(raw)
}

func fromRaw(raw any) ([]biodumpy.Element, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return biodumpy.ParseElements(v)
	case map[string]any:
		list, ok := v["elements"].([]any)
		if !ok {
			return nil, errors.New(`expected a list or an object with an "elements" list`)
		}
		return biodumpy.ParseElements(list)
	default:
		return nil, fmt.Errorf("expected a list of elements, got %T", raw)
	}
}

// parseCSV reads a header row. The "query" column (or "name", or the first
// column when neither exists) is the query; other non-empty cells become
// fields.
func parseCSV(r io.Reader) ([]biodumpy.Element, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	hasKey := false
	for _, h := range header {
		if h == "query" || h == "name" {
			hasKey = true
		}
	}

	var out []biodumpy.Element
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row := make(map[string]any, len(rec))
		for i, cell := range rec {
			if i >= len(header) || strings.TrimSpace(cell) == "" {
				continue
			}
			key := header[i]
			if !hasKey && i == 0 {
				key = "query"
			}
			row[key] = strings.TrimSpace(cell)
		}
		if len(row) == 0 {
			continue
		}
		el, err := biodumpy.ParseElement(row)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, el)
	}
	return out, nil
}
