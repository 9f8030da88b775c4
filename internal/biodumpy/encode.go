package biodumpy

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/biodumpy/internal/fasta"
)

// Encode renders a payload in the requested format.
func Encode(format OutputFormat, payload Payload) ([]byte, error) {
	if payload == nil {
		payload = Payload{}
	}
	switch format {
	case FormatJSON, "":
		return encodeJSON(payload)
	case FormatCSV:
		return encodeCSV(payload)
	case FormatFASTA:
		return encodeFASTA(payload)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func encodeJSON(payload Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// encodeCSV writes one row per record. Columns follow each record's JSON
// key order (struct field order, map keys sorted) and are unioned across
// records in first-seen order. Nested objects are unrolled one level into
// parent.child columns; lists and deeper objects are written as JSON.
func encodeCSV(payload Payload) ([]byte, error) {
	var header []string
	seen := map[string]bool{}
	rows := make([]map[string]json.RawMessage, 0, len(payload))
	for i, item := range payload {
		cols, err := recordColumns(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		row := make(map[string]json.RawMessage, len(cols))
		for _, c := range cols {
			if !seen[c.key] {
				seen[c.key] = true
				header = append(header, c.key)
			}
			row[c.key] = c.raw
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(header) > 0 {
		if err := w.Write(header); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, k := range header {
			cell, err := csvCell(row[k])
			if err != nil {
				return nil, fmt.Errorf("encode column %s: %w", k, err)
			}
			record[i] = cell
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

type column struct {
	key string
	raw json.RawMessage
}

func recordColumns(item any) ([]column, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(item); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	raw := bytes.TrimSpace(buf.Bytes())
	if string(raw) == "null" {
		return nil, nil
	}
	fields, err := objectFields(raw)
	if err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}
	out := make([]column, 0, len(fields))
	for _, f := range fields {
		if len(f.raw) == 0 || f.raw[0] != '{' {
			out = append(out, f)
			continue
		}
		children, err := objectFields(f.raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.key, err)
		}
		for _, c := range children {
			out = append(out, column{key: f.key + "." + c.key, raw: c.raw})
		}
	}
	return out, nil
}

// objectFields splits a JSON object into its members, keeping their order.
func objectFields(raw []byte) ([]column, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var cols []column
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("member %s: %w", key, err)
		}
		cols = append(cols, column{key: key, raw: v})
	}
	return cols, nil
}

func csvCell(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0, string(raw) == "null":
		return "", nil
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	default:
		return string(raw), nil
	}
}

func encodeFASTA(payload Payload) ([]byte, error) {
	var buf bytes.Buffer
	w := fasta.NewWriter(&buf, fasta.DefaultLineWidth)
	for i, item := range payload {
		switch v := item.(type) {
		case fasta.Record:
			if err := w.Write(v); err != nil {
				return nil, fmt.Errorf("write fasta record %d: %w", i, err)
			}
		case *fasta.Record:
			if err := w.Write(*v); err != nil {
				return nil, fmt.Errorf("write fasta record %d: %w", i, err)
			}
		case string:
			if err := w.WriteRaw(v); err != nil {
				return nil, fmt.Errorf("write fasta text %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("record %d: %T cannot be written as fasta", i, item)
		}
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush fasta: %w", err)
	}
	return buf.Bytes(), nil
}
