package biodumpy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Element is one item of the download list: a taxon name, a DOI, an
// accession, or a query carrying extra fields.
type Element struct {
	Query  string            `json:"query" yaml:"query"`
	Name   string            `json:"name,omitempty" yaml:"name,omitempty"`
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// ErrMissingQuery is returned when an element object has no query.
var ErrMissingQuery = errors.New("missing 'query' key")

// FileName is the name used in output paths.
func (e Element) FileName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Query
}

// Field returns an extra field or the fallback.
func (e Element) Field(key, fallback string) string {
	if v, ok := e.Fields[key]; ok && v != "" {
		return v
	}
	return fallback
}

// IsZero reports whether the element carries nothing to query.
func (e Element) IsZero() bool {
	return strings.TrimSpace(e.Query) == ""
}

// ParseElement converts a string or an object into an Element. Objects need
// a "query" key; "name" is accepted as a fallback for older lists.
func ParseElement(raw any) (Element, error) {
	switch v := raw.(type) {
	case nil:
		return Element{}, nil
	case string:
		return Element{Query: strings.TrimSpace(v)}, nil
	case Element:
		return v, nil
	case map[string]any:
		return elementFromMap(v)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return elementFromMap(m)
	default:
		return Element{}, fmt.Errorf("unsupported element type %T", raw)
	}
}

func elementFromMap(m map[string]any) (Element, error) {
	query, _ := m["query"].(string)
	name, _ := m["name"].(string)
	if query == "" {
		query = name
	}
	if strings.TrimSpace(query) == "" {
		return Element{}, fmt.Errorf("%w for %v", ErrMissingQuery, m)
	}
	el := Element{Query: strings.TrimSpace(query), Name: strings.TrimSpace(name)}
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "query" && k != "name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		// A nested "fields" object is what MarshalJSON produces.
		if nested, ok := m[k].(map[string]any); ok && k == "fields" {
			for nk, nv := range nested {
				el.setField(nk, fmt.Sprint(nv))
			}
			continue
		}
		el.setField(k, fmt.Sprint(m[k]))
	}
	return el, nil
}

func (e *Element) setField(key, value string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
}

// UnmarshalJSON accepts either a bare string or an object.
func (e *Element) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode element: %w", err)
	}
	el, err := ParseElement(raw)
	if err != nil {
		return err
	}
	*e = el
	return nil
}

// ParseElements converts a heterogeneous list, skipping empty entries.
func ParseElements(raw []any) ([]Element, error) {
	out := make([]Element, 0, len(raw))
	for i, item := range raw {
		el, err := ParseElement(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if el.IsZero() {
			continue
		}
		out = append(out, el)
	}
	return out, nil
}
