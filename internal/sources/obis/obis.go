// Package obis downloads checklists and occurrences from the Ocean
// Biodiversity Information System.
package obis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "obis"

const (
	defaultBaseURL = "https://api.obis.org/v3"
	defaultPage    = 5000
)

// Config holds OBIS options.
type Config struct {
	base.Options `mapstructure:",squash"`
	Occurrences  bool   `mapstructure:"occurrences"`
	Geometry     string `mapstructure:"geometry"`
	AreaID       string `mapstructure:"areaid"`
	PageSize     int    `mapstructure:"page_size"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{PageSize: defaultPage}
}

// Input downloads OBIS data.
type Input struct {
	base.Module
	cfg Config
}

type page struct {
	Total   int              `json:"total"`
	Results []map[string]any `json:"results"`
}

// New validates cfg and builds the input.
func New(cfg Config, deps base.Deps) (*Input, error) {
	if !cfg.Occurrences && (cfg.Geometry != "" || cfg.AreaID != "") {
		return nil, errors.New("obis: geometry and areaid require occurrences")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPage
	}
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps)
	if err != nil {
		return nil, err
	}
	return &Input{Module: m, cfg: cfg}, nil
}

// Download returns the checklist entries for the query or, with
// occurrences, every occurrence record.
func (o *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	if o.cfg.Occurrences {
		return o.occurrences(ctx, el.Query)
	}
	return o.checklist(ctx, el.Query)
}

func (o *Input) checklist(ctx context.Context, query string) (biodumpy.Payload, error) {
	out := biodumpy.Payload{}
	for skip := 0; ; skip += o.cfg.PageSize {
		var p page
		params := url.Values{
			"scientificname": {query},
			"size":           {strconv.Itoa(o.cfg.PageSize)},
			"skip":           {strconv.Itoa(skip)},
		}
		if err := o.Client.GetJSON(ctx, o.URL("checklist"), params, &p); err != nil {
			return nil, fmt.Errorf("checklist: %w", err)
		}
		out = append(out, base.Items(p.Results)...)
		if len(p.Results) < o.cfg.PageSize || len(out) >= p.Total {
			return out, nil
		}
	}
}

// occurrences pages with the "after" cursor, the id of the last record of
// the previous page.
func (o *Input) occurrences(ctx context.Context, query string) (biodumpy.Payload, error) {
	out := biodumpy.Payload{}
	after := ""
	for {
		params := url.Values{
			"scientificname": {query},
			"size":           {strconv.Itoa(o.cfg.PageSize)},
		}
		if o.cfg.Geometry != "" {
			params.Set("geometry", o.cfg.Geometry)
		}
		if o.cfg.AreaID != "" {
			params.Set("areaid", o.cfg.AreaID)
		}
		if after != "" {
			params.Set("after", after)
		}
		var p page
		if err := o.Client.GetJSON(ctx, o.URL("occurrence"), params, &p); err != nil {
			return nil, fmt.Errorf("occurrences: %w", err)
		}
		out = append(out, base.Items(p.Results)...)
		if len(p.Results) < o.cfg.PageSize || len(out) >= p.Total {
			return out, nil
		}
		next := base.String(p.Results[len(p.Results)-1], "id")
		if next == "" || next == after {
			return out, nil
		}
		after = next
	}
}
