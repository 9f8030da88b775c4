// Package gbif queries the GBIF species and occurrence APIs.
package gbif

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "gbif"

const (
	defaultBaseURL = "https://api.gbif.org/v1"
	// BackboneDatasetKey is the GBIF Backbone Taxonomy.
	BackboneDatasetKey = "d7dddbf4-2cf0-4f39-9b2a-bb099caae36c"
	occurrencePage     = 300
)

// Config holds GBIF options.
type Config struct {
	base.Options `mapstructure:",squash"`
	DatasetKey   string `mapstructure:"dataset_key"`
	Limit        int    `mapstructure:"limit"`
	AcceptedOnly bool   `mapstructure:"accepted_only"`
	Occ          bool   `mapstructure:"occ"`
	Geometry     string `mapstructure:"geometry"`
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{DatasetKey: BackboneDatasetKey, Limit: 20, AcceptedOnly: true}
}

// Input downloads GBIF taxa and, optionally, their occurrences.
type Input struct {
	base.Module
	cfg Config
}

// New validates cfg and builds the input.
func New(cfg Config, deps base.Deps) (*Input, error) {
	if cfg.Occ && !cfg.AcceptedOnly {
		return nil, errors.New("gbif: occ requires accepted_only")
	}
	if cfg.DatasetKey == "" {
		cfg.DatasetKey = BackboneDatasetKey
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps)
	if err != nil {
		return nil, err
	}
	return &Input{Module: m, cfg: cfg}, nil
}

type searchResponse struct {
	Results []map[string]any `json:"results"`
}

type occurrenceResponse struct {
	Offset       int              `json:"offset"`
	Count        int              `json:"count"`
	EndOfRecords bool             `json:"endOfRecords"`
	Results      []map[string]any `json:"results"`
}

// Download searches the dataset for the query.
func (g *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	params := url.Values{
		"datasetKey": {g.cfg.DatasetKey},
		"q":          {el.Query},
		"limit":      {strconv.Itoa(g.cfg.Limit)},
	}
	var resp searchResponse
	if err := g.Client.GetJSON(ctx, g.URL("species", "search"), params, &resp); err != nil {
		return nil, fmt.Errorf("species search: %w", err)
	}

	results := resp.Results
	if g.cfg.AcceptedOnly {
		results = filterAccepted(results, el.Query)
	}
	if !g.cfg.Occ {
		return base.Items(results), nil
	}
	if len(results) == 0 {
		return biodumpy.Payload{}, nil
	}
	key := base.String(results[0], "nubKey")
	if key == "" {
		key = base.String(results[0], "key")
	}
	occurrences, err := g.occurrences(ctx, key)
	if err != nil {
		return nil, err
	}
	return base.Items(occurrences), nil
}

// filterAccepted keeps accepted usages that name the queried taxon.
func filterAccepted(results []map[string]any, query string) []map[string]any {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if base.String(r, "taxonomicStatus") != "ACCEPTED" {
			continue
		}
		scientific := strings.ToLower(base.String(r, "scientificName"))
		if strings.Contains(scientific, q) || nameMatches(query, base.String(r, "canonicalName")) {
			out = append(out, r)
		}
	}
	return out
}

// nameMatches reports whether canonical is the name part of query: either
// the whole query or its leading words followed by an authorship, which
// opens with "(" or a capitalised author. A genus never matches a binomial.
func nameMatches(query, canonical string) bool {
	query = strings.TrimSpace(query)
	if canonical == "" || len(query) < len(canonical) || !strings.EqualFold(query[:len(canonical)], canonical) {
		return false
	}
	rest := query[len(canonical):]
	if rest == "" {
		return true
	}
	if rest[0] != ' ' {
		return false
	}
	r, _ := utf8.DecodeRuneInString(strings.TrimLeft(rest, " "))
	return r == '(' || unicode.IsUpper(r)
}

func (g *Input) occurrences(ctx context.Context, taxonKey string) ([]map[string]any, error) {
	var all []map[string]any
	for offset := 0; ; offset += occurrencePage {
		params := url.Values{
			"acceptedTaxonKey": {taxonKey},
			"occurrenceStatus": {"PRESENT"},
			"limit":            {strconv.Itoa(occurrencePage)},
			"offset":           {strconv.Itoa(offset)},
		}
		if g.cfg.Geometry != "" {
			params.Set("geometry", g.cfg.Geometry)
		}
		var page occurrenceResponse
		if err := g.Client.GetJSON(ctx, g.URL("occurrence", "search"), params, &page); err != nil {
			return nil, fmt.Errorf("occurrence search offset %d: %w", offset, err)
		}
		all = append(all, page.Results...)
		if page.EndOfRecords || len(page.Results) == 0 || offset+occurrencePage >= page.Count {
			break
		}
	}
	g.Logger.Debug("occurrences downloaded", zap.String("taxon_key", taxonKey), zap.Int("records", len(all)))
	return all, nil
}
