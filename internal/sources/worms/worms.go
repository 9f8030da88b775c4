// Package worms queries the World Register of Marine Species REST service.
package worms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "worms"

const defaultBaseURL = "https://www.marinespecies.org/rest"

// ambiguousAphiaID is returned by AphiaIDByName when several names match.
const ambiguousAphiaID = -999

// Config holds WoRMS options.
type Config struct {
	base.Options `mapstructure:",squash"`
	MarineOnly   bool `mapstructure:"marine_only"`
	Distribution bool `mapstructure:"distribution"`
}

// Input downloads Aphia records.
type Input struct {
	base.Module
	cfg Config
}

// New validates cfg and builds the input.
func New(cfg Config, deps base.Deps) (*Input, error) {
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps)
	if err != nil {
		return nil, err
	}
	return &Input{Module: m, cfg: cfg}, nil
}

// Download resolves the name to an Aphia ID and fetches its record.
func (w *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	id, err := w.aphiaID(ctx, el.Query)
	if err != nil {
		return nil, err
	}
	aphia := strconv.Itoa(id)

	var record map[string]any
	if err := w.Client.GetJSON(ctx, w.URL("AphiaRecordByAphiaID", aphia), nil, &record); err != nil {
		if errors.Is(err, httpclient.ErrNoContent) {
			return nil, biodumpy.NotFoundf("worms: no record for aphia %s", aphia)
		}
		return nil, fmt.Errorf("aphia record: %w", err)
	}
	if w.cfg.Distribution {
		var dist []any
		err := w.Client.GetJSON(ctx, w.URL("AphiaDistributionsByAphiaID", aphia), nil, &dist)
		if err != nil && !errors.Is(err, httpclient.ErrNoContent) {
			return nil, fmt.Errorf("aphia distribution: %w", err)
		}
		if dist == nil {
			dist = []any{}
		}
		record["distribution"] = dist
	}
	return biodumpy.Payload{record}, nil
}

func (w *Input) aphiaID(ctx context.Context, name string) (int, error) {
	params := url.Values{"marine_only": {strconv.FormatBool(w.cfg.MarineOnly)}}
	var raw json.Number
	err := w.Client.GetJSON(ctx, w.URL("AphiaIDByName", url.PathEscape(name)), params, &raw)
	if errors.Is(err, httpclient.ErrNoContent) {
		return 0, biodumpy.NotFoundf("worms: %s aphia not found", name)
	}
	if err != nil {
		return 0, fmt.Errorf("aphia id: %w", err)
	}
	id, err := strconv.Atoi(raw.String())
	if err != nil {
		return 0, fmt.Errorf("aphia id %q: %w", raw, err)
	}
	if id == ambiguousAphiaID {
		return 0, biodumpy.NotFoundf("worms: %s matches several aphia records", name)
	}
	if id <= 0 {
		return 0, biodumpy.NotFoundf("worms: %s aphia not found", name)
	}
	return id, nil
}
