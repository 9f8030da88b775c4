// Package col queries the Catalogue of Life through the ChecklistBank API.
package col

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "col"

const (
	defaultBaseURL = "https://api.checklistbank.org"
	// DefaultDatasetKey is the COL release the searches run against.
	DefaultDatasetKey = "9923"
)

// Config holds COL options.
type Config struct {
	base.Options `mapstructure:",squash"`
	DatasetKey   string `mapstructure:"dataset_key"`
	CheckSyn     bool   `mapstructure:"check_syn"`
}

// Input downloads the classification of a name.
type Input struct {
	base.Module
	cfg Config
}

// New validates cfg and builds the input.
func New(cfg Config, deps base.Deps) (*Input, error) {
	if cfg.DatasetKey == "" {
		cfg.DatasetKey = DefaultDatasetKey
	}
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps)
	if err != nil {
		return nil, err
	}
	return &Input{Module: m, cfg: cfg}, nil
}

type searchResponse struct {
	Result []map[string]any `json:"result"`
}

// Download returns one row: the origin taxon, the usage that matched and
// its classification. With check_syn a synonym is replaced by its accepted
// usage's classification.
func (c *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	results, err := c.search(ctx, el.Query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, biodumpy.NotFoundf("col: no usage for %q", el.Query)
	}
	match := results[0]
	usage := base.Object(match, "usage")
	status := base.String(usage, "status")
	taxonID := base.String(match, "id")
	classification := match["classification"]

	accepted := base.Object(usage, "accepted")
	if c.cfg.CheckSyn && accepted != nil && !isAccepted(status) {
		acceptedID := base.String(accepted, "id")
		acceptedName := base.String(base.Object(accepted, "name"), "scientificName")
		c.Logger.Debug("following synonym",
			zap.String("query", el.Query),
			zap.String("accepted", acceptedName))
		acceptedResults, err := c.search(ctx, acceptedName)
		if err != nil {
			return nil, err
		}
		for _, r := range acceptedResults {
			if base.String(r, "id") == acceptedID {
				classification = r["classification"]
				taxonID = acceptedID
				break
			}
		}
	}
	return biodumpy.Payload{map[string]any{
		"origin_taxon":   el.Query,
		"taxon_id":       taxonID,
		"status":         status,
		"usage":          usage,
		"classification": classification,
	}}, nil
}

func (c *Input) search(ctx context.Context, q string) ([]map[string]any, error) {
	var resp searchResponse
	err := c.Client.GetJSON(ctx, c.URL("dataset", c.cfg.DatasetKey, "nameusage", "search"), url.Values{
		"q":      {q},
		"offset": {"0"},
		"limit":  {"10"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("nameusage search: %w", err)
	}
	return resp.Result, nil
}

func isAccepted(status string) bool {
	return strings.HasSuffix(strings.ToLower(status), "accepted")
}
