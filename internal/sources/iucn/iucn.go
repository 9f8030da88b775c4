// Package iucn queries the IUCN Red List API (v4) for assessments.
package iucn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "iucn"

const defaultBaseURL = "https://api.iucnredlist.org/api/v4"

// Regions maps the accepted region names to Red List assessment scopes.
var Regions = map[string]string{
	"global":              "Global",
	"europe":              "Europe",
	"mediterranean":       "Mediterranean",
	"pan-africa":          "Pan-Africa",
	"central_africa":      "Central Africa",
	"eastern_africa":      "Eastern Africa",
	"northeastern_africa": "Northeastern Africa",
	"northern_africa":     "Northern Africa",
	"southern_africa":     "Southern Africa",
	"western_africa":      "Western Africa",
}

// Config holds IUCN options.
type Config struct {
	base.Options `mapstructure:",squash"`
	APIKey       string   `mapstructure:"api_key"`
	Regions      []string `mapstructure:"regions"`
	Habitat      bool     `mapstructure:"habitat"`
	Historical   bool     `mapstructure:"historical"`
	Threats      bool     `mapstructure:"threats"`
	Weblink      bool     `mapstructure:"weblink"`
}

// Input downloads Red List assessments per region.
type Input struct {
	base.Module
	cfg Config
}

// New validates cfg and builds the input.
func New(cfg Config, deps base.Deps) (*Input, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("iucn: api_key is required")
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"global"}
	}
	for _, r := range cfg.Regions {
		if _, ok := Regions[r]; !ok {
			return nil, fmt.Errorf("iucn: choose an IUCN region from the following options: %s", strings.Join(regionNames(), ", "))
		}
	}
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps)
	if err != nil {
		return nil, err
	}
	return &Input{Module: m, cfg: cfg}, nil
}

func regionNames() []string {
	names := make([]string, 0, len(Regions))
	for name := range Regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type taxonResponse struct {
	Taxon       map[string]any   `json:"taxon"`
	Assessments []map[string]any `json:"assessments"`
}

// Download returns one row per configured region in which the taxon has
// been assessed.
func (i *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	params, err := nameParams(el.Query)
	if err != nil {
		return nil, err
	}
	var taxon taxonResponse
	err = i.get(ctx, i.URL("taxa", "scientific_name"), params, &taxon)
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return nil, biodumpy.NotFoundf("iucn: %s", el.Query)
	}
	if err != nil {
		return nil, fmt.Errorf("taxon: %w", err)
	}

	payload := biodumpy.Payload{}
	for _, region := range i.cfg.Regions {
		scoped := inScope(taxon.Assessments, Regions[region])
		if len(scoped) == 0 {
			continue
		}
		latest := scoped[0]
		row := map[string]any{
			"taxonid":         taxon.Taxon["sis_id"],
			"scientific_name": taxon.Taxon["scientific_name"],
			"category":        latest["red_list_category_code"],
			"assessment_id":   latest["assessment_id"],
			"year_published":  latest["year_published"],
			"region":          region,
		}
		detail, err := i.assessment(ctx, base.String(latest, "assessment_id"))
		if err != nil {
			return nil, err
		}
		row["assessment_date"] = assessmentDate(detail)
		if i.cfg.Habitat {
			row["habitat"] = detail["habitats"]
		}
		if i.cfg.Threats {
			row["threats"] = detail["threats"]
		}
		if i.cfg.Historical {
			row["historical"] = base.Items(scoped[1:])
		}
		if i.cfg.Weblink {
			row["weblink"] = latest["url"]
		}
		payload = append(payload, row)
	}
	return payload, nil
}

func (i *Input) assessment(ctx context.Context, id string) (map[string]any, error) {
	var detail map[string]any
	if err := i.get(ctx, i.URL("assessment", url.PathEscape(id)), nil, &detail); err != nil {
		return nil, fmt.Errorf("assessment %s: %w", id, err)
	}
	return detail, nil
}

func (i *Input) get(ctx context.Context, rawURL string, params url.Values, out any) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+i.cfg.APIKey)
	return i.Client.GetJSONWithHeader(ctx, rawURL, params, header, out)
}

// nameParams splits a binomial or trinomial into the API's name parts.
func nameParams(query string) (url.Values, error) {
	parts := strings.Fields(query)
	if len(parts) < 2 {
		return nil, fmt.Errorf("iucn: %q is not a binomial name", query)
	}
	params := url.Values{
		"genus_name":   {parts[0]},
		"species_name": {parts[1]},
	}
	if len(parts) > 2 {
		params.Set("infra_name", parts[len(parts)-1])
	}
	return params, nil
}

// inScope returns the assessments covering scope, latest first.
func inScope(assessments []map[string]any, scope string) []map[string]any {
	var out []map[string]any
	for _, a := range assessments {
		for _, s := range base.Objects(a, "scopes") {
			if strings.EqualFold(base.String(base.Object(s, "description"), "en"), scope) {
				out = append(out, a)
				break
			}
		}
	}
	sort.SliceStable(out, func(x, y int) bool {
		lx, ly := base.Bool(out[x], "latest"), base.Bool(out[y], "latest")
		if lx != ly {
			return lx
		}
		return base.Int(out[x], "year_published") > base.Int(out[y], "year_published")
	})
	return out
}

func assessmentDate(detail map[string]any) any {
	raw := base.String(detail, "assessment_date")
	if raw == "" {
		return nil
	}
	// The API returns an ISO timestamp; the date part is what users compare.
	if date, _, ok := strings.Cut(raw, "T"); ok {
		return date
	}
	return raw
}
