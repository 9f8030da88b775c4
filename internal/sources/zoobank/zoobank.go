// Package zoobank downloads bibliographic references from the Official
// Registry of Zoological Nomenclature.
package zoobank

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	collyfetcher "github.com/JakeFAU/biodumpy/internal/fetcher/colly"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "zoobank"

const (
	defaultBaseURL = "https://zoobank.org"

	// SizeSmall queries the JSON reference search, which truncates long
	// result lists.
	SizeSmall = "small"
	// SizeLarge scrapes the HTML search page and fetches every reference.
	SizeLarge = "large"
)

// Config holds ZooBank options.
type Config struct {
	base.Options `mapstructure:",squash"`
	DatasetSize  string `mapstructure:"dataset_size"`
	Info         bool   `mapstructure:"info"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{DatasetSize: SizeSmall}
}

// Scraper extracts attribute values from an HTML page.
type Scraper interface {
	Extract(ctx context.Context, q collyfetcher.Query) (collyfetcher.Result, error)
}

// Input downloads ZooBank references.
type Input struct {
	base.Module
	cfg     Config
	scraper Scraper
}

// New validates cfg and builds the input. scraper may be nil, in which case
// a colly fetcher is created.
func New(cfg Config, deps base.Deps, scraper Scraper) (*Input, error) {
	if cfg.DatasetSize == "" {
		cfg.DatasetSize = SizeSmall
	}
	if cfg.DatasetSize != SizeSmall && cfg.DatasetSize != SizeLarge {
		return nil, fmt.Errorf("%s: invalid dataset_size %q, expected small or large", Name, cfg.DatasetSize)
	}
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps)
	if err != nil {
		return nil, err
	}
	if scraper == nil {
		scraper = collyfetcher.New(collyfetcher.Config{}, nil)
	}
	return &Input{Module: m, cfg: cfg, scraper: scraper}, nil
}

// Download returns the references matching the query, or their identifier
// records when info is set.
func (z *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	var (
		refs []map[string]any
		err  error
	)
	if z.cfg.DatasetSize == SizeLarge {
		refs, err = z.large(ctx, el.Query)
	} else {
		refs, err = z.small(ctx, el.Query)
	}
	if err != nil {
		return nil, err
	}
	if !z.cfg.Info {
		return base.Items(refs), nil
	}
	return z.identifiers(ctx, refs)
}

func (z *Input) small(ctx context.Context, query string) ([]map[string]any, error) {
	var refs []map[string]any
	if err := z.Client.GetJSON(ctx, z.URL("References.json"), url.Values{"search_term": {query}}, &refs); err != nil {
		return nil, fmt.Errorf("reference search: %w", err)
	}
	return refs, nil
}

func (z *Input) large(ctx context.Context, query string) ([]map[string]any, error) {
	searchURL := z.URL("Search") + "?" + url.Values{"search_term": {query}}.Encode()
	res, err := z.scraper.Extract(ctx, collyfetcher.Query{URL: searchURL, Selector: ".biblio-entry", Attr: "href"})
	if err != nil {
		return nil, fmt.Errorf("scrape search page: %w", err)
	}
	refs := make([]map[string]any, 0, len(res.Values))
	for _, href := range res.Values {
		uuid := ReferenceUUID(href)
		if uuid == "" {
			continue
		}
		var found []map[string]any
		if err := z.Client.GetJSON(ctx, z.URL("References.json", uuid), nil, &found); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			z.Logger.Warn("reference lookup failed", zap.String("referenceuuid", uuid), zap.Error(err))
			continue
		}
		if len(found) == 0 {
			continue
		}
		refs = append(refs, found[0])
	}
	return refs, nil
}

func (z *Input) identifiers(ctx context.Context, refs []map[string]any) (biodumpy.Payload, error) {
	out := biodumpy.Payload{}
	for _, ref := range refs {
		uuid := base.String(ref, "referenceuuid")
		if uuid == "" {
			continue
		}
		var ids any
		if err := z.Client.GetJSON(ctx, z.URL("Identifiers.json", uuid), nil, &ids); err != nil {
			return nil, fmt.Errorf("identifier lookup %s: %w", uuid, err)
		}
		out = append(out, ids)
	}
	return out, nil
}

// ReferenceUUID extracts the reference UUID from a search result link.
func ReferenceUUID(href string) string {
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	idx := strings.LastIndex(href, "/References/")
	if idx < 0 {
		return ""
	}
	return strings.Trim(href[idx+len("/References/"):], "/")
}
