// Package crossref downloads bibliographic metadata for DOIs from Crossref.
package crossref

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "crossref"

const defaultBaseURL = "https://api.crossref.org"

// Config holds Crossref options.
type Config struct {
	base.Options `mapstructure:",squash"`
	Summary      bool `mapstructure:"summary"`
	// Mailto joins the Crossref polite pool when set.
	Mailto string `mapstructure:"mailto"`
}

// Input downloads Crossref works.
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

// Download fetches works/{doi}.
func (c *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	doi := strings.TrimSpace(strings.TrimPrefix(el.Query, "https://doi.org/"))
	var params url.Values
	if c.cfg.Mailto != "" {
		params = url.Values{"mailto": {c.cfg.Mailto}}
	}
	var resp struct {
		Message map[string]any `json:"message"`
	}
	err := c.Client.GetJSON(ctx, c.URL("works", EscapeDOI(doi)), params, &resp)
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return nil, biodumpy.NotFoundf("crossref: doi %s", doi)
	}
	if err != nil {
		return nil, fmt.Errorf("reference request: %w", err)
	}
	if resp.Message == nil {
		return biodumpy.Payload{}, nil
	}
	if !c.cfg.Summary {
		return biodumpy.Payload{resp.Message}, nil
	}
	return biodumpy.Payload{Summarize(resp.Message)}, nil
}

// Summarize extracts the fields most users want from a work.
func Summarize(msg map[string]any) map[string]any {
	var published any
	if p := base.Object(msg, "published"); p != nil {
		published = p["date-parts"]
	}
	var abstract any
	if raw := base.String(msg, "abstract"); raw != "" {
		abstract = StripTags(raw)
	}
	return map[string]any{
		"publisher":       msg["publisher"],
		"container-title": first(msg["container-title"]),
		"DOI":             msg["DOI"],
		"type":            msg["type"],
		"language":        msg["language"],
		"URL":             msg["URL"],
		"published":       published,
		"title":           first(msg["title"]),
		"author":          msg["author"],
		"abstract":        abstract,
	}
}

// StripTags removes JATS/HTML markup and collapses whitespace.
func StripTags(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return strings.Join(strings.Fields(markup), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// EscapeDOI escapes each path segment of a DOI, keeping its slashes.
func EscapeDOI(doi string) string {
	parts := strings.Split(doi, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func first(v any) any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}
