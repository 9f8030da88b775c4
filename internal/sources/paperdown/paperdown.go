// Package paperdown resolves a DOI and collects the PDF links of its
// landing page. Pages are fetched over plain HTTP first and rendered in
// headless Chrome only when they look script-driven or the fetch fails.
package paperdown

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/fetcher/detector"
	"github.com/JakeFAU/biodumpy/internal/fetcher/headless"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "paperdown"

const defaultBaseURL = "https://doi.org"

// ErrorURL marks a DOI whose landing page could not be fetched or rendered.
const ErrorURL = "Error"

// Config holds PaperDown options.
type Config struct {
	base.Options `mapstructure:",squash"`
	// AlwaysRender skips the plain HTTP attempt.
	AlwaysRender bool `mapstructure:"always_render"`
	// MinPageBytes tunes the script-shell check; 0 uses the default.
	MinPageBytes int `mapstructure:"min_page_bytes"`
}

// Renderer renders a page with JavaScript enabled.
type Renderer interface {
	Render(ctx context.Context, rawURL string, header http.Header) (headless.Page, error)
}

// Input finds PDF links for DOIs.
type Input struct {
	base.Module
	cfg      Config
	renderer Renderer
	detector *detector.Detector
}

// New validates cfg and builds the input around renderer.
func New(cfg Config, deps base.Deps, renderer Renderer) (*Input, error) {
	if renderer == nil {
		return nil, fmt.Errorf("%s: renderer is required", Name)
	}
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps)
	if err != nil {
		return nil, err
	}
	return &Input{Module: m, cfg: cfg, renderer: renderer, detector: detector.New(cfg.MinPageBytes)}, nil
}

var htmlHeader = http.Header{"Accept": {"text/html,application/xhtml+xml"}}

// Download returns one {query, url} row per distinct PDF link. When neither
// the plain fetch nor the renderer produce a page the result is a single
// row whose url is ErrorURL.
func (p *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	target := p.URL(el.Query)
	var (
		links    []string
		fetchErr = errSkipped
	)
	if !p.cfg.AlwaysRender {
		var resp httpclient.Response
		resp, fetchErr = p.Client.Do(ctx, httpclient.Request{URL: target, Header: htmlHeader})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if fetchErr == nil {
			links, fetchErr = PDFLinks(resp.URL, string(resp.Body))
		}
		if fetchErr == nil && (len(links) > 0 || !p.detector.NeedsRender(resp.StatusCode, resp.Body)) {
			return rows(el.Query, links), nil
		}
	}

	page, err := p.renderer.Render(ctx, target, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if fetchErr == nil {
			p.Logger.Debug("render failed, keeping plain page", zap.String("doi", el.Query), zap.Error(err))
			return rows(el.Query, links), nil
		}
		p.Logger.Warn("landing page unavailable",
			zap.String("doi", el.Query),
			zap.NamedError("fetch_error", fetchErr),
			zap.Error(err))
		return biodumpy.Payload{row(el.Query, ErrorURL)}, nil
	}
	rendered, err := PDFLinks(page.URL, page.HTML)
	if err != nil {
		p.Logger.Warn("parse landing page", zap.String("doi", el.Query), zap.Error(err))
		return biodumpy.Payload{row(el.Query, ErrorURL)}, nil
	}
	return rows(el.Query, rendered), nil
}

var errSkipped = fmt.Errorf("%s: plain fetch skipped", Name)

func rows(query string, links []string) biodumpy.Payload {
	out := make(biodumpy.Payload, 0, len(links))
	for _, link := range links {
		out = append(out, row(query, link))
	}
	return out
}

func row(query, link string) map[string]any {
	return map[string]any{"query": query, "url": link}
}

// PDFLinks returns every href containing ".pdf", resolved against pageURL
// and de-duplicated in document order.
func PDFLinks(pageURL, html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	pageBase, _ := url.Parse(pageURL)
	seen := map[string]bool{}
	var links []string
	doc.Find("[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, ".pdf") {
			return
		}
		if pageBase != nil {
			if ref, err := url.Parse(href); err == nil {
				href = pageBase.ResolveReference(ref).String()
			}
		}
		if seen[href] {
			return
		}
		seen[href] = true
		links = append(links, href)
	})
	return links, nil
}
