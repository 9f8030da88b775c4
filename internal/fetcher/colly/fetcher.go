// Package collyfetcher scrapes HTML pages with gocolly for modules whose
// source has no JSON endpoint for the data they need.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/biodumpy/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher collects attributes of matching elements from a page.
type Fetcher struct {
	cfg           Config
	limiter       Waiter
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// Query selects what to extract from a page.
type Query struct {
	URL      string
	Selector string
	Attr     string
	Headers  http.Header
}

// Result holds the extracted attribute values in document order.
type Result struct {
	URL        string
	StatusCode int
	Values     []string
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		transport:     transport,
		baseCollector: c,
	}
}

// Extract visits q.URL and returns q.Attr of every element matching
// q.Selector. Elements lacking the attribute are skipped.
func (f *Fetcher) Extract(ctx context.Context, q Query) (Result, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, q.URL); err != nil {
			return Result{}, err
		}
	}
	var (
		result   Result
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, q, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, q.URL, &fetchErr); err != nil {
		return result, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	// Clones share the visited store; the same page may be scraped again in later runs.
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	q Query,
	start time.Time,
	result *Result,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(q.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		metrics.ObserveSourceRequest(result.URL, r.StatusCode, time.Since(start))
	})

	hooks.OnHTML(q.Selector, func(e *colly.HTMLElement) {
		attr := q.Attr
		if attr == "" {
			attr = "href"
		}
		if v := e.Attr(attr); v != "" {
			result.Values = append(result.Values, v)
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			metrics.ObserveSourceRequest(q.URL, r.StatusCode, time.Since(start))
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
