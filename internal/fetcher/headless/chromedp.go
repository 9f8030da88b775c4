// Package headless renders pages in headless Chrome for sources that only
// expose links after JavaScript runs.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 3 * time.Second
)

// WaitSelector is polled after the body is ready; rendering continues as
// soon as a PDF link shows up or Settle elapses.
const WaitSelector = `[href*=".pdf"]`

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle bounds the wait for WaitSelector.
	Settle time.Duration
}

// Page is a rendered document. Redirects lists the document URLs Chrome
// went through, ending with URL.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	HTML       string
	Redirects  []string
	Duration   time.Duration
}

// Fetcher renders pages with chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a renderer. Chrome itself starts lazily on the first
// Render.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		// Landing pages are read for links only.
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts Chrome down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Render follows rawURL through its redirects and returns the landing DOM.
func (f *Fetcher) Render(ctx context.Context, rawURL string, header http.Header) (Page, error) {
	if err := f.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()

	trail := &documentTrail{}
	chromedp.ListenTarget(tabCtx, trail.observe)

	start := time.Now()
	html, location, err := f.run(tabCtx, rawURL, header)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, err
	}
	page := trail.page(rawURL, location)
	page.HTML = html
	page.Duration = time.Since(start)
	return page, nil
}

func (f *Fetcher) run(ctx context.Context, rawURL string, header http.Header) (string, string, error) {
	var html, location string
	err := chromedp.Run(ctx,
		f.setup(header),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.settle(),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, location, nil
}

func (f *Fetcher) setup(header http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(header) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(header)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// settle waits for a PDF link to appear. Pages without one are still
// returned once the budget runs out.
func (f *Fetcher) settle() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, f.cfg.Settle)
		defer cancel()
		err := chromedp.WaitVisible(WaitSelector, chromedp.ByQuery).Do(waitCtx)
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("settle: %w", ctx.Err())
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	<-f.slots
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// documentTrail records every top-level document response of a tab.
type documentTrail struct {
	mu      sync.Mutex
	urls    []string
	status  int
	headers http.Header
}

func (d *documentTrail) observe(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		d.record(resp)
	}
}

func (d *documentTrail) record(ev *network.EventResponseReceived) {
	if ev.Type != network.ResourceTypeDocument || ev.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range ev.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.urls); n == 0 || d.urls[n-1] != ev.Response.URL {
		d.urls = append(d.urls, ev.Response.URL)
	}
	d.status = int(ev.Response.Status)
	d.headers = headers
}

// page builds the Page metadata, falling back to the tab location and then
// the requested URL when no document response was seen.
func (d *documentTrail) page(requested, location string) Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := Page{
		StatusCode: d.status,
		Headers:    d.headers.Clone(),
		Redirects:  append([]string(nil), d.urls...),
	}
	switch {
	case location != "" && location != "about:blank":
		p.URL = location
	case len(d.urls) > 0:
		p.URL = d.urls[len(d.urls)-1]
	default:
		p.URL = requested
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusOK
	}
	if p.Headers == nil {
		p.Headers = http.Header{}
	}
	return p
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
