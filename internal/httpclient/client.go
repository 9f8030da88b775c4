// Package httpclient is the shared HTTP client input modules talk to remote
// databases through. It paces requests per host, retries transient
// failures and records request metrics.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/metrics"
)

const maxErrorBody = 512

// DefaultUserAgent identifies biodumpy to remote APIs.
const DefaultUserAgent = "biodumpy/1.0 (+https://github.com/JakeFAU/biodumpy)"

// Config controls client behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Waiter blocks until a request to the URL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Request describes a GET.
type Request struct {
	URL    string
	Params url.Values
	Header http.Header
}

// Response is a fully read HTTP response. URL is the final URL after
// redirects.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs paced, retried GET requests.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter Waiter
	retry   *RetryPolicy
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout, Transport: newHTTPTransport()},
		cfg:     cfg,
		limiter: limiter,
		retry:   NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		logger:  logger.Named("httpclient"),
		sleep:   sleepContext,
	}
}

// Do sends the request, retrying transient failures. Non-2xx responses are
// returned as *StatusError.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return Response{}, err
	}
	for attempt := 1; ; attempt++ {
		resp, err := c.once(ctx, target, req.Header)
		if err == nil {
			return resp, nil
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return resp, err
		}
		wait := c.retry.Backoff(attempt - 1)
		c.logger.Debug("retrying request",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := c.sleep(ctx, wait); err != nil {
			return Response{}, fmt.Errorf("retry wait: %w", err)
		}
	}
}

func (c *Client) once(ctx context.Context, target string, header http.Header) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return Response{}, err
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveSourceRequest(target, 0, time.Since(start))
		return Response{}, fmt.Errorf("GET %s: %w", target, err)
	}
	defer func() {
		if cerr := httpResp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	body, readErr := io.ReadAll(httpResp.Body)
	metrics.ObserveSourceRequest(target, httpResp.StatusCode, time.Since(start))

	finalURL := target
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}
	resp := Response{
		URL:        finalURL,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       body,
	}
	if readErr != nil {
		err := fmt.Errorf("read %s: %w", target, readErr)
		if errors.Is(readErr, io.ErrUnexpectedEOF) {
			return resp, Permanent(err)
		}
		return resp, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return resp, &StatusError{URL: target, StatusCode: httpResp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return resp, nil
}

// Get returns the body of a successful GET.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	resp, err := c.Do(ctx, Request{URL: rawURL, Params: params})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetJSON decodes a JSON response into out, keeping numbers as json.Number
// when out is an interface. Empty bodies (HTTP 204) yield ErrNoContent.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	return c.GetJSONWithHeader(ctx, rawURL, params, nil, out)
}

// GetJSONWithHeader is GetJSON with extra request headers.
func (c *Client) GetJSONWithHeader(ctx context.Context, rawURL string, params url.Values, header http.Header, out any) error {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	resp, err := c.Do(ctx, Request{URL: rawURL, Params: params, Header: header})
	if err != nil {
		return err
	}
	return DecodeJSON(resp.Body, out)
}

// DecodeJSON decodes body with UseNumber so identifiers survive untouched.
func DecodeJSON(body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrNoContent
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func buildURL(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
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
