package paperdown

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/fetcher/headless"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

type fakeRenderer struct {
	page headless.Page
	err  error
	got  string
}

func (f *fakeRenderer) Render(_ context.Context, rawURL string, _ http.Header) (headless.Page, error) {
	f.got = rawURL
	return f.page, f.err
}

const landing = `<html><body>
<a href="/doi/pdf/10.1111/gcb.17059.pdf">PDF</a>
<a href="https://cdn.example.org/files/paper.pdf?download=1">Mirror</a>
<a href="/doi/pdf/10.1111/gcb.17059.pdf">PDF again</a>
<a href="/doi/full/10.1111/gcb.17059">Full text</a>
<link rel="alternate" href="supplement.pdf">
</body></html>`

const shell = `<html><body><div id="__next"></div></body></html>`

func landingServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newInput(t *testing.T, cfg Config, baseURL string, r Renderer) *Input {
	t.Helper()
	cfg.BaseURL = baseURL
	in, err := New(cfg, base.Deps{}, r)
	require.NoError(t, err)
	return in
}

func TestDownloadPlainPage(t *testing.T) {
	t.Parallel()

	srv := landingServer(t, http.StatusOK, landing)
	r := &fakeRenderer{err: errors.New("must not render")}
	in := newInput(t, Config{}, srv.URL, r)

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "10.1111/gcb.17059"})
	require.NoError(t, err)
	assert.Empty(t, r.got)
	require.Len(t, payload, 3)
	assert.Equal(t, map[string]any{
		"query": "10.1111/gcb.17059",
		"url":   srv.URL + "/doi/pdf/10.1111/gcb.17059.pdf",
	}, payload[0])
	assert.Equal(t, "https://cdn.example.org/files/paper.pdf?download=1", payload[1].(map[string]any)["url"])
	assert.Equal(t, srv.URL+"/10.1111/supplement.pdf", payload[2].(map[string]any)["url"])
}

func TestDownloadRendersScriptShell(t *testing.T) {
	t.Parallel()

	srv := landingServer(t, http.StatusOK, shell)
	r := &fakeRenderer{page: headless.Page{URL: "https://onlinelibrary.example.com/doi/10.1111/gcb.17059", HTML: landing}}
	in := newInput(t, Config{}, srv.URL, r)

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "10.1111/gcb.17059"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/10.1111/gcb.17059", r.got)
	require.Len(t, payload, 3)
	assert.Equal(t, "https://onlinelibrary.example.com/doi/pdf/10.1111/gcb.17059.pdf", payload[0].(map[string]any)["url"])
	assert.Equal(t, "https://onlinelibrary.example.com/doi/10.1111/supplement.pdf", payload[2].(map[string]any)["url"])
}

func TestDownloadRendersAfterFetchError(t *testing.T) {
	t.Parallel()

	srv := landingServer(t, http.StatusForbidden, "blocked")
	r := &fakeRenderer{page: headless.Page{URL: "https://example.org/a", HTML: `<a href="a.pdf">x</a>`}}
	in := newInput(t, Config{}, srv.URL, r)

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "10.1/x"})
	require.NoError(t, err)
	assert.Equal(t, biodumpy.Payload{map[string]any{"query": "10.1/x", "url": "https://example.org/a.pdf"}}, payload)
}

func TestDownloadKeepsPlainPageWhenRenderFails(t *testing.T) {
	t.Parallel()

	srv := landingServer(t, http.StatusOK, shell)
	in := newInput(t, Config{}, srv.URL, headless.NewNoop())

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "10.1/x"})
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestDownloadRenderError(t *testing.T) {
	t.Parallel()

	srv := landingServer(t, http.StatusNotFound, "gone")
	in := newInput(t, Config{}, srv.URL, &fakeRenderer{err: errors.New("chrome missing")})

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "10.1/x"})
	require.NoError(t, err)
	assert.Equal(t, biodumpy.Payload{map[string]any{"query": "10.1/x", "url": ErrorURL}}, payload)
}

func TestDownloadAlwaysRender(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{err: errors.New("chrome missing")}
	in := newInput(t, Config{AlwaysRender: true}, "http://127.0.0.1:1", r)

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "10.1/x"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1/10.1/x", r.got)
	assert.Equal(t, biodumpy.Payload{map[string]any{"query": "10.1/x", "url": ErrorURL}}, payload)
}

func TestNewRequiresRenderer(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, base.Deps{}, nil)
	require.Error(t, err)
	_, err = New(Config{}, base.Deps{}, headless.NewNoop())
	require.NoError(t, err)
}
