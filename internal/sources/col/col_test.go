package col

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

const synonymJSON = `{"result": [{
	"id": "NPDX",
	"classification": [{"id": "NPDX", "name": "Bufo roseus", "rank": "species"}, {"id": "6N", "name": "Bufonidae", "rank": "family"}],
	"usage": {"id": "NPDX", "status": "synonym",
		"name": {"scientificName": "Bufo roseus"},
		"accepted": {"id": "6T7K", "status": "accepted", "name": {"scientificName": "Rhinella roseus"}}}
}]}`

const acceptedJSON = `{"result": [
	{"id": "OTHER", "classification": [{"id": "OTHER"}], "usage": {"status": "accepted"}},
	{"id": "6T7K", "classification": [{"id": "6T7K", "name": "Rhinella roseus"}, {"id": "6N", "name": "Bufonidae"}],
	 "usage": {"id": "6T7K", "status": "accepted"}}
]}`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dataset/9923/nameusage/search", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("q") {
		case "Bufo roseus":
			_, _ = w.Write([]byte(synonymJSON))
		case "Rhinella roseus":
			_, _ = w.Write([]byte(acceptedJSON))
		default:
			_, _ = w.Write([]byte(`{"result": []}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func classificationIDs(t *testing.T, row map[string]any) []string {
	t.Helper()
	items, ok := row["classification"].([]any)
	require.True(t, ok)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, base.String(item.(map[string]any), "id"))
	}
	return ids
}

func TestDownloadKeepsSynonym(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	in, err := New(Config{Options: base.Options{BaseURL: srv.URL}}, base.Deps{})
	require.NoError(t, err)

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "Bufo roseus"})
	require.NoError(t, err)
	require.Len(t, payload, 1)
	row := payload[0].(map[string]any)
	for _, key := range []string{"origin_taxon", "taxon_id", "status", "usage", "classification"} {
		assert.Contains(t, row, key)
	}
	assert.Equal(t, "synonym", row["status"])
	assert.Contains(t, classificationIDs(t, row), "NPDX")
}

func TestDownloadFollowsSynonym(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	in, err := New(Config{Options: base.Options{BaseURL: srv.URL}, CheckSyn: true}, base.Deps{})
	require.NoError(t, err)

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "Bufo roseus"})
	require.NoError(t, err)
	row := payload[0].(map[string]any)
	assert.Equal(t, "6T7K", row["taxon_id"])
	assert.Equal(t, "Bufo roseus", row["origin_taxon"])
	assert.NotContains(t, classificationIDs(t, row), "NPDX")
}

func TestDownloadNotFound(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	in, err := New(Config{Options: base.Options{BaseURL: srv.URL}}, base.Deps{})
	require.NoError(t, err)

	_, err = in.Download(context.Background(), biodumpy.Element{Query: "Nothing here"})
	require.ErrorIs(t, err, biodumpy.ErrNotFound)
}

func TestNewRejectsFormat(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Options: base.Options{OutputFormat: "xml"}}, base.Deps{})
	require.Error(t, err)
}
