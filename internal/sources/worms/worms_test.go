package worms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/AphiaIDByName/Pinna nobilis":
			assert.Contains(t, []string{"true", "false"}, r.URL.Query().Get("marine_only"))
			_, _ = w.Write([]byte("140780"))
		case "/AphiaIDByName/Pinna":
			_, _ = w.Write([]byte("-999"))
		case "/AphiaIDByName/Nothing":
			w.WriteHeader(http.StatusNoContent)
		case "/AphiaRecordByAphiaID/140780":
			_, _ = w.Write([]byte(`{"AphiaID": 140780, "valid_AphiaID": 140780, "scientificname": "Pinna nobilis",
				"authority": "Linnaeus, 1758", "rank": "Species", "kingdom": "Animalia", "family": "Pinnidae"}`))
		case "/AphiaDistributionsByAphiaID/140780":
			_, _ = w.Write([]byte(`[{"locality": "European waters (ERMS scope)", "recordStatus": "valid",
				"decimalLatitude": null}]`))
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadWithDistribution(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	in, err := New(Config{Options: base.Options{BaseURL: srv.URL}, MarineOnly: true, Distribution: true}, base.Deps{})
	require.NoError(t, err)

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "Pinna nobilis"})
	require.NoError(t, err)
	require.Len(t, payload, 1)
	rec := payload[0].(map[string]any)
	assert.Equal(t, json.Number("140780"), rec["AphiaID"])
	assert.Equal(t, "Pinnidae", rec["family"])
	dist := rec["distribution"].([]any)
	require.Len(t, dist, 1)
	first := dist[0].(map[string]any)
	assert.Equal(t, "valid", first["recordStatus"])
	assert.Nil(t, first["decimalLatitude"])
}

func TestDownloadWithoutDistribution(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	in, err := New(Config{Options: base.Options{BaseURL: srv.URL}, MarineOnly: true}, base.Deps{})
	require.NoError(t, err)

	payload, err := in.Download(context.Background(), biodumpy.Element{Query: "Pinna nobilis"})
	require.NoError(t, err)
	assert.NotContains(t, payload[0].(map[string]any), "distribution")
}

func TestDownloadNotFound(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	in, err := New(Config{Options: base.Options{BaseURL: srv.URL}}, base.Deps{})
	require.NoError(t, err)

	_, err = in.Download(context.Background(), biodumpy.Element{Query: "Nothing"})
	require.ErrorIs(t, err, biodumpy.ErrNotFound)

	_, err = in.Download(context.Background(), biodumpy.Element{Query: "Pinna"})
	require.ErrorIs(t, err, biodumpy.ErrNotFound)
	assert.Contains(t, err.Error(), "several")
}
