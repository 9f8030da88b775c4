package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/jobs/{job_id}/dumps", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/jobs", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	fullBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "503"))

	for _, target := range []string{"/v1/jobs/job-1/dumps", "/v1/jobs/job-2/dumps"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.InDelta(t, 2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))-okBefore, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "503"))-fullBefore, 0)
	// Job IDs must not leak into label values.
	assert.True(t, httpRequestDurationSeconds.Delete(prometheus.Labels{"method": "GET", "route": "/v1/jobs/{job_id}/dumps"}))
	assert.False(t, httpRequestDurationSeconds.Delete(prometheus.Labels{"method": "GET", "route": "/v1/jobs/job-1/dumps"}))
}

func TestMiddlewareDefaultsStatusOK(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodHead, "200"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))

	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodHead, "200"))-before, 0)
}
