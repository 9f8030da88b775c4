// Package metrics exposes Prometheus collectors for biodumpy runs and the
// serve API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sourceRequestsTotal          *prometheus.CounterVec
	sourceRequestDurationSeconds *prometheus.HistogramVec
	recordsTotal                 *prometheus.CounterVec
	moduleErrorsTotal            *prometheus.CounterVec
	dumpsTotal                   *prometheus.CounterVec
	dumpBytesTotal               *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	jobsTotal                    *prometheus.CounterVec
	activeWorkers                prometheus.Gauge
	rateLimitDelaysSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biodumpy_source_requests_total",
				Help: "Requests sent to remote databases, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)

		sourceRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biodumpy_source_request_duration_seconds",
				Help:    "Latency of requests to remote databases, labeled by host.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biodumpy_records_total",
				Help: "Records returned by input modules, labeled by module.",
			},
			[]string{"module"},
		)

		moduleErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biodumpy_module_errors_total",
				Help: "Failed module downloads, labeled by module.",
			},
			[]string{"module"},
		)

		dumpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biodumpy_dumps_total",
				Help: "Dump files written, labeled by module and format.",
			},
			[]string{"module", "format"},
		)

		dumpBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biodumpy_dump_bytes_total",
				Help: "Bytes written to dump files, labeled by module.",
			},
			[]string{"module"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biodumpy_jobs_total",
				Help: "Total number of download jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "biodumpy_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biodumpy_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSourceRequest records one outbound request. A zero code means the
// request failed before a response arrived.
func ObserveSourceRequest(rawURL string, code int, duration time.Duration) {
	Init()
	host := SanitizeHost(rawURL)
	label := strconv.Itoa(code)
	if code == 0 {
		label = "error"
	}
	sourceRequestsTotal.WithLabelValues(host, label).Inc()
	sourceRequestDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveModule records the outcome of one module download.
func ObserveModule(module string, records int, failed bool) {
	Init()
	if failed {
		moduleErrorsTotal.WithLabelValues(module).Inc()
		return
	}
	recordsTotal.WithLabelValues(module).Add(float64(records))
}

// ObserveDump records a written dump.
func ObserveDump(module, format string, size int) {
	Init()
	dumpsTotal.WithLabelValues(module, format).Inc()
	if size > 0 {
		dumpBytesTotal.WithLabelValues(module).Add(float64(size))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
