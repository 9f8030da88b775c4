package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://api.GBIF.org/v1/species", "api.gbif.org"},
		{"no scheme", "eutils.ncbi.nlm.nih.gov/entrez", "eutils.ncbi.nlm.nih.gov"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if sourceRequestsTotal == nil || recordsTotal == nil ||
		httpRequestsTotal == nil || dumpsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveSourceRequest(t *testing.T) {
	Init()
	before := testutil.ToFloat64(sourceRequestsTotal.WithLabelValues("api.obis.org", "error"))
	ObserveSourceRequest("https://api.obis.org/v3/checklist", 0, time.Millisecond)
	after := testutil.ToFloat64(sourceRequestsTotal.WithLabelValues("api.obis.org", "error"))
	if after-before != 1 {
		t.Errorf("expected error request counter to grow by 1, got %f", after-before)
	}
}

func TestRunObserver(t *testing.T) {
	Init()
	obs := RunObserver{}
	el := biodumpy.Element{Query: "Apis mellifera"}

	recBefore := testutil.ToFloat64(recordsTotal.WithLabelValues("observer-test"))
	errBefore := testutil.ToFloat64(moduleErrorsTotal.WithLabelValues("observer-test"))
	dumpBefore := testutil.ToFloat64(dumpsTotal.WithLabelValues("observer-test", "json"))

	obs.ElementStarted(el, 0, 1)
	obs.ModuleFinished("observer-test", el, 3, nil)
	obs.ModuleFinished("observer-test", el, 0, errors.New("boom"))
	obs.Dumped(biodumpy.Dump{Module: "observer-test", Format: biodumpy.FormatJSON, Bytes: 10})

	if got := testutil.ToFloat64(recordsTotal.WithLabelValues("observer-test")) - recBefore; got != 3 {
		t.Errorf("expected 3 records, got %f", got)
	}
	if got := testutil.ToFloat64(moduleErrorsTotal.WithLabelValues("observer-test")) - errBefore; got != 1 {
		t.Errorf("expected 1 error, got %f", got)
	}
	if got := testutil.ToFloat64(dumpsTotal.WithLabelValues("observer-test", "json")) - dumpBefore; got != 1 {
		t.Errorf("expected 1 dump, got %f", got)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://api.gbif.org", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
