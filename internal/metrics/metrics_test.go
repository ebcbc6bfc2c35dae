package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://OpenCorporates.com/companies", "opencorporates.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := fetchesTotal
	Init()
	if fetchesTotal != first || httpRequestsTotal == nil || jobsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors exactly once")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveFetch("https://opencorporates.com/companies/gb/1", "ok", 128)
	if val := testutil.ToFloat64(fetchesTotal.WithLabelValues("opencorporates.com", "ok")); val != 1 {
		t.Errorf("expected one ok fetch, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("opencorporates.com")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}

	ObservePipelineRun("ok", 3)
	if val := testutil.ToFloat64(pipelineEntitiesTotal); val != 3 {
		t.Errorf("expected 3 entities, got %f", val)
	}

	ObserveCacheLookup("hit")
	ObserveJob("completed")
	IncActiveWorkers()
	DecActiveWorkers()
	ObserveRateLimitDelay("opencorporates.com", 20*time.Millisecond)
	if val := testutil.ToFloat64(activeWorkers); val != 0 {
		t.Errorf("expected no active workers, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://opencorporates.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
