package renderfetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

func TestFetchSendsRenderRequest(t *testing.T) {
	t.Parallel()

	var got extractRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "secret", user)
		require.Empty(t, pass)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"x","browserHtml":"<h1>ACME</h1>"}`))
	}))
	defer server.Close()

	f, err := New(Config{Endpoint: server.URL, APIKey: "secret", SettleSeconds: 2})
	require.NoError(t, err)
	defer f.Close()

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://opencorporates.com/companies/gb/1"})
	require.NoError(t, err)
	require.Equal(t, "<h1>ACME</h1>", string(resp.Body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://opencorporates.com/companies/gb/1", resp.URL)

	require.Equal(t, "https://opencorporates.com/companies/gb/1", got.URL)
	require.True(t, got.BrowserHTML)
	require.Equal(t, []action{{Action: "waitForTimeout", Timeout: 2}}, got.Actions)
}

func TestFetchBearerAuth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"browserHtml":"<p>ok</p>"}`))
	}))
	defer server.Close()

	f, err := New(Config{Endpoint: server.URL, APIKey: "secret", AuthScheme: AuthBearer})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://x/1"})
	require.NoError(t, err)
}

func TestFetchErrorKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		kind   crawler.FetchErrorKind
	}{
		{name: "http error", status: http.StatusUnauthorized, body: `{"detail":"bad key"}`, kind: crawler.FetchHTTPError},
		{name: "missing html", status: http.StatusOK, body: `{"url":"x"}`, kind: crawler.FetchBadPayload},
		{name: "not json", status: http.StatusOK, body: `<html>`, kind: crawler.FetchBadPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			f, err := New(Config{Endpoint: server.URL, APIKey: "k"})
			require.NoError(t, err)
			_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://x/1"})
			var fetchErr *crawler.FetchError
			require.ErrorAs(t, err, &fetchErr)
			require.Equal(t, tc.kind, fetchErr.Kind)
			require.Equal(t, tc.status, fetchErr.StatusCode)
			require.Equal(t, tc.body, fetchErr.Body)
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f, err := New(Config{Endpoint: server.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://x/1"})
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, crawler.FetchTimeout, fetchErr.Kind)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Endpoint: "http://x", AuthScheme: "digest"})
	require.Error(t, err)
}
