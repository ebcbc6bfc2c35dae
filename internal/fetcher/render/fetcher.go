// Package renderfetcher implements crawler.Fetcher against a render-capable
// extraction provider that returns browser-rendered HTML.
package renderfetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

// Auth schemes accepted by the provider.
const (
	AuthBasic  = "basic"
	AuthBearer = "bearer"
)

// Config controls provider requests.
type Config struct {
	Endpoint      string
	APIKey        string
	AuthScheme    string
	SettleSeconds int
	Timeout       time.Duration
}

type action struct {
	Action  string `json:"action"`
	Timeout int    `json:"timeout"`
}

type extractRequest struct {
	URL         string   `json:"url"`
	BrowserHTML bool     `json:"browserHtml"`
	Actions     []action `json:"actions"`
}

type extractResponse struct {
	BrowserHTML string `json:"browserHtml"`
}

// Fetcher sends one provider request per URL over a shared resty client.
type Fetcher struct {
	cfg    Config
	client *resty.Client
}

// New builds a Fetcher. The returned client is safe for concurrent use.
func New(cfg Config) (*Fetcher, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("render provider endpoint is required")
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = AuthBasic
	}
	if cfg.AuthScheme != AuthBasic && cfg.AuthScheme != AuthBearer {
		return nil, fmt.Errorf("unsupported auth scheme %q", cfg.AuthScheme)
	}
	if cfg.SettleSeconds < 0 {
		cfg.SettleSeconds = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := resty.New().
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	switch cfg.AuthScheme {
	case AuthBearer:
		client.SetAuthToken(cfg.APIKey)
	default:
		client.SetBasicAuth(cfg.APIKey, "")
	}
	return &Fetcher{cfg: cfg, client: client}, nil
}

// Fetch asks the provider to render request.URL and returns its HTML.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := f.client.R().
		SetContext(ctx).
		SetBody(extractRequest{
			URL:         request.URL,
			BrowserHTML: true,
			Actions:     []action{{Action: "waitForTimeout", Timeout: f.cfg.SettleSeconds}},
		}).
		Post(f.cfg.Endpoint)
	if err != nil {
		kind := crawler.FetchHTTPError
		if isTimeout(err) {
			kind = crawler.FetchTimeout
		}
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: kind, URL: request.URL, Err: err}
	}

	status := res.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind:       crawler.FetchHTTPError,
			URL:        request.URL,
			StatusCode: status,
			Body:       string(res.Body()),
		}
	}

	var payload extractResponse
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind:       crawler.FetchBadPayload,
			URL:        request.URL,
			StatusCode: status,
			Body:       string(res.Body()),
			Err:        fmt.Errorf("decode provider response: %w", err),
		}
	}
	if payload.BrowserHTML == "" {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind:       crawler.FetchBadPayload,
			URL:        request.URL,
			StatusCode: status,
			Body:       string(res.Body()),
			Err:        errors.New("provider response has no browserHtml"),
		}
	}

	return crawler.FetchResponse{
		URL:        request.URL,
		StatusCode: status,
		Body:       []byte(payload.BrowserHTML),
		Duration:   time.Since(start),
	}, nil
}

// Close releases pooled connections.
func (f *Fetcher) Close() {
	f.client.GetClient().CloseIdleConnections()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
