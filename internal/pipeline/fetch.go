package pipeline

import (
	"context"
	"errors"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/metrics"
)

// PageFetcher turns a URL into a parsed document using the shared pool.
type PageFetcher struct {
	fetcher  crawler.Fetcher
	pool     *Pool
	archiver *Archiver
}

// NewPageFetcher combines a raw fetcher with the shared pool. archiver may be nil.
func NewPageFetcher(fetcher crawler.Fetcher, pool *Pool, archiver *Archiver) *PageFetcher {
	return &PageFetcher{fetcher: fetcher, pool: pool, archiver: archiver}
}

// Fetch retrieves and parses one page. Failures are *crawler.FetchError
// unless the context ended first.
func (f *PageFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	var resp crawler.FetchResponse
	err := f.pool.WithFetchSlot(ctx, func() error {
		var fetchErr error
		resp, fetchErr = f.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url})
		return fetchErr
	})
	if err != nil {
		metrics.ObserveFetch(url, outcomeOf(err), 0)
		return nil, err
	}
	metrics.ObserveFetch(url, "ok", len(resp.Body))
	f.archiver.Archive(ctx, url, resp.Body)

	doc, err := f.pool.Parse(ctx, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &crawler.FetchError{Kind: crawler.FetchBadPayload, URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	return doc, nil
}

func outcomeOf(err error) string {
	var fetchErr *crawler.FetchError
	if errors.As(err, &fetchErr) {
		return string(fetchErr.Kind)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(crawler.FetchTimeout)
	}
	return "error"
}
