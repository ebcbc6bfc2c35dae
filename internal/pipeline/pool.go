package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"
)

// Pool holds the process-wide fetch and parse slots shared by every run.
// Its size is fixed at construction and never depends on a run's link count.
type Pool struct {
	fetch *semaphore.Weighted
	parse *semaphore.Weighted
}

// NewPool sizes the pool. Non-positive sizes fall back to 1.
func NewPool(maxInFlight, parseWorkers int) *Pool {
	return &Pool{
		fetch: semaphore.NewWeighted(int64(max(maxInFlight, 1))),
		parse: semaphore.NewWeighted(int64(max(parseWorkers, 1))),
	}
}

// WithFetchSlot runs fn while holding one fetch slot.
func (p *Pool) WithFetchSlot(ctx context.Context, fn func() error) error {
	if err := p.fetch.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire fetch slot: %w", err)
	}
	defer p.fetch.Release(1)
	return fn()
}

// Parse builds a document from body while holding one parse slot.
func (p *Pool) Parse(ctx context.Context, body []byte) (*goquery.Document, error) {
	if err := p.parse.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire parse slot: %w", err)
	}
	defer p.parse.Release(1)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
