// Package pipeline runs one registry query end to end: search page, result
// links, bounded concurrent detail fetches, and an ordered entity batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/extract"
	"github.com/JakeFAU/registry-crawler/internal/metrics"
	"github.com/JakeFAU/registry-crawler/internal/telemetry"
)

// Config controls a Pipeline.
type Config struct {
	BaseURL string
	// PerRunParallel caps detail fetches in flight for one run.
	PerRunParallel int
}

// Pipeline is safe for concurrent runs; all runs share the PageFetcher's pool.
type Pipeline struct {
	cfg       Config
	pages     *PageFetcher
	extractor *extract.Extractor
	logger    *zap.Logger
}

// New constructs a Pipeline.
func New(cfg Config, pages *PageFetcher, extractor *extract.Extractor, logger *zap.Logger) *Pipeline {
	if cfg.PerRunParallel <= 0 {
		cfg.PerRunParallel = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, pages: pages, extractor: extractor, logger: logger}
}

// Run returns a lazy sequence of entity batches for the query. Nothing is
// fetched until the sequence is ranged over, and it can be ranged over once;
// later iterations yield crawler.ErrSequenceConsumed. This implementation
// yields a single batch.
func (p *Pipeline) Run(ctx context.Context, query, jurisdiction string) iter.Seq2[[]crawler.Entity, error] {
	var consumed atomic.Bool
	return func(yield func([]crawler.Entity, error) bool) {
		if consumed.Swap(true) {
			yield(nil, crawler.ErrSequenceConsumed)
			return
		}
		ctx, span := telemetry.Tracer("pipeline").Start(ctx, "pipeline.run", trace.WithAttributes(
			attribute.String("registry.query", query),
			attribute.String("registry.jurisdiction", jurisdiction),
		))
		batch, err := p.execute(ctx, query, jurisdiction)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("registry.entities", len(batch)))
		span.End()
		if err != nil {
			yield(nil, err)
			return
		}
		yield(batch, nil)
	}
}

// Collect drains Run into one slice.
func (p *Pipeline) Collect(ctx context.Context, query, jurisdiction string) ([]crawler.Entity, error) {
	return Drain(p.Run(ctx, query, jurisdiction))
}

// Drain accumulates every batch of seq. Output gathered before an error is
// discarded.
func Drain(seq iter.Seq2[[]crawler.Entity, error]) ([]crawler.Entity, error) {
	out := []crawler.Entity{}
	for batch, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (p *Pipeline) execute(ctx context.Context, query, jurisdiction string) ([]crawler.Entity, error) {
	// Requests made for this run end with it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := p.logger.With(zap.String("query", query), zap.String("jurisdiction", jurisdiction))
	searchURL := SearchURL(p.cfg.BaseURL, query, jurisdiction)

	doc, err := p.pages.Fetch(runCtx, searchURL)
	if err != nil {
		if ctx.Err() != nil {
			metrics.ObservePipelineRun("canceled", 0)
			return nil, fmt.Errorf("run canceled: %w", ctx.Err())
		}
		logger.Warn("search page fetch failed", zap.String("url", searchURL), zap.Error(err))
		metrics.ObservePipelineRun("search_failed", 0)
		return nil, &crawler.PipelineError{Stage: crawler.StageSearch, Cause: err}
	}

	links := p.extractor.Links(doc)
	logger.Info("search page parsed", zap.Int("links", len(links)))
	if len(links) == 0 {
		metrics.ObservePipelineRun("ok", 0)
		return []crawler.Entity{}, nil
	}

	entities := make([]crawler.Entity, len(links))
	failures := make([]error, len(links))

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.PerRunParallel)
	for i, link := range links {
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			entity, err := p.detail(runCtx, link)
			if err != nil {
				failures[i] = err
				if runCtx.Err() == nil {
					logger.Warn("skipping detail page", zap.String("url", link), zap.Error(err))
				}
				return nil
			}
			entities[i] = entity
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		metrics.ObservePipelineRun("canceled", 0)
		return nil, fmt.Errorf("run canceled: %w", ctx.Err())
	}

	out := make([]crawler.Entity, 0, len(links))
	for _, entity := range entities {
		if entity != nil {
			out = append(out, entity)
		}
	}
	if len(out) == 0 {
		logger.Warn("every detail page failed", zap.Int("links", len(links)), zap.String("stage", string(crawler.StageExtract)))
		metrics.ObservePipelineRun("extract_failed", 0)
		return nil, &crawler.PipelineError{Stage: crawler.StageExtract, Cause: errors.Join(failures...)}
	}
	if skipped := len(links) - len(out); skipped > 0 {
		logger.Info("run finished with skipped pages", zap.Int("entities", len(out)), zap.Int("skipped", skipped))
	}
	metrics.ObservePipelineRun("ok", len(out))
	return out, nil
}

func (p *Pipeline) detail(ctx context.Context, link string) (crawler.Entity, error) {
	doc, err := p.pages.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	entity, err := p.extractor.Entity(doc, link)
	if err != nil {
		return nil, fmt.Errorf("extract entity: %w", err)
	}
	return entity, nil
}
