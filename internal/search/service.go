// Package search is the request-handling layer in front of the pipeline and
// the job store: cache checks, synchronous and streaming searches, job
// submission, and job administration.
package search

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/jobs"
	"github.com/JakeFAU/registry-crawler/internal/metrics"
	"github.com/JakeFAU/registry-crawler/internal/pipeline"
)

// ErrEmptyQuery rejects requests without search terms.
var ErrEmptyQuery = errors.New("query is required")

// Runner executes one registry query.
type Runner interface {
	Run(ctx context.Context, query, jurisdiction string) iter.Seq2[[]crawler.Entity, error]
}

// Enqueuer accepts background work.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Result is the outcome of a buffered search or a job submission.
type Result struct {
	// JobID identifies the job holding Entities, or the queued job when
	// Queued is set.
	JobID    string
	Cached   bool
	Queued   bool
	Entities []crawler.Entity
}

// Stream is a streaming search. Entities may be ranged over once.
type Stream struct {
	Cached   bool
	Entities iter.Seq2[crawler.Entity, error]
}

// Service implements the search and job operations exposed by the API.
type Service struct {
	store    *jobs.Store
	runner   Runner
	enqueuer Enqueuer
	ids      crawler.IDGenerator
	clock    crawler.Clock
	logger   *zap.Logger
}

// NewService wires a Service.
func NewService(
	store *jobs.Store,
	runner Runner,
	enqueuer Enqueuer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		runner:   runner,
		enqueuer: enqueuer,
		ids:      ids,
		clock:    clock,
		logger:   logger,
	}
}

// Collect runs a buffered search. With useCache, the latest completed job for
// the pair is returned without touching the registry. A fresh result is
// stored as a completed job and becomes the pair's cached answer.
func (s *Service) Collect(ctx context.Context, query, jurisdiction string, useCache bool) (Result, error) {
	query, jurisdiction, err := clean(query, jurisdiction)
	if err != nil {
		return Result{}, err
	}
	if useCache {
		if job, ok := s.lookup(ctx, query, jurisdiction); ok {
			return Result{JobID: job.ID, Cached: true, Entities: job.Output}, nil
		}
	}
	entities, err := pipeline.Drain(s.runner.Run(ctx, query, jurisdiction))
	if err != nil {
		return Result{}, err
	}
	job, err := s.materialize(ctx, query, jurisdiction, entities)
	if err != nil {
		return Result{}, err
	}
	return Result{JobID: job.ID, Entities: job.Output}, nil
}

// Search starts a streaming search. The cache is consulted immediately;
// registry fetches start when Entities is ranged over. A stream that runs to
// completion is stored like a Collect result, and a failure to store it is
// yielded as the final error.
func (s *Service) Search(ctx context.Context, query, jurisdiction string, useCache bool) (Stream, error) {
	query, jurisdiction, err := clean(query, jurisdiction)
	if err != nil {
		return Stream{}, err
	}
	if useCache {
		if job, ok := s.lookup(ctx, query, jurisdiction); ok {
			return Stream{Cached: true, Entities: entitiesOf(job.Output)}, nil
		}
	}
	batches := s.runner.Run(ctx, query, jurisdiction)
	return Stream{Entities: func(yield func(crawler.Entity, error) bool) {
		all := []crawler.Entity{}
		for batch, err := range batches {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, entity := range batch {
				if !yield(entity, nil) {
					return
				}
			}
			all = append(all, batch...)
		}
		if _, err := s.materialize(ctx, query, jurisdiction, all); err != nil {
			yield(nil, err)
		}
	}}, nil
}

// Enqueue submits a background job. With useCache, a cached answer is
// returned instead and nothing is queued.
func (s *Service) Enqueue(ctx context.Context, query, jurisdiction string, useCache bool) (Result, error) {
	query, jurisdiction, err := clean(query, jurisdiction)
	if err != nil {
		return Result{}, err
	}
	if useCache {
		if job, ok := s.lookup(ctx, query, jurisdiction); ok {
			return Result{JobID: job.ID, Cached: true, Entities: job.Output}, nil
		}
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.NewQueuedJob(id, query, jurisdiction, now)
	if err := s.store.Create(ctx, job); err != nil {
		return Result{}, fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusQueued))

	item := crawler.QueueItem{JobID: id, Query: query, Jurisdiction: jurisdiction, Submitted: now.Unix()}
	if err := s.enqueuer.Enqueue(ctx, item); err != nil {
		// A job no worker will ever see must not linger as queued.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if derr := s.store.Delete(cleanupCtx, id); derr != nil {
			s.logger.Error("remove unqueued job", zap.String("job_id", id), zap.Error(derr))
		}
		return Result{}, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	s.logger.Info("job queued",
		zap.String("job_id", id),
		zap.String("query", query),
		zap.String("jurisdiction", jurisdiction),
	)
	return Result{JobID: id, Queued: true}, nil
}

// Job returns one job.
func (s *Service) Job(ctx context.Context, id string) (crawler.Job, error) {
	return s.store.Get(ctx, id)
}

// Jobs returns every job, oldest first.
func (s *Service) Jobs(ctx context.Context) ([]crawler.Job, error) {
	return s.store.List(ctx)
}

// DeleteJob removes a job and, if it is the cached answer for its pair, the
// cache entry.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", zap.String("job_id", id))
	return nil
}

// DeleteAllJobs removes every job and cache entry.
func (s *Service) DeleteAllJobs(ctx context.Context) (int, error) {
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return n, err
	}
	s.logger.Info("all jobs deleted", zap.Int("count", n))
	return n, nil
}

// lookup treats store failures as a miss.
func (s *Service) lookup(ctx context.Context, query, jurisdiction string) (crawler.Job, bool) {
	job, ok, err := s.store.LookupCompleted(ctx, query, jurisdiction)
	switch {
	case err != nil:
		s.logger.Warn("cache lookup failed",
			zap.String("query", query),
			zap.String("jurisdiction", jurisdiction),
			zap.Error(err),
		)
		metrics.ObserveCacheLookup("error")
		return crawler.Job{}, false
	case !ok:
		metrics.ObserveCacheLookup("miss")
		return crawler.Job{}, false
	default:
		metrics.ObserveCacheLookup("hit")
		return job, true
	}
}

func (s *Service) materialize(ctx context.Context, query, jurisdiction string, entities []crawler.Entity) (crawler.Job, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.NewCompletedJob(id, query, jurisdiction, entities, s.clock.Now())
	if err := s.store.Create(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("store result: %w", err)
	}
	if err := s.store.IndexCompleted(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("store result: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusCompleted))
	return job, nil
}

func entitiesOf(output []crawler.Entity) iter.Seq2[crawler.Entity, error] {
	return func(yield func(crawler.Entity, error) bool) {
		for _, entity := range output {
			if !yield(entity, nil) {
				return
			}
		}
	}
}

func clean(query, jurisdiction string) (string, string, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return "", "", ErrEmptyQuery
	}
	return query, strings.TrimSpace(jurisdiction), nil
}
