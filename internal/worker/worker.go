// Package worker executes queued scrape jobs: it drives a job through
// queued, processing, and a terminal status, and records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/jobs"
	"github.com/JakeFAU/registry-crawler/internal/metrics"
	"github.com/JakeFAU/registry-crawler/internal/pipeline"
	"github.com/JakeFAU/registry-crawler/internal/telemetry"
)

const defaultPersistTimeout = 10 * time.Second

// Runner executes one registry query.
type Runner interface {
	Run(ctx context.Context, query, jurisdiction string) iter.Seq2[[]crawler.Entity, error]
}

// Config controls Worker behavior.
type Config struct {
	// Timeout bounds one job's pipeline run. Zero means no limit.
	Timeout time.Duration
	// PersistTimeout bounds the final status write, which runs even after
	// the worker's context is canceled.
	PersistTimeout time.Duration
	// Topic receives completion notices. Empty disables publishing.
	Topic string
}

// Worker consumes queue items and runs their jobs.
type Worker struct {
	queue     crawler.Queue
	store     *jobs.Store
	runner    Runner
	publisher crawler.Publisher
	clock     crawler.Clock
	claims    *Claims
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. Workers sharing a process must share claims.
func New(
	queue crawler.Queue,
	store *jobs.Store,
	runner Runner,
	publisher crawler.Publisher,
	clock crawler.Clock,
	claims *Claims,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	if claims == nil {
		claims = NewClaims()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		store:     store,
		runner:    runner,
		publisher: publisher,
		clock:     clock,
		claims:    claims,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		if err := w.Process(ctx, item); err != nil {
			w.logger.Error("job processing failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

// Process runs one job. Jobs that are already claimed, or no longer queued,
// are skipped. A pipeline failure is recorded on the job and is not an error
// here; the returned error reports jobs whose status could not be persisted.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) error {
	if !w.claims.TryClaim(item.JobID) {
		w.logger.Debug("job already claimed", zap.String("job_id", item.JobID))
		return nil
	}
	defer w.claims.Release(item.JobID)

	ctx, span := telemetry.Tracer("worker").Start(ctx, "job.process",
		trace.WithAttributes(attribute.String("job.id", item.JobID)))
	defer span.End()

	job, err := w.store.Get(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", item.JobID, err)
	}
	if job.Status != crawler.JobStatusQueued {
		w.logger.Debug("skipping job", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return nil
	}
	if err := job.Start(w.clock.Now()); err != nil {
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}
	if err := w.store.Save(ctx, job); err != nil {
		return fmt.Errorf("mark job %s processing: %w", job.ID, err)
	}
	metrics.ObserveJob(string(crawler.JobStatusProcessing))

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("query", job.Query),
		zap.String("jurisdiction", job.Jurisdiction),
	)
	logger.Info("job started")

	output, runErr := w.run(ctx, job)

	// The terminal write must land even when shutdown canceled the run.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PersistTimeout)
	defer cancel()

	if err := w.finish(persistCtx, &job, output, runErr); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("job.status", string(job.Status)))
	metrics.ObserveJob(string(job.Status))
	if runErr != nil {
		stage, _ := crawler.StageOf(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Warn("job failed", zap.String("stage", string(stage)), zap.Error(runErr))
	} else {
		logger.Info("job completed", zap.Int("entities", len(job.Output)))
	}
	w.publish(persistCtx, job, logger)
	return nil
}

func (w *Worker) run(ctx context.Context, job crawler.Job) ([]crawler.Entity, error) {
	runCtx := ctx
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}
	output, err := pipeline.Drain(w.runner.Run(runCtx, job.Query, job.Jurisdiction))
	if err != nil && runCtx.Err() != nil && ctx.Err() == nil {
		err = fmt.Errorf("job timed out after %s: %w", w.cfg.Timeout, err)
	}
	return output, err
}

func (w *Worker) finish(ctx context.Context, job *crawler.Job, output []crawler.Entity, runErr error) error {
	now := w.clock.Now()
	if runErr != nil {
		if err := job.Fail(runErr.Error(), now); err != nil {
			return fmt.Errorf("fail job %s: %w", job.ID, err)
		}
		if err := w.store.Save(ctx, *job); err != nil {
			return fmt.Errorf("mark job %s failed: %w", job.ID, err)
		}
		return nil
	}
	if err := job.Complete(output, now); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if err := w.store.Save(ctx, *job); err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	if err := w.store.IndexCompleted(ctx, *job); err != nil {
		return fmt.Errorf("index job %s: %w", job.ID, err)
	}
	return nil
}

func (w *Worker) publish(ctx context.Context, job crawler.Job, logger *zap.Logger) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, crawler.NoticeFor(job))
	if err != nil {
		logger.Warn("publish completion notice failed", zap.Error(err))
		return
	}
	logger.Debug("completion notice published", zap.String("message_id", id))
}
