// Package jobs persists scrape jobs and the cache index over a crawler.KVStore.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

// Store maps job ids to job records and query pairs to their latest
// completed job. Every write replaces a whole record.
type Store struct {
	kv     crawler.KVStore
	logger *zap.Logger
}

// NewStore wraps kv.
func NewStore(kv crawler.KVStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger}
}

// Create persists a new job, refusing to overwrite an existing id.
func (s *Store) Create(ctx context.Context, job crawler.Job) error {
	key := JobKey(job.ID)
	exists, err := s.kv.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check job %s: %w", job.ID, err)
	}
	if exists {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	return s.Save(ctx, job)
}

// Save replaces the stored job record.
func (s *Store) Save(ctx context.Context, job crawler.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validate job: %w", err)
	}
	record, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, JobKey(job.ID), record); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads a job by id.
func (s *Store) Get(ctx context.Context, id string) (crawler.Job, error) {
	record, ok, err := s.kv.Get(ctx, JobKey(id))
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", id, crawler.ErrJobNotFound)
	}
	job, err := decodeJob(record)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns every stored job ordered by creation time, then id.
// Records that fail to decode are logged and skipped.
func (s *Store) List(ctx context.Context) ([]crawler.Job, error) {
	kvs, err := s.kv.ScanPrefix(ctx, JobPrefix)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]crawler.Job, 0, len(kvs))
	for _, kv := range kvs {
		job, err := decodeJob(kv.Record)
		if err != nil {
			s.logger.Warn("skipping undecodable job record", zap.String("key", kv.Key), zap.Error(err))
			continue
		}
		out = append(out, job)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// IndexCompleted points the cache index for the job's query pair at the job,
// overwriting whatever the pair pointed at before.
func (s *Store) IndexCompleted(ctx context.Context, job crawler.Job) error {
	if job.Status != crawler.JobStatusCompleted {
		return fmt.Errorf("index job %s: status %s is not completed", job.ID, job.Status)
	}
	key := IndexKey(job.Query, job.Jurisdiction)
	if err := s.kv.Put(ctx, key, crawler.Record{fieldJobID: job.ID}); err != nil {
		return fmt.Errorf("index job %s: %w", job.ID, err)
	}
	return nil
}

// LookupCompleted returns the latest completed job for a query pair. An index
// entry that points at a missing or non-completed job is a miss.
func (s *Store) LookupCompleted(ctx context.Context, query, jurisdiction string) (crawler.Job, bool, error) {
	record, ok, err := s.kv.Get(ctx, IndexKey(query, jurisdiction))
	if err != nil {
		return crawler.Job{}, false, fmt.Errorf("lookup index: %w", err)
	}
	if !ok || record[fieldJobID] == "" {
		return crawler.Job{}, false, nil
	}
	job, err := s.Get(ctx, record[fieldJobID])
	if errors.Is(err, crawler.ErrJobNotFound) {
		return crawler.Job{}, false, nil
	}
	if err != nil {
		return crawler.Job{}, false, err
	}
	if job.Status != crawler.JobStatusCompleted {
		return crawler.Job{}, false, nil
	}
	return job, true, nil
}

// Delete removes a job and, when the cache index for its pair points at it,
// the index entry too. Entries pointing at other jobs are left alone. The
// record is not decoded, so a corrupt job can still be deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	raw, ok, err := s.kv.Get(ctx, JobKey(id))
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("delete job %s: %w", id, crawler.ErrJobNotFound)
	}
	indexKey := IndexKey(raw[fieldQuery], raw[fieldJurisdiction])
	record, ok, err := s.kv.Get(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if ok && record[fieldJobID] == id {
		if err := s.kv.Delete(ctx, indexKey); err != nil {
			return fmt.Errorf("delete index for job %s: %w", id, err)
		}
	}
	if err := s.kv.Delete(ctx, JobKey(id)); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every job and index entry and reports how many jobs
// were deleted.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	indexes, err := s.kv.ScanPrefix(ctx, IndexPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan index: %w", err)
	}
	for _, kv := range indexes {
		if err := s.kv.Delete(ctx, kv.Key); err != nil {
			return 0, fmt.Errorf("delete index %s: %w", kv.Key, err)
		}
	}
	jobs, err := s.kv.ScanPrefix(ctx, JobPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan jobs: %w", err)
	}
	deleted := 0
	for _, kv := range jobs {
		if err := s.kv.Delete(ctx, kv.Key); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", kv.Key, err)
		}
		deleted++
	}
	return deleted, nil
}
