package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/storage/memory"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func completedJob(t *testing.T, store *Store, id, query, jurisdiction string, output []crawler.Entity) crawler.Job {
	t.Helper()
	job := crawler.NewQueuedJob(id, query, jurisdiction, t0)
	require.NoError(t, store.Create(context.Background(), job))
	require.NoError(t, job.Start(t0.Add(time.Second)))
	require.NoError(t, job.Complete(output, t0.Add(2*time.Second)))
	require.NoError(t, store.Save(context.Background(), job))
	require.NoError(t, store.IndexCompleted(context.Background(), job))
	return job
}

func TestNormalization(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acme holdings", NormalizeQuery("  ACME\t Holdings \n"))
	require.Equal(t, "us_de", NormalizeJurisdiction(" US_DE "))
	require.Equal(t, "jobindex:acme holdings:us_de", IndexKey("ACME  holdings", "US_DE"))
	require.Equal(t, "jobindex:acme:", IndexKey("acme", ""))
	require.Equal(t, "job:123", JobKey("123"))
}

func TestCreateGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(memory.NewKVStore(), nil)
	job := crawler.NewQueuedJob("job-1", "Acme", "gb", t0)
	require.NoError(t, store.Create(ctx, job))
	require.ErrorIs(t, store.Create(ctx, job), crawler.ErrJobExists)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, job, got)
	require.Nil(t, got.Output)

	_, err = store.Get(ctx, "job-404")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestCompletedOutputSurvivesRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(memory.NewKVStore(), nil)
	output := []crawler.Entity{
		{crawler.LabelCompanyName: "ACME LTD", "Company Number": "2"},
		{crawler.LabelCompanyName: "ACME INC"},
	}
	completedJob(t, store, "job-1", "acme", "gb", output)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Equal(t, output, got.Output)

	empty := completedJob(t, store, "job-2", "nobody", "", nil)
	got, err = store.Get(ctx, empty.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Output)
	require.Empty(t, got.Output)
}

func TestSaveRejectsInvariantViolations(t *testing.T) {
	t.Parallel()

	store := NewStore(memory.NewKVStore(), nil)
	job := crawler.NewQueuedJob("job-1", "acme", "", t0)
	job.Status = crawler.JobStatusFailed
	job.Output = []crawler.Entity{}
	require.Error(t, store.Save(context.Background(), job))
}

func TestCacheLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(memory.NewKVStore(), nil)
	job := completedJob(t, store, "job-1", "Acme Inc", "US_DE", []crawler.Entity{{crawler.LabelCompanyName: "ACME INC"}})

	hit, ok, err := store.LookupCompleted(ctx, "  acme   INC ", "us_de")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, hit.ID)
	require.Equal(t, job.Output, hit.Output)

	_, ok, err = store.LookupCompleted(ctx, "acme inc", "gb")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIndexLastWriteWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(memory.NewKVStore(), nil)
	completedJob(t, store, "job-1", "acme", "gb", []crawler.Entity{{crawler.LabelCompanyName: "OLD"}})
	completedJob(t, store, "job-2", "acme", "gb", []crawler.Entity{{crawler.LabelCompanyName: "NEW"}})

	hit, ok, err := store.LookupCompleted(ctx, "acme", "gb")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job-2", hit.ID)
}

func TestIndexRejectsNonCompleted(t *testing.T) {
	t.Parallel()

	store := NewStore(memory.NewKVStore(), nil)
	require.Error(t, store.IndexCompleted(context.Background(), crawler.NewQueuedJob("job-1", "acme", "", t0)))
}

func TestDeleteRemovesOnlyOwnIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := memory.NewKVStore()
	store := NewStore(kv, nil)
	completedJob(t, store, "job-old", "acme", "gb", []crawler.Entity{})
	completedJob(t, store, "job-new", "acme", "gb", []crawler.Entity{})
	completedJob(t, store, "job-other", "globex", "gb", []crawler.Entity{})

	// The index points at job-new, so deleting job-old leaves it in place.
	require.NoError(t, store.Delete(ctx, "job-old"))
	hit, ok, err := store.LookupCompleted(ctx, "acme", "gb")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job-new", hit.ID)

	require.NoError(t, store.Delete(ctx, "job-new"))
	exists, err := kv.Exists(ctx, IndexKey("acme", "gb"))
	require.NoError(t, err)
	require.False(t, exists)

	_, ok, err = store.LookupCompleted(ctx, "globex", "gb")
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, store.Delete(ctx, "job-new"), crawler.ErrJobNotFound)
}

func TestDeleteCorruptRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := memory.NewKVStore()
	store := NewStore(kv, nil)
	require.NoError(t, kv.Put(ctx, JobKey("corrupt"), crawler.Record{
		fieldID:     "corrupt",
		fieldQuery:  "acme",
		fieldStatus: "weird",
		fieldOutput: "{not json",
	}))
	require.NoError(t, kv.Put(ctx, IndexKey("acme", ""), crawler.Record{fieldJobID: "corrupt"}))

	_, err := store.Get(ctx, "corrupt")
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrJobNotFound)

	require.NoError(t, store.Delete(ctx, "corrupt"))
	for _, key := range []string{JobKey("corrupt"), IndexKey("acme", "")} {
		exists, err := kv.Exists(ctx, key)
		require.NoError(t, err)
		require.False(t, exists, key)
	}
	require.ErrorIs(t, store.Delete(ctx, "corrupt"), crawler.ErrJobNotFound)
}

func TestListAndDeleteAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := memory.NewKVStore()
	store := NewStore(kv, nil)
	require.NoError(t, store.Create(ctx, crawler.NewQueuedJob("b", "acme", "", t0.Add(time.Minute))))
	require.NoError(t, store.Create(ctx, crawler.NewQueuedJob("a", "acme", "", t0.Add(time.Minute))))
	completedJob(t, store, "c", "globex", "", []crawler.Entity{})
	require.NoError(t, kv.Put(ctx, JobKey("corrupt"), crawler.Record{"status": "weird"}))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	require.Equal(t, []string{"c", "a", "b"}, ids)

	deleted, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, deleted)
	left, err := kv.ScanPrefix(ctx, "")
	require.NoError(t, err)
	require.Empty(t, left)
}

type failingKV struct {
	crawler.KVStore
	err error
}

func (f failingKV) Get(context.Context, string) (crawler.Record, bool, error) {
	return nil, false, f.err
}

func (f failingKV) Put(context.Context, string, crawler.Record) error {
	return f.err
}

func (f failingKV) Exists(context.Context, string) (bool, error) {
	return false, f.err
}

func TestStoreErrorsPropagate(t *testing.T) {
	t.Parallel()

	storeErr := &crawler.StoreError{Op: "get", Err: errors.New("connection refused")}
	store := NewStore(failingKV{err: storeErr}, nil)

	_, _, err := store.LookupCompleted(context.Background(), "acme", "")
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)

	err = store.Save(context.Background(), crawler.NewQueuedJob("job-1", "acme", "", t0))
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)

	err = store.Create(context.Background(), crawler.NewQueuedJob("job-1", "acme", "", t0))
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
}
