// Package kvtest holds a behavioral suite every crawler.KVStore backend must pass.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

// Run exercises store semantics against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) crawler.KVStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetReplace", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "job:1", crawler.Record{"status": "queued", "query": "acme"}))
		got, ok, err := store.Get(ctx, "job:1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, crawler.Record{"status": "queued", "query": "acme"}, got)

		// Writes replace the whole record.
		require.NoError(t, store.Put(ctx, "job:1", crawler.Record{"status": "processing"}))
		got, ok, err = store.Get(ctx, "job:1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, crawler.Record{"status": "processing"}, got)
	})

	t.Run("MissingKey", func(t *testing.T) {
		store := newStore(t)
		got, ok, err := store.Get(ctx, "job:missing")
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, got)

		exists, err := store.Exists(ctx, "job:missing")
		require.NoError(t, err)
		require.False(t, exists)
		require.NoError(t, store.Delete(ctx, "job:missing"))
	})

	t.Run("DeleteAndExists", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "jobindex:acme:gb", crawler.Record{"job_id": "1"}))
		exists, err := store.Exists(ctx, "jobindex:acme:gb")
		require.NoError(t, err)
		require.True(t, exists)

		require.NoError(t, store.Delete(ctx, "jobindex:acme:gb"))
		exists, err = store.Exists(ctx, "jobindex:acme:gb")
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("ScanPrefix", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "job:b", crawler.Record{"id": "b"}))
		require.NoError(t, store.Put(ctx, "job:a", crawler.Record{"id": "a"}))
		require.NoError(t, store.Put(ctx, "jobindex:acme:", crawler.Record{"job_id": "a"}))
		require.NoError(t, store.Put(ctx, "job_other", crawler.Record{"id": "x"}))

		got, err := store.ScanPrefix(ctx, "job:")
		require.NoError(t, err)
		require.Equal(t, []crawler.KV{
			{Key: "job:a", Record: crawler.Record{"id": "a"}},
			{Key: "job:b", Record: crawler.Record{"id": "b"}},
		}, got)

		none, err := store.ScanPrefix(ctx, "nothing:")
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("RecordsAreCopied", func(t *testing.T) {
		store := newStore(t)
		record := crawler.Record{"status": "queued"}
		require.NoError(t, store.Put(ctx, "job:1", record))
		record["status"] = "mutated"

		got, _, err := store.Get(ctx, "job:1")
		require.NoError(t, err)
		require.Equal(t, "queued", got["status"])
		got["status"] = "mutated"

		again, _, err := store.Get(ctx, "job:1")
		require.NoError(t, err)
		require.Equal(t, "queued", again["status"])
	})
}
