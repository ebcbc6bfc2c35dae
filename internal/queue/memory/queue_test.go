package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1", Query: "acme"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
		require.Equal(t, "acme", got.Query)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), crawler.QueueItem{JobID: "primed"}))
	require.Equal(t, 1, full.Len())
	err = full.Enqueue(ctx, crawler.QueueItem{})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "left"}))
	q.Close()
	// Closing twice should be safe.
	q.Close()

	require.True(t, errors.Is(q.Enqueue(context.Background(), crawler.QueueItem{}), ErrClosed))
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "left", item.JobID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
