package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves the HTML for one URL. Implementations must be safe for
// concurrent use and must not retry.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// KVStore is the abstract persistence collaborator behind the job layer.
// Every write replaces the whole record stored under a key.
type KVStore interface {
	Put(ctx context.Context, key string, record Record) error
	Get(ctx context.Context, key string) (Record, bool, error)
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string) ([]KV, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RateLimiter blocks until a fetch of url may proceed.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests used to name archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
