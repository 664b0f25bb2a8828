package product

import (
	"context"
	"time"
)

// Cache is the TTL-bounded snapshot store plus per-type similarity index.
// Reads degrade to a miss when the backend is unavailable; writes are best
// effort and must never fail the caller's overall operation.
type Cache interface {
	// Get returns the cached snapshot, or (nil, nil) on a miss. A non-nil
	// error carries ErrKindCacheUnavailable semantics and callers treat it
	// as a miss.
	Get(ctx context.Context, url string) (*Snapshot, error)
	Set(ctx context.Context, url string, snap Snapshot, ttl time.Duration) error
	GetMany(ctx context.Context, urls []string) (map[string]*Snapshot, error)
	SetMany(ctx context.Context, snaps map[string]Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, url string) error
	GetSimilar(ctx context.Context, snap Snapshot, limit int) ([]SimilarityRecord, error)
}

// Retriever is one retrieval strategy in the fallback chain.
type Retriever interface {
	Method() FetchMethod
	Retrieve(ctx context.Context, url string) (RawContent, error)
}

// Extractor turns raw page content into a Snapshot. Opaque to the fetcher.
type Extractor interface {
	Extract(ctx context.Context, raw RawContent, sourceURL string) (Snapshot, error)
}

// SnapshotStore is the durable store boundary; the cache is ephemeral and
// does not replace it.
type SnapshotStore interface {
	Upsert(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, url string) (*Snapshot, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes review items to the verification queue.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces review item IDs.
type IDGenerator interface {
	NewID() (string, error)
}
