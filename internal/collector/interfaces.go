package collector

import (
	"context"
	"io"
	"time"
)

// Fetcher issues rate-limited GET requests against the upstream API.
type Fetcher interface {
	Fetch(ctx context.Context, path string, params map[string]any) (*Response, error)
}

// Job describes how one record variant is paged, split, enriched and normalized.
type Job interface {
	Name() JobName
	ListRequest(params RunParams, page int) Request
	ExtractItems(body any) []map[string]any
	// HasDetail reports whether items of this job are enriched with a detail fetch.
	HasDetail() bool
	// DetailRequest returns false when the item carries no usable identifier.
	DetailRequest(item map[string]any) (Request, bool)
	Normalize(list, detail map[string]any) (Record, error)
}

// Store opens transactional sessions against the record tables.
type Store interface {
	Begin(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// Session is one unit of work; Upsert reports whether the row was newly inserted.
type Session interface {
	Upsert(ctx context.Context, rec Record, meta RowMeta) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RunLedger persists run start/finish bookkeeping.
type RunLedger interface {
	StartRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
