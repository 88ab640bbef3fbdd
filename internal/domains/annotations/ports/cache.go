package ports

import (
	"context"
	"time"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
)

// CacheStore persists resolved summaries keyed by subject handle. Entries
// expire lazily: a read decides freshness against the caller-supplied TTL
// and expired rows may linger until purged. Implementations must never
// panic; callers treat read errors as misses and write errors as lost
// writes.
type CacheStore interface {
	// Get returns the stored summary when one exists and is younger than
	// ttl, or nil for both the unknown and the expired case.
	Get(ctx context.Context, handle string, ttl time.Duration) (*domain.RemarkSummary, error)
	// Put stores the summary, overwriting any previous entry whole and
	// restarting its age. Callers never pass a nil summary.
	Put(ctx context.Context, handle string, summary *domain.RemarkSummary) error
	// ClearAll removes every entry in this store's namespace without
	// touching unrelated data sharing the backend.
	ClearAll(ctx context.Context) error
	// PurgeExpired deletes entries older than olderThan and reports how
	// many went. It is housekeeping only; Get already hides stale rows.
	PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}
