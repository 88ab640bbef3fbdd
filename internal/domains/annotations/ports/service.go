package ports

import (
	"context"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
)

// Service is the driving port for subject annotations.
type Service interface {
	// Resolve returns the subject's summary, from cache when fresh and
	// otherwise by joining or starting the subject's resolve run and
	// waiting for its terminal outcome. A nil summary with a nil error
	// means the remote knows nothing useful. Exhausted subjects report
	// domain.ErrUnavailable; a ctx that ends abandons the wait without
	// stopping the run.
	Resolve(ctx context.Context, handle string) (*domain.RemarkSummary, error)
	// Discover makes sure the subject is resolved or resolving and
	// returns a snapshot without waiting. Discovering a subject already
	// underway, or parked in its give-up cooldown, changes nothing.
	Discover(ctx context.Context, handle string) (domain.SubjectStatus, error)
	// RetryNow clears the shared pause, resets the subject's retry
	// ladder and fetches immediately, restarting subjects that gave up.
	RetryNow(ctx context.Context, handle string) error
	// Status reports the subject's current state without starting
	// anything.
	Status(ctx context.Context, handle string) (domain.SubjectStatus, error)
	// RateLimit describes the shared pause and engine occupancy.
	RateLimit(ctx context.Context) domain.RateLimitStatus
	// ClearRateLimit lifts the shared pause and wakes every waiter.
	ClearRateLimit(ctx context.Context)
	// Settings returns the fetch parameters currently applied.
	Settings(ctx context.Context) domain.FetchParams
	// UpdateSettings applies new fetch parameters. When they change the
	// fetch identity the cache store is cleared, so stale summaries can
	// never surface under the new parameters.
	UpdateSettings(ctx context.Context, params domain.FetchParams) error
	// PurgeCache clears the cache store.
	PurgeCache(ctx context.Context) error
}
