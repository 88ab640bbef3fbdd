package ports

import (
	"context"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
)

// RemoteSource performs one remote lookup per call. Implementations wait
// out the shared rate-limit pause before sending, record any pause the
// response implies, and classify failures as *domain.FetchError. A nil
// summary with a nil error means the remote answered but knows nothing
// useful about the subject; such results are never cached.
type RemoteSource interface {
	Fetch(ctx context.Context, handle string, params domain.FetchParams) (*domain.RemarkSummary, error)
}
