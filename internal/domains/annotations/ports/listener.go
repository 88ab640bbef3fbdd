package ports

import "github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"

// Listener receives subject lifecycle notifications, the hook rendering
// collaborators attach to. Callbacks run synchronously on service
// goroutines and must return quickly.
type Listener interface {
	// LoadingStarted fires when a subject enters loading.
	LoadingStarted(handle string)
	// DataReady fires on terminal success. A nil summary means the
	// subject resolved with nothing to show.
	DataReady(handle string, summary *domain.RemarkSummary)
	// GaveUp fires when a subject exhausts its retries.
	GaveUp(handle string)
	// RateLimitNotice fires when a subject's retry is deferred by the
	// shared pause, carrying display text such as
	// "remote requests paused until 15:04:05".
	RateLimitNotice(handle string, tip string)
}
