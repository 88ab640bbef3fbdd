package observability

import (
	"log/slog"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
)

var _ ports.Listener = (*Listener)(nil)

// Listener logs subject lifecycle events. It stands in for rendering
// collaborators in deployments that have none.
type Listener struct {
	logger *slog.Logger
}

// NewListener wires a logging listener.
func NewListener(logger *slog.Logger) *Listener {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Listener{logger: logger}
}

func (l *Listener) LoadingStarted(handle string) {
	l.logger.Info("subject loading", slog.String("subject.handle", handle))
}

func (l *Listener) DataReady(handle string, summary *domain.RemarkSummary) {
	if summary == nil {
		l.logger.Info("subject resolved with nothing to show", slog.String("subject.handle", handle))
		return
	}
	l.logger.Info("subject annotation ready",
		slog.String("subject.handle", handle),
		slog.Int("categories", len(summary.Categories)),
		slog.Int("sample_size", summary.SampleSize))
}

func (l *Listener) GaveUp(handle string) {
	l.logger.Warn("subject unavailable after repeated failures", slog.String("subject.handle", handle))
}

func (l *Listener) RateLimitNotice(handle string, tip string) {
	l.logger.Info("subject retry deferred by rate limit",
		slog.String("subject.handle", handle),
		slog.String("tip", tip))
}
