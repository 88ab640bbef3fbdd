// Package insights adapts the insights HTTP client to the remote-source
// port, folding response quota metadata into the shared rate-limit gate.
package insights

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/time/rate"

	insightsclient "github.com/Apurer/go-annotation-service/internal/clients/http/insights"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
	"github.com/Apurer/go-annotation-service/internal/shared/ratelimit"
)

// Fetching stops once the remote reports fewer than minRemainingQuota
// requests left; a pause-worthy response without a usable reset header
// falls back to defaultPause.
const (
	minRemainingQuota = 2
	defaultPause      = 60 * time.Second
)

// Source implements the outbound remote-source port.
type Source struct {
	client *insightsclient.Client
	gate   *ratelimit.Gate
	pacer  *rate.Limiter
	clk    clock.Clock
	logger *slog.Logger
}

// Option configures the source.
type Option func(*Source)

// WithPacer caps outgoing request frequency on top of the reactive
// pause. A nil limiter disables pacing.
func WithPacer(limiter *rate.Limiter) Option {
	return func(s *Source) {
		s.pacer = limiter
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Source) {
		if clk != nil {
			s.clk = clk
		}
	}
}

// WithLogger attaches a logger for pause decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSource wires the insights client into a remote source that honors
// and feeds the shared gate.
func NewSource(client *insightsclient.Client, gate *ratelimit.Gate, opts ...Option) *Source {
	s := &Source{
		client: client,
		gate:   gate,
		clk:    clock.New(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if s.gate == nil {
		s.gate = ratelimit.NewGate()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Fetch performs one remote lookup: wait out the shared pause, optionally
// pace, call the API, record any pause the response implies and classify
// the outcome.
func (s *Source) Fetch(ctx context.Context, handle string, params domain.FetchParams) (*domain.RemarkSummary, error) {
	if s == nil || s.client == nil {
		return nil, domain.TransportError(errors.New("insights source not configured"))
	}
	if err := s.gate.Wait(ctx); err != nil {
		return nil, domain.TransportError(err)
	}
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx); err != nil {
			return nil, domain.TransportError(err)
		}
	}

	payload, quota, err := s.client.FetchRemarkSummary(ctx, handle, params.WindowDays, params.SampleLimit)
	throttled := errors.Is(err, insightsclient.ErrThrottled)
	s.applyQuota(handle, quota, throttled)

	switch {
	case err == nil:
		return toSummary(payload), nil
	case throttled:
		return nil, domain.ThrottledError(err)
	default:
		var apiErr *insightsclient.APIError
		if errors.As(err, &apiErr) {
			return nil, domain.ProtocolError(err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, domain.TransportError(err)
		}
		return nil, domain.ProtocolError(err)
	}
}

// applyQuota moves the shared pause forward when the response was an
// explicit throttle or reported the quota nearly gone. Every response is
// inspected, successes included, so the pause engages before the remote
// starts rejecting.
func (s *Source) applyQuota(handle string, quota insightsclient.Quota, throttled bool) {
	low := quota.HasRemaining && quota.Remaining < minRemainingQuota
	if !throttled && !low {
		return
	}
	pause := defaultPause
	if quota.HasReset {
		pause = time.Duration(quota.ResetSeconds) * time.Second
	}
	until := s.clk.Now().Add(pause)
	s.gate.NotePauseUntil(until)
	s.logger.Info("pausing remote fetches",
		slog.String("subject", handle),
		slog.Bool("throttled", throttled),
		slog.Bool("quota_low", low),
		slog.Time("until", until))
}

var _ ports.RemoteSource = (*Source)(nil)
