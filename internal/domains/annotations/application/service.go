package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
	"github.com/Apurer/go-annotation-service/internal/shared/ratelimit"
	"github.com/Apurer/go-annotation-service/internal/shared/resolver"
)

// Service orchestrates the annotations bounded context use cases on top
// of the shared resolver engine: cache-first reads, one coalesced fetch
// per subject, bounded retries honoring the shared rate-limit pause.
type Service struct {
	cache     ports.CacheStore
	source    ports.RemoteSource
	gate      *ratelimit.Gate
	engine    *resolver.Resolver[domain.RemarkSummary]
	listeners []ports.Listener
	logger    *slog.Logger
	clk       clock.Clock

	mu     sync.RWMutex
	params domain.FetchParams

	cfg resolver.Config
}

// Option customises the service.
type Option func(*Service)

// WithParams sets the initial fetch parameters.
func WithParams(params domain.FetchParams) Option {
	return func(s *Service) { s.params = params }
}

// WithTTL sets how long cached summaries stay fresh.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cfg.TTL = ttl }
}

// WithMaxRetries sets the attempt index at which a failing subject gives
// up.
func WithMaxRetries(n int) Option {
	return func(s *Service) { s.cfg.MaxRetries = n }
}

// WithBackoffCap limits the exponential retry delay.
func WithBackoffCap(limit time.Duration) Option {
	return func(s *Service) { s.cfg.BackoffCap = limit }
}

// WithGiveUpCooldown sets how long a given-up subject stays parked before
// discovery may start it afresh.
func WithGiveUpCooldown(cooldown time.Duration) Option {
	return func(s *Service) { s.cfg.GiveUpCooldown = cooldown }
}

// WithClock replaces the time source. Intended for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		if clk != nil {
			s.clk = clk
		}
	}
}

// WithLogger attaches a logger for service and engine diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithListener registers a lifecycle listener. May be given several
// times; listeners are notified in registration order.
func WithListener(listener ports.Listener) Option {
	return func(s *Service) {
		if listener != nil {
			s.listeners = append(s.listeners, listener)
		}
	}
}

// NewService wires the annotations service with its dependencies. A nil
// gate gets replaced with a fresh one so the service always owns a pause
// to clear.
func NewService(cache ports.CacheStore, source ports.RemoteSource, gate *ratelimit.Gate, opts ...Option) *Service {
	if gate == nil {
		gate = ratelimit.NewGate()
	}
	s := &Service{
		cache:  cache,
		source: source,
		gate:   gate,
		params: domain.DefaultFetchParams(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clk:    clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = resolver.New[domain.RemarkSummary](cache, s.doFetch, gate, s.cfg).
		WithClock(s.clk).
		WithLogger(s.logger).
		WithEvents(&listenerBridge{svc: s})
	return s
}

// Resolve returns the subject's summary, from cache when fresh and
// otherwise by joining or starting the subject's resolve run and waiting
// for its terminal outcome.
func (s *Service) Resolve(ctx context.Context, handle string) (*domain.RemarkSummary, error) {
	handle, err := s.handle(handle)
	if err != nil {
		return nil, err
	}
	summary, err := s.engine.Resolve(ctx, handle)
	if err != nil {
		if errors.Is(err, resolver.ErrUnavailable) {
			return nil, domain.ErrUnavailable
		}
		return nil, err
	}
	return summary, nil
}

// Discover makes sure the subject is resolved or resolving and returns a
// snapshot without waiting.
func (s *Service) Discover(ctx context.Context, handle string) (domain.SubjectStatus, error) {
	handle, err := s.handle(handle)
	if err != nil {
		return domain.SubjectStatus{}, err
	}
	return statusOf(handle, s.engine.Discover(ctx, handle)), nil
}

// RetryNow clears the shared pause, resets the subject's retry ladder
// and fetches immediately, restarting subjects that gave up.
func (s *Service) RetryNow(_ context.Context, handle string) error {
	handle, err := s.handle(handle)
	if err != nil {
		return err
	}
	s.engine.RetryNow(handle)
	return nil
}

// Status reports the subject's current state without starting anything.
func (s *Service) Status(ctx context.Context, handle string) (domain.SubjectStatus, error) {
	handle, err := s.handle(handle)
	if err != nil {
		return domain.SubjectStatus{}, err
	}
	return statusOf(handle, s.engine.Status(ctx, handle)), nil
}

// RateLimit describes the shared pause and engine occupancy.
func (s *Service) RateLimit(context.Context) domain.RateLimitStatus {
	return domain.RateLimitStatus{
		Paused:          s.gate.Paused(),
		PausedUntil:     s.gate.PausedUntil(),
		Tip:             s.gate.Describe(),
		ActiveSubjects:  s.engine.ActiveSubjects(),
		InFlightFetches: s.engine.InFlightFetches(),
	}
}

// ClearRateLimit lifts the shared pause and wakes every waiter.
func (s *Service) ClearRateLimit(context.Context) {
	s.gate.Clear()
}

// Settings returns the fetch parameters currently applied.
func (s *Service) Settings(context.Context) domain.FetchParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// UpdateSettings applies new fetch parameters. Parameters shape what the
// remote computes, so a change invalidates every cached summary and the
// cache store is cleared. Setting the same values again is a no-op.
func (s *Service) UpdateSettings(ctx context.Context, params domain.FetchParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if params == s.params {
		s.mu.Unlock()
		return nil
	}
	previous := s.params
	s.params = params
	s.mu.Unlock()

	s.logger.Info("fetch parameters changed, clearing annotation cache",
		slog.Int("window_days", params.WindowDays),
		slog.Int("sample_limit", params.SampleLimit),
		slog.Int("previous_window_days", previous.WindowDays),
		slog.Int("previous_sample_limit", previous.SampleLimit))

	if err := s.cache.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear annotation cache: %w", err)
	}
	return nil
}

// PurgeCache clears the cache store.
func (s *Service) PurgeCache(ctx context.Context) error {
	if err := s.cache.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear annotation cache: %w", err)
	}
	return nil
}

// doFetch is the engine's fetch function. It reads the parameters at call
// time so settings changes apply to the next attempt.
func (s *Service) doFetch(ctx context.Context, handle string) (*domain.RemarkSummary, error) {
	s.mu.RLock()
	params := s.params
	s.mu.RUnlock()
	return s.source.Fetch(ctx, handle, params)
}

func (s *Service) handle(raw string) (string, error) {
	handle := domain.NormalizeHandle(raw)
	if handle == "" {
		return "", domain.ErrEmptyHandle
	}
	return handle, nil
}

// listenerBridge fans engine events out to the registered listeners.
type listenerBridge struct {
	svc *Service
}

func (b *listenerBridge) LoadingStarted(handle string) {
	for _, l := range b.svc.listeners {
		l.LoadingStarted(handle)
	}
}

func (b *listenerBridge) DataReady(handle string, summary *domain.RemarkSummary) {
	for _, l := range b.svc.listeners {
		l.DataReady(handle, summary)
	}
}

func (b *listenerBridge) GaveUp(handle string) {
	for _, l := range b.svc.listeners {
		l.GaveUp(handle)
	}
}

func (b *listenerBridge) RateLimitNotice(handle string, tip string) {
	for _, l := range b.svc.listeners {
		l.RateLimitNotice(handle, tip)
	}
}

func statusOf(handle string, snap resolver.Snapshot[domain.RemarkSummary]) domain.SubjectStatus {
	return domain.SubjectStatus{
		Handle:        handle,
		Phase:         phaseOf(snap.Phase),
		Attempt:       snap.Attempt,
		NextTryAt:     snap.NextTry,
		CooldownUntil: snap.CoolUntil,
		RateLimitTip:  snap.RateLimitTip,
		Summary:       snap.Payload,
	}
}

func phaseOf(p resolver.Phase) domain.Phase {
	switch p {
	case resolver.PhaseLoading:
		return domain.PhaseLoading
	case resolver.PhaseRetrying:
		return domain.PhaseRetrying
	case resolver.PhaseSucceeded:
		return domain.PhaseReady
	case resolver.PhaseGivenUp:
		return domain.PhaseGivenUp
	default:
		return domain.PhaseIdle
	}
}

var _ ports.Service = (*Service)(nil)
