// Package resolver drives subject lookups end to end: cache first, then a
// deduplicated remote fetch with bounded exponential retries that respect
// the shared rate-limit gate. It is generic over the payload type so every
// annotation flavor runs on the same engine.
package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/Apurer/go-annotation-service/internal/shared/coalesce"
	"github.com/Apurer/go-annotation-service/internal/shared/ratelimit"
)

// Phase names one state of a subject's lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseRetrying  Phase = "retrying"
	PhaseSucceeded Phase = "succeeded"
	PhaseGivenUp   Phase = "given_up"
)

// ErrUnavailable is returned for a subject whose retries are exhausted.
// The subject stays unavailable until its cooldown elapses or a manual
// retry restarts it.
var ErrUnavailable = fmt.Errorf("subject data unavailable after repeated failures")

// Defaults applied by Config.withDefaults.
const (
	DefaultTTL            = 7 * 24 * time.Hour
	DefaultMaxRetries     = 5
	DefaultBackoffCap     = 60 * time.Second
	DefaultGiveUpCooldown = 15 * time.Minute
)

// Cache is the slice of the cache-store contract the engine needs. Absent
// and expired entries surface as (nil, nil); read and write errors are
// degraded to misses and lost writes rather than failing a resolve.
type Cache[P any] interface {
	Get(ctx context.Context, subject string, ttl time.Duration) (*P, error)
	Put(ctx context.Context, subject string, payload *P) error
}

// FetchFunc performs one remote lookup. A nil payload with a nil error
// means the remote answered but knows nothing useful; such results are
// delivered to callers and never cached.
type FetchFunc[P any] func(ctx context.Context, subject string) (*P, error)

// Events receives lifecycle notifications for rendering collaborators.
// Callbacks run synchronously on the engine's goroutines and must not
// block for long.
type Events[P any] interface {
	// LoadingStarted fires once per resolve run, before the first fetch.
	LoadingStarted(subject string)
	// DataReady fires on terminal success. The payload is nil when the
	// remote had nothing useful to say.
	DataReady(subject string, payload *P)
	// GaveUp fires when retries are exhausted.
	GaveUp(subject string)
	// RateLimitNotice fires when a retry is deferred by the shared pause,
	// carrying the gate's display text.
	RateLimitNotice(subject string, tip string)
}

// Config bounds the engine. Zero fields fall back to the defaults above.
type Config struct {
	// TTL is the cache validity window passed to every Get.
	TTL time.Duration
	// MaxRetries is the attempt index at which a failure becomes
	// terminal: a failing attempt numbered MaxRetries or higher gives up.
	MaxRetries int
	// BackoffCap limits the exponential retry delay.
	BackoffCap time.Duration
	// GiveUpCooldown is how long a given-up subject stays parked before
	// discovery may start it afresh.
	GiveUpCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.GiveUpCooldown <= 0 {
		c.GiveUpCooldown = DefaultGiveUpCooldown
	}
	return c
}

// Backoff returns the retry delay for a zero-based attempt index:
// 2s, 4s, 8s, ... capped at limit.
func Backoff(attempt int, limit time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(1<<uint(attempt+1)) * time.Second
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// Snapshot is a point-in-time view of one subject.
type Snapshot[P any] struct {
	Subject      string
	Phase        Phase
	Attempt      int
	NextTry      time.Time
	CoolUntil    time.Time
	RateLimitTip string
	Payload      *P
}

// flight is the live state of one subject's resolve run. Fields are
// guarded by the resolver mutex; payload and err are written exactly once
// before done closes.
type flight[P any] struct {
	done     chan struct{}
	retryNow chan struct{}

	phase     Phase
	attempt   int
	nextTry   time.Time
	coolUntil time.Time
	tip       string
	payload   *P
	err       error
}

func newFlight[P any]() *flight[P] {
	return &flight[P]{
		done:     make(chan struct{}),
		retryNow: make(chan struct{}, 1),
		phase:    PhaseLoading,
	}
}

// Resolver owns one flight per subject and the coalescing table that
// guarantees a single remote call per subject and attempt.
type Resolver[P any] struct {
	cfg    Config
	cache  Cache[P]
	fetch  FetchFunc[P]
	gate   *ratelimit.Gate
	events Events[P]
	clk    clock.Clock
	logger *slog.Logger
	group  *coalesce.Group[P]

	mu      sync.Mutex
	flights map[string]*flight[P]
}

// New constructs a resolver. Configure clock, logger and events with the
// With methods before the first use.
func New[P any](cache Cache[P], fetch FetchFunc[P], gate *ratelimit.Gate, cfg Config) *Resolver[P] {
	if gate == nil {
		gate = ratelimit.NewGate()
	}
	return &Resolver[P]{
		cfg:     cfg.withDefaults(),
		cache:   cache,
		fetch:   fetch,
		gate:    gate,
		events:  nopEvents[P]{},
		clk:     clock.New(),
		logger:  defaultLogger(),
		group:   coalesce.NewGroup[P](),
		flights: make(map[string]*flight[P]),
	}
}

type nopEvents[P any] struct{}

func (nopEvents[P]) LoadingStarted(string)          {}
func (nopEvents[P]) DataReady(string, *P)           {}
func (nopEvents[P]) GaveUp(string)                  {}
func (nopEvents[P]) RateLimitNotice(string, string) {}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithClock replaces the time source. Intended for tests.
func (r *Resolver[P]) WithClock(clk clock.Clock) *Resolver[P] {
	r.clk = clk
	return r
}

// WithLogger attaches a logger for fetch and cache diagnostics.
func (r *Resolver[P]) WithLogger(logger *slog.Logger) *Resolver[P] {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithEvents attaches the lifecycle listener.
func (r *Resolver[P]) WithEvents(events Events[P]) *Resolver[P] {
	if events != nil {
		r.events = events
	}
	return r
}

// Resolve returns the subject's payload, serving from cache when fresh
// and otherwise joining or starting the subject's resolve run and waiting
// for its terminal outcome. A ctx that ends only abandons the wait; the
// run itself keeps going for the benefit of other callers. Exhausted
// subjects report ErrUnavailable.
func (r *Resolver[P]) Resolve(ctx context.Context, subject string) (*P, error) {
	if payload := r.cached(ctx, subject); payload != nil {
		return payload, nil
	}
	fl := r.join(subject)
	select {
	case <-fl.done:
		return fl.payload, fl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Discover makes sure the subject is resolved or resolving and returns a
// snapshot without waiting. Discovering a subject that is already loading,
// retrying or parked in its give-up cooldown changes nothing.
func (r *Resolver[P]) Discover(ctx context.Context, subject string) Snapshot[P] {
	if payload := r.cached(ctx, subject); payload != nil {
		return Snapshot[P]{Subject: subject, Phase: PhaseSucceeded, Payload: payload}
	}
	fl := r.join(subject)
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshotOf(subject, fl)
}

// Status reports the subject's current state without starting anything.
func (r *Resolver[P]) Status(ctx context.Context, subject string) Snapshot[P] {
	if payload := r.cached(ctx, subject); payload != nil {
		return Snapshot[P]{Subject: subject, Phase: PhaseSucceeded, Payload: payload}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fl, ok := r.flights[subject]
	if !ok {
		return Snapshot[P]{Subject: subject, Phase: PhaseIdle}
	}
	return snapshotOf(subject, fl)
}

// RetryNow clears the shared pause, resets the subject's attempt ladder
// and skips any scheduled delay. It restarts subjects that have given up,
// cooldown or not, and starts ones never seen before.
func (r *Resolver[P]) RetryNow(subject string) {
	r.gate.Clear()
	r.mu.Lock()
	defer r.mu.Unlock()
	if fl, ok := r.flights[subject]; ok {
		if fl.phase != PhaseGivenUp {
			select {
			case fl.retryNow <- struct{}{}:
			default:
			}
			return
		}
		delete(r.flights, subject)
	}
	fl := newFlight[P]()
	r.flights[subject] = fl
	go r.run(subject, fl)
}

// ActiveSubjects counts flights currently tracked, cooldown parking
// included.
func (r *Resolver[P]) ActiveSubjects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flights)
}

// InFlightFetches counts remote calls currently executing.
func (r *Resolver[P]) InFlightFetches() int {
	return r.group.InFlight()
}

// join returns the subject's live flight, starting one when the subject
// is idle or its give-up cooldown has elapsed. The check and the insert
// share one critical section, so a subject never has two runs.
func (r *Resolver[P]) join(subject string) *flight[P] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fl, ok := r.flights[subject]; ok {
		if fl.phase != PhaseGivenUp || r.clk.Now().Before(fl.coolUntil) {
			return fl
		}
		delete(r.flights, subject)
	}
	fl := newFlight[P]()
	r.flights[subject] = fl
	go r.run(subject, fl)
	return fl
}

// run is the per-subject state machine: Loading, then on failure either
// Retrying with a delay of max(backoff, remaining pause) or GivenUp once
// the attempt index reaches MaxRetries.
func (r *Resolver[P]) run(subject string, fl *flight[P]) {
	ctx := context.Background()
	r.events.LoadingStarted(subject)

	attempt := 0
	for {
		payload, err := r.group.Do(ctx, subject, func() (*P, error) {
			return r.fetch(ctx, subject)
		})
		if err == nil {
			r.store(ctx, subject, payload)
			r.finish(subject, fl, payload)
			r.events.DataReady(subject, payload)
			return
		}

		r.logger.Warn("subject fetch failed",
			slog.String("subject", subject),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if attempt >= r.cfg.MaxRetries {
			r.giveUp(subject, fl, err)
			r.events.GaveUp(subject)
			return
		}

		delay := Backoff(attempt, r.cfg.BackoffCap)
		tip := ""
		if paused := r.gate.PauseRemaining(); paused > delay {
			delay = paused
			tip = r.gate.Describe()
		}

		r.mu.Lock()
		fl.phase = PhaseRetrying
		fl.attempt = attempt + 1
		fl.nextTry = r.clk.Now().Add(delay)
		fl.tip = tip
		r.mu.Unlock()
		if tip != "" {
			r.events.RateLimitNotice(subject, tip)
		}

		timer := r.clk.Timer(delay)
		select {
		case <-timer.C:
			attempt++
		case <-fl.retryNow:
			timer.Stop()
			attempt = 0
		}

		r.mu.Lock()
		fl.phase = PhaseLoading
		fl.attempt = attempt
		fl.nextTry = time.Time{}
		fl.tip = ""
		r.mu.Unlock()
	}
}

func (r *Resolver[P]) cached(ctx context.Context, subject string) *P {
	payload, err := r.cache.Get(ctx, subject, r.cfg.TTL)
	if err != nil {
		r.logger.Warn("cache read failed, treating as miss",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return nil
	}
	return payload
}

func (r *Resolver[P]) store(ctx context.Context, subject string, payload *P) {
	if payload == nil {
		return
	}
	if err := r.cache.Put(ctx, subject, payload); err != nil {
		r.logger.Warn("cache write failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func (r *Resolver[P]) finish(subject string, fl *flight[P], payload *P) {
	r.mu.Lock()
	fl.phase = PhaseSucceeded
	fl.payload = payload
	delete(r.flights, subject)
	r.mu.Unlock()
	close(fl.done)
}

func (r *Resolver[P]) giveUp(subject string, fl *flight[P], cause error) {
	r.mu.Lock()
	fl.phase = PhaseGivenUp
	fl.err = fmt.Errorf("%w: %v", ErrUnavailable, cause)
	fl.coolUntil = r.clk.Now().Add(r.cfg.GiveUpCooldown)
	fl.nextTry = time.Time{}
	fl.tip = ""
	r.mu.Unlock()
	close(fl.done)
}

func snapshotOf[P any](subject string, fl *flight[P]) Snapshot[P] {
	return Snapshot[P]{
		Subject:      subject,
		Phase:        fl.phase,
		Attempt:      fl.attempt,
		NextTry:      fl.nextTry,
		CoolUntil:    fl.coolUntil,
		RateLimitTip: fl.tip,
		Payload:      fl.payload,
	}
}
