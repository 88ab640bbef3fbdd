package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
)

const tracerName = "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/observability/service"

// Service decorates the annotations application port with tracing,
// logging, and metrics.
type Service struct {
	inner   ports.Service
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics serviceMetrics
}

type Option func(*Service)

// WithLogger injects a slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracer injects a tracer implementation.
func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tr
	}
}

// WithMeter injects the meter used to create service metrics instruments.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		s.metrics = newServiceMetrics(m)
	}
}

// New wires a decorator around the core service.
func New(inner ports.Service, opts ...Option) ports.Service {
	s := &Service{
		inner:   inner,
		tracer:  nooptrace.NewTracerProvider().Tracer(tracerName),
		logger:  defaultLogger(),
		metrics: newServiceMetrics(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	if s.logger == nil {
		s.logger = defaultLogger()
	}
	return s
}

// Resolve returns the subject's summary with instrumentation.
func (s *Service) Resolve(ctx context.Context, handle string) (*domain.RemarkSummary, error) {
	ctx, span := s.startSpan(ctx, "Service.Resolve", attribute.String("subject.handle", handle))
	defer span.End()

	s.logInfo(ctx, "resolving subject", slog.String("subject.handle", handle))
	summary, err := s.inner.Resolve(ctx, handle)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			s.metrics.recordUnavailable(ctx)
		}
		return nil, s.handleError(ctx, span, err, "failed to resolve subject", slog.String("subject.handle", handle))
	}
	outcome := "empty"
	categories := 0
	if summary != nil {
		outcome = "summary"
		categories = len(summary.Categories)
	}
	s.metrics.recordResolved(ctx, outcome)
	span.SetAttributes(
		attribute.String("subject.outcome", outcome),
		attribute.Int("subject.categories", categories),
	)
	s.logInfo(ctx, "subject resolved", slog.String("subject.handle", handle), slog.String("outcome", outcome))
	return summary, nil
}

// Discover makes sure the subject is resolved or resolving.
func (s *Service) Discover(ctx context.Context, handle string) (domain.SubjectStatus, error) {
	ctx, span := s.startSpan(ctx, "Service.Discover", attribute.String("subject.handle", handle))
	defer span.End()

	s.logInfo(ctx, "discovering subject", slog.String("subject.handle", handle))
	status, err := s.inner.Discover(ctx, handle)
	if err != nil {
		return domain.SubjectStatus{}, s.handleError(ctx, span, err, "failed to discover subject", slog.String("subject.handle", handle))
	}
	span.SetAttributes(attribute.String("subject.phase", string(status.Phase)))
	return status, nil
}

// RetryNow clears the shared pause and fetches the subject immediately.
func (s *Service) RetryNow(ctx context.Context, handle string) error {
	ctx, span := s.startSpan(ctx, "Service.RetryNow", attribute.String("subject.handle", handle))
	defer span.End()

	s.logInfo(ctx, "manual retry requested", slog.String("subject.handle", handle))
	if err := s.inner.RetryNow(ctx, handle); err != nil {
		return s.handleError(ctx, span, err, "failed to retry subject", slog.String("subject.handle", handle))
	}
	s.metrics.recordManualRetry(ctx)
	return nil
}

// Status reports the subject's current state.
func (s *Service) Status(ctx context.Context, handle string) (domain.SubjectStatus, error) {
	ctx, span := s.startSpan(ctx, "Service.Status", attribute.String("subject.handle", handle))
	defer span.End()

	status, err := s.inner.Status(ctx, handle)
	if err != nil {
		return domain.SubjectStatus{}, s.handleError(ctx, span, err, "failed to read subject status", slog.String("subject.handle", handle))
	}
	span.SetAttributes(attribute.String("subject.phase", string(status.Phase)))
	return status, nil
}

// RateLimit describes the shared pause and engine occupancy.
func (s *Service) RateLimit(ctx context.Context) domain.RateLimitStatus {
	ctx, span := s.startSpan(ctx, "Service.RateLimit")
	defer span.End()

	status := s.inner.RateLimit(ctx)
	span.SetAttributes(
		attribute.Bool("ratelimit.paused", status.Paused),
		attribute.Int("ratelimit.active_subjects", status.ActiveSubjects),
		attribute.Int("ratelimit.in_flight", status.InFlightFetches),
	)
	return status
}

// ClearRateLimit lifts the shared pause.
func (s *Service) ClearRateLimit(ctx context.Context) {
	ctx, span := s.startSpan(ctx, "Service.ClearRateLimit")
	defer span.End()

	s.logInfo(ctx, "clearing rate limit pause")
	s.inner.ClearRateLimit(ctx)
}

// Settings returns the fetch parameters currently applied.
func (s *Service) Settings(ctx context.Context) domain.FetchParams {
	ctx, span := s.startSpan(ctx, "Service.Settings")
	defer span.End()

	return s.inner.Settings(ctx)
}

// UpdateSettings applies new fetch parameters.
func (s *Service) UpdateSettings(ctx context.Context, params domain.FetchParams) error {
	ctx, span := s.startSpan(ctx, "Service.UpdateSettings",
		attribute.Int("settings.window_days", params.WindowDays),
		attribute.Int("settings.sample_limit", params.SampleLimit),
	)
	defer span.End()

	s.logInfo(ctx, "updating fetch settings",
		slog.Int("window_days", params.WindowDays),
		slog.Int("sample_limit", params.SampleLimit))
	if err := s.inner.UpdateSettings(ctx, params); err != nil {
		return s.handleError(ctx, span, err, "failed to update settings")
	}
	s.metrics.recordSettingsChanged(ctx)
	return nil
}

// PurgeCache clears the cache store.
func (s *Service) PurgeCache(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Service.PurgeCache")
	defer span.End()

	s.logInfo(ctx, "purging annotation cache")
	if err := s.inner.PurgeCache(ctx); err != nil {
		return s.handleError(ctx, span, err, "failed to purge cache")
	}
	s.metrics.recordCachePurged(ctx)
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := s.tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *Service) logError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

func (s *Service) handleError(ctx context.Context, span trace.Span, err error, msg string, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.logError(ctx, msg, err, attrs...)
	return err
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceMetrics struct {
	resolved        metric.Int64Counter
	unavailable     metric.Int64Counter
	manualRetries   metric.Int64Counter
	settingsChanged metric.Int64Counter
	cachePurged     metric.Int64Counter
}

func newServiceMetrics(m metric.Meter) serviceMetrics {
	if m == nil {
		return serviceMetrics{}
	}
	resolved, _ := m.Int64Counter("annotations.service.resolved", metric.WithDescription("Number of subjects resolved"))
	unavailable, _ := m.Int64Counter("annotations.service.unavailable", metric.WithDescription("Number of resolves that found the subject unavailable"))
	manualRetries, _ := m.Int64Counter("annotations.service.manual_retries", metric.WithDescription("Number of manual retries requested"))
	settingsChanged, _ := m.Int64Counter("annotations.service.settings_changed", metric.WithDescription("Number of fetch settings updates"))
	cachePurged, _ := m.Int64Counter("annotations.service.cache_purged", metric.WithDescription("Number of cache purges"))
	return serviceMetrics{
		resolved:        resolved,
		unavailable:     unavailable,
		manualRetries:   manualRetries,
		settingsChanged: settingsChanged,
		cachePurged:     cachePurged,
	}
}

func (m serviceMetrics) recordResolved(ctx context.Context, outcome string) {
	addCounter(ctx, m.resolved, 1, attribute.String("subject.outcome", outcome))
}

func (m serviceMetrics) recordUnavailable(ctx context.Context) {
	addCounter(ctx, m.unavailable, 1)
}

func (m serviceMetrics) recordManualRetry(ctx context.Context) {
	addCounter(ctx, m.manualRetries, 1)
}

func (m serviceMetrics) recordSettingsChanged(ctx context.Context) {
	addCounter(ctx, m.settingsChanged, 1)
}

func (m serviceMetrics) recordCachePurged(ctx context.Context) {
	addCounter(ctx, m.cachePurged, 1)
}

func addCounter(ctx context.Context, counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

var _ ports.Service = (*Service)(nil)
