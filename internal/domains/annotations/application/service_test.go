package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"

	annotmemory "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/memory"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/shared/ratelimit"
)

// settle gives the engine goroutine time to arm its retry timer before
// the mock clock jumps.
const settle = 20 * time.Millisecond

type sourceStep struct {
	summary *domain.RemarkSummary
	err     error
	pause   time.Duration
	block   chan struct{}
}

// scriptedSource plays back one step per fetch, noting a pause on the
// gate first the way the production source does when the remote
// throttles.
type scriptedSource struct {
	clk  clock.Clock
	gate *ratelimit.Gate

	mu     sync.Mutex
	steps  []sourceStep
	calls  []time.Time
	params []domain.FetchParams

	called chan struct{}
}

func (s *scriptedSource) Fetch(_ context.Context, _ string, params domain.FetchParams) (*domain.RemarkSummary, error) {
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, s.clk.Now())
	s.params = append(s.params, params)
	var step sourceStep
	if idx < len(s.steps) {
		step = s.steps[idx]
	}
	s.mu.Unlock()

	if step.pause > 0 {
		s.gate.NotePauseUntil(s.clk.Now().Add(step.pause))
	}
	select {
	case s.called <- struct{}{}:
	default:
	}
	if step.block != nil {
		<-step.block
	}
	return step.summary, step.err
}

func (s *scriptedSource) callTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time{}, s.calls...)
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedSource) lastParams() domain.FetchParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.params) == 0 {
		return domain.FetchParams{}
	}
	return s.params[len(s.params)-1]
}

func awaitCall(t *testing.T, source *scriptedSource) {
	t.Helper()
	select {
	case <-source.called:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a remote fetch")
	}
}

type recordingListener struct {
	loading   chan string
	ready     chan string
	gaveUp    chan string
	rateNotes chan string
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		loading:   make(chan string, 8),
		ready:     make(chan string, 8),
		gaveUp:    make(chan string, 8),
		rateNotes: make(chan string, 8),
	}
}

func (l *recordingListener) LoadingStarted(handle string) {
	l.loading <- handle
}

func (l *recordingListener) DataReady(handle string, _ *domain.RemarkSummary) {
	l.ready <- handle
}

func (l *recordingListener) GaveUp(handle string) {
	l.gaveUp <- handle
}

func (l *recordingListener) RateLimitNotice(_ string, tip string) {
	l.rateNotes <- tip
}

func awaitSignal(t *testing.T, ch chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func newTestService(t *testing.T, steps []sourceStep, opts ...Option) (*Service, *scriptedSource, *annotmemory.CacheStore, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	store := annotmemory.NewCacheStore()
	store.WithClock(mock.Now)
	gate := ratelimit.NewGate().WithClock(mock)
	source := &scriptedSource{clk: mock, gate: gate, steps: steps, called: make(chan struct{}, 16)}
	svc := NewService(store, source, gate, append([]Option{WithClock(mock)}, opts...)...)
	return svc, source, store, mock
}

func summaryFor(handle string) *domain.RemarkSummary {
	return &domain.RemarkSummary{
		Handle:     handle,
		WindowDays: 90,
		SampleSize: 5,
		Categories: []domain.CategoryCount{{Name: "praise", Count: 5}},
	}
}

func TestService_ResolveServesCacheWithoutFetch(t *testing.T) {
	svc, source, store, _ := newTestService(t, nil)

	require.NoError(t, store.Put(context.Background(), "alice", summaryFor("alice")))

	got, err := svc.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, summaryFor("alice"), got)
	require.Zero(t, source.callCount(), "a fresh cache entry must not trigger a fetch")
}

func TestService_ResolveNormalizesHandle(t *testing.T) {
	svc, source, store, _ := newTestService(t, nil)

	require.NoError(t, store.Put(context.Background(), "alice", summaryFor("alice")))

	got, err := svc.Resolve(context.Background(), "  alice  ")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Handle)
	require.Zero(t, source.callCount())
}

func TestService_EmptyHandleRejected(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "   ")
	require.ErrorIs(t, err, domain.ErrEmptyHandle)

	_, err = svc.Discover(ctx, "")
	require.ErrorIs(t, err, domain.ErrEmptyHandle)

	_, err = svc.Status(ctx, "\t")
	require.ErrorIs(t, err, domain.ErrEmptyHandle)

	require.ErrorIs(t, svc.RetryNow(ctx, ""), domain.ErrEmptyHandle)
}

func TestService_ThrottledSubjectWaitsOutPauses(t *testing.T) {
	listener := newRecordingListener()
	throttled := domain.ThrottledError(errors.New("429 Too Many Requests"))
	svc, source, store, mock := newTestService(t, []sourceStep{
		{err: throttled, pause: 30 * time.Second},
		{err: throttled, pause: 30 * time.Second},
		{summary: summaryFor("bob")},
	}, WithListener(listener))

	start := mock.Now()
	type outcome struct {
		summary *domain.RemarkSummary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		summary, err := svc.Resolve(context.Background(), "bob")
		done <- outcome{summary, err}
	}()

	awaitCall(t, source)
	tip := awaitSignal(t, listener.rateNotes, "rate limit notice")
	require.Contains(t, tip, "paused until")
	time.Sleep(settle)
	mock.Add(30 * time.Second)

	awaitCall(t, source)
	time.Sleep(settle)
	mock.Add(30 * time.Second)

	awaitCall(t, source)

	var result outcome
	select {
	case result = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolve to finish")
	}
	require.NoError(t, result.err)
	require.Equal(t, summaryFor("bob"), result.summary)

	calls := source.callTimes()
	require.Len(t, calls, 3, "exactly one fetch per pause window")
	require.Equal(t, time.Duration(0), calls[0].Sub(start))
	require.Equal(t, 30*time.Second, calls[1].Sub(start), "a 30s pause must beat the 2s backoff")
	require.Equal(t, 60*time.Second, calls[2].Sub(start))

	cached, err := store.Get(context.Background(), "bob", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, cached, "success must populate the cache")

	again, err := svc.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, summaryFor("bob"), again)
	require.Equal(t, 3, source.callCount(), "the follow-up read must come from cache")
}

func TestService_ExhaustedSubjectReportsUnavailable(t *testing.T) {
	listener := newRecordingListener()
	failure := domain.ProtocolError(errors.New("boom"))
	svc, source, _, mock := newTestService(t, []sourceStep{
		{err: failure},
		{err: failure},
		{summary: summaryFor("dave")},
	}, WithMaxRetries(1), WithListener(listener))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Resolve(context.Background(), "dave")
		done <- err
	}()

	awaitCall(t, source)
	time.Sleep(settle)
	mock.Add(2 * time.Second)
	awaitCall(t, source)

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolve to finish")
	}
	require.ErrorIs(t, err, domain.ErrUnavailable)
	require.Equal(t, "dave", awaitSignal(t, listener.gaveUp, "give-up notification"))

	status, err := svc.Status(context.Background(), "dave")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseGivenUp, status.Phase)
	require.True(t, status.CooldownUntil.After(mock.Now()))

	// A manual retry restarts the subject despite the cooldown.
	require.NoError(t, svc.RetryNow(context.Background(), "dave"))
	awaitCall(t, source)
	require.Equal(t, "dave", awaitSignal(t, listener.ready, "data ready"))
	require.Equal(t, 3, source.callCount())
}

func TestService_UpdateSettingsClearsCacheWhenChanged(t *testing.T) {
	svc, _, store, _ := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "alice", summaryFor("alice")))

	require.NoError(t, svc.UpdateSettings(ctx, domain.FetchParams{WindowDays: 30, SampleLimit: 100}))

	got, err := store.Get(ctx, "alice", time.Hour)
	require.NoError(t, err)
	require.Nil(t, got, "changed parameters must invalidate cached summaries")
	require.Equal(t, domain.FetchParams{WindowDays: 30, SampleLimit: 100}, svc.Settings(ctx))
}

func TestService_UpdateSettingsSameValuesKeepsCache(t *testing.T) {
	svc, _, store, _ := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "alice", summaryFor("alice")))

	require.NoError(t, svc.UpdateSettings(ctx, svc.Settings(ctx)))

	got, err := store.Get(ctx, "alice", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got, "re-applying identical parameters must not clear the cache")
}

func TestService_UpdateSettingsValidates(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, svc.UpdateSettings(ctx, domain.FetchParams{WindowDays: 0, SampleLimit: 5}), domain.ErrInvalidWindow)
	require.ErrorIs(t, svc.UpdateSettings(ctx, domain.FetchParams{WindowDays: 5, SampleLimit: 0}), domain.ErrInvalidSampleLimit)
}

func TestService_FetchUsesCurrentParams(t *testing.T) {
	svc, source, _, _ := newTestService(t, []sourceStep{
		{summary: summaryFor("carol")},
	})
	ctx := context.Background()

	require.NoError(t, svc.UpdateSettings(ctx, domain.FetchParams{WindowDays: 14, SampleLimit: 25}))

	_, err := svc.Resolve(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, domain.FetchParams{WindowDays: 14, SampleLimit: 25}, source.lastParams())
}

func TestService_ListenersFanOut(t *testing.T) {
	first := newRecordingListener()
	second := newRecordingListener()
	svc, _, _, _ := newTestService(t, []sourceStep{
		{summary: summaryFor("erin")},
	}, WithListener(first), WithListener(second))

	_, err := svc.Resolve(context.Background(), "erin")
	require.NoError(t, err)

	for _, l := range []*recordingListener{first, second} {
		require.Equal(t, "erin", awaitSignal(t, l.loading, "loading notification"))
		require.Equal(t, "erin", awaitSignal(t, l.ready, "data ready notification"))
	}
}

func TestService_RateLimitStatus(t *testing.T) {
	svc, source, _, mock := newTestService(t, nil)
	ctx := context.Background()

	status := svc.RateLimit(ctx)
	require.False(t, status.Paused)
	require.Empty(t, status.Tip)

	source.gate.NotePauseUntil(mock.Now().Add(45 * time.Second))

	status = svc.RateLimit(ctx)
	require.True(t, status.Paused)
	require.Equal(t, mock.Now().Add(45*time.Second), status.PausedUntil)
	require.Contains(t, status.Tip, "paused until")

	svc.ClearRateLimit(ctx)
	require.False(t, svc.RateLimit(ctx).Paused)
}

func TestService_StatusLifecycle(t *testing.T) {
	release := make(chan struct{})
	svc, source, _, _ := newTestService(t, []sourceStep{
		{summary: summaryFor("frank"), block: release},
	})
	ctx := context.Background()

	status, err := svc.Status(ctx, "frank")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseIdle, status.Phase)

	discovered, err := svc.Discover(ctx, "frank")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseLoading, discovered.Phase)

	awaitCall(t, source)
	limits := svc.RateLimit(ctx)
	require.Equal(t, 1, limits.ActiveSubjects)
	require.Equal(t, 1, limits.InFlightFetches)

	close(release)

	require.Eventually(t, func() bool {
		status, err := svc.Status(ctx, "frank")
		return err == nil && status.Phase == domain.PhaseReady
	}, 2*time.Second, 10*time.Millisecond, "the subject must become ready once the fetch returns")

	status, err = svc.Status(ctx, "frank")
	require.NoError(t, err)
	require.NotNil(t, status.Summary)
}

func TestService_PurgeCache(t *testing.T) {
	svc, _, store, _ := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "alice", summaryFor("alice")))
	require.NoError(t, store.Put(ctx, "bob", summaryFor("bob")))

	require.NoError(t, svc.PurgeCache(ctx))

	for _, handle := range []string{"alice", "bob"} {
		got, err := store.Get(ctx, handle, time.Hour)
		require.NoError(t, err)
		require.Nil(t, got)
	}
}
