package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/realtime"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
)

type watchSession struct {
	id      WatchID
	opts    WatchOptions
	onFix   func(domain.LocationSample)
	onError func(error)
	cleared bool
}

type fakeGeo struct {
	mu       sync.Mutex
	nextID   WatchID
	sessions []*watchSession
	watchErr error
	current  domain.LocationSample
	curErr   error
	polls    int
}

func (g *fakeGeo) WatchPosition(onFix func(domain.LocationSample), onError func(error), opts WatchOptions) (WatchID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watchErr != nil {
		err := g.watchErr
		g.watchErr = nil
		return 0, err
	}
	g.nextID++
	s := &watchSession{id: g.nextID, opts: opts, onFix: onFix, onError: onError}
	g.sessions = append(g.sessions, s)
	return s.id, nil
}

func (g *fakeGeo) ClearWatch(id WatchID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.sessions {
		if s.id == id {
			s.cleared = true
		}
	}
}

func (g *fakeGeo) GetCurrentPosition(_ context.Context, _ WatchOptions) (domain.LocationSample, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	return g.current, g.curErr
}

func (g *fakeGeo) active() *watchSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.sessions) - 1; i >= 0; i-- {
		if !g.sessions[i].cleared {
			return g.sessions[i]
		}
	}
	return nil
}

func (g *fakeGeo) sessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *fakeGeo) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}

type fakeLifecycle struct {
	mu      sync.Mutex
	fn      func(AppState)
	cancels int
}

func (l *fakeLifecycle) OnAppStateChange(fn func(AppState)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fn = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.cancels++
		l.fn = nil
	}
}

func (l *fakeLifecycle) emit(state AppState) {
	l.mu.Lock()
	fn := l.fn
	l.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) realtime.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// fire runs the most recently scheduled pending timer
func (s *fakeScheduler) fire() {
	s.mu.Lock()
	var t *fakeTimer
	for i := len(s.timers) - 1; i >= 0; i-- {
		if !s.timers[i].stopped {
			t = s.timers[i]
			t.stopped = true
			break
		}
	}
	s.mu.Unlock()
	if t != nil {
		t.fn()
	}
}

type sinkRecorder struct {
	mu      sync.Mutex
	samples []domain.LocationSample
}

func (r *sinkRecorder) record(s domain.LocationSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func newTestTracker(t *testing.T) (*Tracker, *fakeGeo, *fakeLifecycle, *fakeScheduler, *sinkRecorder) {
	t.Helper()
	geo := &fakeGeo{}
	lc := &fakeLifecycle{}
	sched := &fakeScheduler{}
	tr := New(Config{}, geo, lc, sched, logger.NewNop())
	t.Cleanup(tr.Stop)
	return tr, geo, lc, sched, &sinkRecorder{}
}

func sample(lat, lon float64) domain.LocationSample {
	return domain.LocationSample{Latitude: lat, Longitude: lon, Timestamp: time.Now()}
}

func TestStart_ForegroundWatch(t *testing.T) {
	tr, geo, _, _, rec := newTestTracker(t)
	tr.Start(rec.record)

	assert.Equal(t, ModeForeground, tr.Mode())
	w := geo.active()
	require.NotNil(t, w)
	assert.True(t, w.opts.EnableHighAccuracy)
	assert.Equal(t, float64(30), w.opts.DistanceFilter)
	assert.Equal(t, 10*time.Second, w.opts.Interval)
	assert.Equal(t, 5*time.Second, w.opts.FastestInterval)

	w.onFix(sample(55.75, 37.61))
	assert.Equal(t, 1, rec.count())
}

func TestStart_SecondCallIsNoop(t *testing.T) {
	tr, geo, _, _, rec := newTestTracker(t)
	tr.Start(rec.record)
	tr.Start(rec.record)
	assert.Equal(t, 1, geo.sessionCount())
}

func TestWatchError_DegradesOnce(t *testing.T) {
	tr, geo, _, _, rec := newTestTracker(t)
	tr.Start(rec.record)

	first := geo.active()
	require.NotNil(t, first)
	first.onError(errors.New("gps unavailable"))

	assert.Equal(t, ModeDegraded, tr.Mode())
	second := geo.active()
	require.NotNil(t, second)
	assert.NotEqual(t, first.id, second.id)
	assert.False(t, second.opts.EnableHighAccuracy)
	assert.Equal(t, float64(100), second.opts.DistanceFilter)
	assert.Equal(t, 30*time.Second, second.opts.Interval)

	// fixes keep flowing through the fallback watch
	second.onFix(sample(55.75, 37.61))
	assert.Equal(t, 1, rec.count())

	// no further fallback below degraded
	second.onError(errors.New("still broken"))
	assert.Equal(t, ModeDegraded, tr.Mode())
	assert.Equal(t, 2, geo.sessionCount())
}

func TestWatchError_StaleCallbackIgnored(t *testing.T) {
	tr, geo, _, _, rec := newTestTracker(t)
	tr.Start(rec.record)
	w := geo.active()
	require.NotNil(t, w)

	tr.Stop()
	w.onError(errors.New("late error"))
	assert.Equal(t, ModeStopped, tr.Mode())
	w.onFix(sample(1, 2))
	assert.Zero(t, rec.count())
}

func TestBackground_SwitchesToPolling(t *testing.T) {
	tr, geo, lc, sched, rec := newTestTracker(t)
	geo.current = sample(55.75, 37.61)
	tr.Start(rec.record)
	watch := geo.active()
	require.NotNil(t, watch)

	lc.emit(AppStateBackground)
	assert.Equal(t, ModeBackground, tr.Mode())
	assert.True(t, watch.cleared)

	// entering background polls immediately, then on the fixed period
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return geo.pollCount() == 1 }, time.Second, 5*time.Millisecond)

	sched.fire()
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBackground_PollFailureIsSilent(t *testing.T) {
	tr, geo, lc, _, rec := newTestTracker(t)
	geo.curErr = errors.New("no fix")
	tr.Start(rec.record)

	lc.emit(AppStateBackground)
	require.Eventually(t, func() bool { return geo.pollCount() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.count())
	assert.Equal(t, ModeBackground, tr.Mode())
}

func TestForeground_ResumesHighAccuracy(t *testing.T) {
	tr, geo, lc, _, rec := newTestTracker(t)
	tr.Start(rec.record)

	lc.emit(AppStateBackground)
	require.Equal(t, ModeBackground, tr.Mode())

	lc.emit(AppStateActive)
	assert.Equal(t, ModeForeground, tr.Mode())
	w := geo.active()
	require.NotNil(t, w)
	assert.True(t, w.opts.EnableHighAccuracy, "a fresh watch session starts in foreground mode")

	w.onFix(sample(55.75, 37.61))
	assert.Equal(t, 1, rec.count())
}

func TestActiveWhileForeground_IsNoop(t *testing.T) {
	tr, geo, lc, _, rec := newTestTracker(t)
	tr.Start(rec.record)
	lc.emit(AppStateActive)
	assert.Equal(t, 1, geo.sessionCount())
}

func TestStop_Idempotent(t *testing.T) {
	tr, geo, lc, _, rec := newTestTracker(t)
	tr.Stop() // never started

	tr.Start(rec.record)
	w := geo.active()
	require.NotNil(t, w)

	tr.Stop()
	assert.Equal(t, ModeStopped, tr.Mode())
	assert.False(t, tr.Running())
	assert.True(t, w.cleared)
	assert.Equal(t, 1, lc.cancels)

	tr.Stop()
	assert.Equal(t, 1, lc.cancels)
}

func TestStop_CancelsBackgroundPoll(t *testing.T) {
	tr, geo, lc, sched, rec := newTestTracker(t)
	geo.current = sample(55.75, 37.61)
	tr.Start(rec.record)
	lc.emit(AppStateBackground)
	require.Eventually(t, func() bool { return geo.pollCount() == 1 }, time.Second, 5*time.Millisecond)

	tr.Stop()
	got := rec.count()
	sched.fire()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, got, rec.count(), "no samples after stop")
}
