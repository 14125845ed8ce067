package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/realtime"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
)

// Mode is the tracker's sampling strategy
type Mode string

const (
	ModeStopped Mode = "stopped"
	// ModeForeground is the high-accuracy continuous watch
	ModeForeground Mode = "foreground"
	// ModeDegraded is the low-accuracy fallback after a watch error.
	// Entered automatically, one-directional per watch session.
	ModeDegraded Mode = "degraded"
	// ModeBackground polls a single fix on a fixed period
	ModeBackground Mode = "background"
)

// Sink receives every accepted fix
type Sink func(sample domain.LocationSample)

// Config holds the per-mode sampling parameters
type Config struct {
	ForegroundFilter   float64
	ForegroundInterval time.Duration
	ForegroundFastest  time.Duration

	DegradedFilter   float64
	DegradedInterval time.Duration

	BackgroundPoll    time.Duration
	BackgroundTimeout time.Duration
	BackgroundMaxAge  time.Duration
}

func (c *Config) applyDefaults() {
	if c.ForegroundFilter <= 0 {
		c.ForegroundFilter = 30
	}
	if c.ForegroundInterval <= 0 {
		c.ForegroundInterval = 10 * time.Second
	}
	if c.ForegroundFastest <= 0 {
		c.ForegroundFastest = 5 * time.Second
	}
	if c.DegradedFilter <= 0 {
		c.DegradedFilter = 100
	}
	if c.DegradedInterval <= 0 {
		c.DegradedInterval = 30 * time.Second
	}
	if c.BackgroundPoll <= 0 {
		c.BackgroundPoll = 60 * time.Second
	}
	if c.BackgroundTimeout <= 0 {
		c.BackgroundTimeout = 30 * time.Second
	}
	if c.BackgroundMaxAge <= 0 {
		c.BackgroundMaxAge = 30 * time.Second
	}
}

// Tracker runs at most one watch session, feeding fixes to its sink.
// Geolocation errors degrade the mode instead of surfacing; the caller
// only observes them as an accuracy drop in later samples.
type Tracker struct {
	cfg       Config
	geo       Geolocator
	lifecycle Lifecycle
	sched     realtime.Scheduler
	log       *logger.Logger

	mu       sync.Mutex
	running  bool
	mode     Mode
	sink     Sink
	watchID  WatchID
	hasWatch bool
	poll     realtime.Timer
	unwatch  func()
	// gen invalidates callbacks from torn-down watch sessions
	gen uint64
}

// New creates a stopped tracker
func New(cfg Config, geo Geolocator, lifecycle Lifecycle, sched realtime.Scheduler, log *logger.Logger) *Tracker {
	cfg.applyDefaults()
	if sched == nil {
		sched = realtime.NewScheduler()
	}
	return &Tracker{
		cfg:       cfg,
		geo:       geo,
		lifecycle: lifecycle,
		sched:     sched,
		log:       log,
		mode:      ModeStopped,
	}
}

// Mode reports the current sampling mode
func (t *Tracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Running reports whether a watch session is active
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start begins a watch session in foreground mode. A second Start while
// running is a no-op.
func (t *Tracker) Start(sink Sink) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.log.Debug("tracker already running")
		return
	}
	t.running = true
	t.sink = sink
	t.gen++
	if t.lifecycle != nil {
		t.unwatch = t.lifecycle.OnAppStateChange(t.onAppState)
	}
	t.log.Info("tracker started")
	t.startForegroundLocked()
	t.mu.Unlock()
}

// Stop tears the session down. Safe to call when never started or
// already stopped.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.gen++
	t.running = false
	t.mode = ModeStopped
	t.clearWatchLocked()
	if t.poll != nil {
		t.poll.Stop()
		t.poll = nil
	}
	unwatch := t.unwatch
	t.unwatch = nil
	t.sink = nil
	t.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	t.log.Info("tracker stopped")
}

func (t *Tracker) clearWatchLocked() {
	if t.hasWatch {
		t.geo.ClearWatch(t.watchID)
		t.hasWatch = false
	}
}

// startForegroundLocked opens the high-accuracy watch. Caller holds mu.
func (t *Tracker) startForegroundLocked() {
	t.mode = ModeForeground
	gen := t.gen
	opts := WatchOptions{
		EnableHighAccuracy: true,
		DistanceFilter:     t.cfg.ForegroundFilter,
		Interval:           t.cfg.ForegroundInterval,
		FastestInterval:    t.cfg.ForegroundFastest,
	}
	id, err := t.geo.WatchPosition(
		func(s domain.LocationSample) { t.deliver(gen, s) },
		func(err error) { t.degrade(gen, err) },
		opts,
	)
	if err != nil {
		t.log.Warn("high-accuracy watch failed to open", zap.Error(err))
		t.degradeLocked(gen, err)
		return
	}
	t.watchID = id
	t.hasWatch = true
}

// degrade switches a failed foreground watch to the low-accuracy fallback
func (t *Tracker) degrade(gen uint64, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.degradeLocked(gen, cause)
}

func (t *Tracker) degradeLocked(gen uint64, cause error) {
	if gen != t.gen || t.mode != ModeForeground {
		return
	}
	t.log.Warn("degrading to low-accuracy watch", zap.Error(cause))
	t.clearWatchLocked()
	t.mode = ModeDegraded
	opts := WatchOptions{
		EnableHighAccuracy: false,
		DistanceFilter:     t.cfg.DegradedFilter,
		Interval:           t.cfg.DegradedInterval,
	}
	id, err := t.geo.WatchPosition(
		func(s domain.LocationSample) { t.deliver(gen, s) },
		func(err error) {
			// no further fallback below degraded
			t.log.Warn("degraded watch error", zap.Error(err))
		},
		opts,
	)
	if err != nil {
		t.log.Error("degraded watch failed to open", zap.Error(err))
		return
	}
	t.watchID = id
	t.hasWatch = true
}

// deliver forwards a fix to the sink unless the session it belongs to has
// been torn down.
func (t *Tracker) deliver(gen uint64, s domain.LocationSample) {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return
	}
	sink := t.sink
	t.mu.Unlock()

	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	sink(s)
}

// onAppState reacts to foreground/background transitions
func (t *Tracker) onAppState(state AppState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}

	switch state {
	case AppStateBackground:
		if t.mode == ModeBackground {
			return
		}
		t.log.Info("app backgrounded, switching to polling")
		t.gen++
		t.clearWatchLocked()
		t.mode = ModeBackground
		t.schedulePollLocked(t.gen)
		go t.pollOnce(t.gen)
	case AppStateActive:
		if t.mode != ModeBackground {
			return
		}
		t.log.Info("app foregrounded, resuming watch")
		t.gen++
		if t.poll != nil {
			t.poll.Stop()
			t.poll = nil
		}
		// a fresh session always begins in foreground mode
		t.startForegroundLocked()
	}
}

func (t *Tracker) schedulePollLocked(gen uint64) {
	t.poll = t.sched.AfterFunc(t.cfg.BackgroundPoll, func() {
		t.mu.Lock()
		if gen != t.gen || t.mode != ModeBackground {
			t.mu.Unlock()
			return
		}
		t.schedulePollLocked(gen)
		t.mu.Unlock()
		t.pollOnce(gen)
	})
}

// pollOnce resolves a single reduced-accuracy fix and delivers it
func (t *Tracker) pollOnce(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.BackgroundTimeout)
	defer cancel()

	s, err := t.geo.GetCurrentPosition(ctx, WatchOptions{
		EnableHighAccuracy: false,
		Timeout:            t.cfg.BackgroundTimeout,
		MaximumAge:         t.cfg.BackgroundMaxAge,
	})
	if err != nil {
		t.log.Warn("background position poll failed", zap.Error(err))
		return
	}
	t.deliver(gen, s)
}
