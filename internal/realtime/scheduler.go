package realtime

import "time"

// Timer is a cancelable scheduled task handle
type Timer interface {
	// Stop cancels the task; reports whether it was still pending.
	Stop() bool
}

// Scheduler abstracts timer creation so the reconnect and heartbeat
// policies are testable without real timers.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Clock abstracts wall-clock reads
type Clock interface {
	Now() time.Time
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// NewScheduler returns the time-based Scheduler
func NewScheduler() Scheduler { return realScheduler{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewClock returns the wall-clock Clock
func NewClock() Clock { return realClock{} }
