// Package tracker turns raw geolocation fixes into a continuous courier
// location stream, adapting its sampling strategy to app lifecycle state.
package tracker

import (
	"context"
	"time"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
)

// WatchID identifies one continuous position watch
type WatchID int64

// WatchOptions tune a watch or a one-shot position request
type WatchOptions struct {
	EnableHighAccuracy bool
	// DistanceFilter is the minimum movement in meters between fixes
	DistanceFilter float64
	// Interval is the target update period; FastestInterval bounds bursts
	Interval        time.Duration
	FastestInterval time.Duration
	// Timeout and MaximumAge apply to one-shot requests
	Timeout    time.Duration
	MaximumAge time.Duration
}

// Geolocator is the positioning capability consumed by the tracker.
// Callbacks may fire on arbitrary goroutines.
type Geolocator interface {
	// WatchPosition starts a continuous watch. onError reports a failed
	// watch session, not a transient bad fix.
	WatchPosition(onFix func(domain.LocationSample), onError func(error), opts WatchOptions) (WatchID, error)
	// ClearWatch stops a watch; unknown ids are ignored.
	ClearWatch(id WatchID)
	// GetCurrentPosition resolves a single fix within opts.Timeout,
	// reusing a cached fix no older than opts.MaximumAge.
	GetCurrentPosition(ctx context.Context, opts WatchOptions) (domain.LocationSample, error)
}

// AppState is the coarse OS lifecycle state the tracker reacts to
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
)

// Lifecycle delivers app foreground/background transitions
type Lifecycle interface {
	// OnAppStateChange registers a callback; the returned func deregisters it.
	OnAppStateChange(fn func(state AppState)) (cancel func())
}
