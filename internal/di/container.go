// Package di wires the agent's components together.
package di

import (
	"github.com/google/uuid"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/api"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/auth"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/handler"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/kvstore"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/push"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/realtime"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/tracker"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/config"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
)

// Container holds all dependencies for the courier agent
type Container struct {
	// Infrastructure
	Store    kvstore.Store
	API      *api.Client
	Provider push.Provider

	// Core components
	Session *auth.Manager
	Channel *realtime.Channel
	Tracker *tracker.Tracker

	// Handlers
	StatusHandler *handler.StatusHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config *config.Config
	Store  kvstore.Store
	// Geolocator and Lifecycle are platform capabilities supplied by the
	// embedding build; nil leaves the tracker constructible but inert.
	Geolocator tracker.Geolocator
	Lifecycle  tracker.Lifecycle
	Logger     *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	conf := cfg.Config
	log := cfg.Logger

	c := &Container{Store: cfg.Store}

	// the device id must exist before the push provider is built
	deviceID, ok := c.Store.GetString(kvstore.KeyDeviceID)
	if !ok || deviceID == "" {
		deviceID = uuid.NewString()
		c.Store.SetString(kvstore.KeyDeviceID, deviceID)
	}

	c.API = api.NewClient(&api.Config{
		BaseURL:        conf.API.BaseURL,
		RequestTimeout: conf.API.RequestTimeout,
	}, log)

	if conf.Push.AppID != "" {
		c.Provider = push.NewOneSignal(&push.OneSignalConfig{
			AppID:    conf.Push.AppID,
			BaseURL:  conf.Push.BaseURL,
			Timeout:  conf.Push.Timeout,
			DeviceID: deviceID,
		}, log)
	}

	c.Session = auth.NewManager(&auth.Config{
		RevalidateTimeout: conf.API.RevalidateTimeout,
		SyncDebounce:      conf.Push.SyncDebounce,
		Platform:          "android",
		AppVersion:        conf.App.Version,
	}, c.API, c.Provider, c.Store, log)

	c.Channel = realtime.NewChannel(&realtime.Config{
		URL:               conf.Realtime.URL,
		HeartbeatInterval: conf.Realtime.HeartbeatInterval,
		ReconnectBase:     conf.Realtime.ReconnectBase,
		MaxReconnects:     conf.Realtime.MaxReconnects,
	}, realtime.NewWebSocketTransport(), realtime.NewScheduler(), c.Session, log)

	c.Tracker = tracker.New(tracker.Config{
		ForegroundFilter:   conf.Tracker.ForegroundFilter,
		ForegroundInterval: conf.Tracker.ForegroundInterval,
		ForegroundFastest:  conf.Tracker.ForegroundFastest,
		DegradedFilter:     conf.Tracker.DegradedFilter,
		DegradedInterval:   conf.Tracker.DegradedInterval,
		BackgroundPoll:     conf.Tracker.BackgroundPeriod,
		BackgroundTimeout:  conf.Tracker.BackgroundTimeout,
		BackgroundMaxAge:   conf.Tracker.BackgroundMaxAge,
	}, cfg.Geolocator, cfg.Lifecycle, realtime.NewScheduler(), log)

	c.StatusHandler = handler.NewStatusHandler(c.Session, c.Channel, c.Tracker, conf.App.Version)

	return c
}

// Close releases component resources
func (c *Container) Close() {
	c.Tracker.Stop()
	c.Channel.Disconnect()
	c.Session.Close()
}
