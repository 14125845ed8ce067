package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/auth"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/di"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/kvstore"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/config"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting courier agent...")

	ctx := context.Background()

	// Initialize the persistent store
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Store initialization failed: %v", err))
	}
	defer closeStore()
	appLog.Info(fmt.Sprintf("Store ready (backend: %s)", cfg.Store.Backend))

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		Config: cfg,
		Store:  store,
		Logger: appLog,
	})
	defer container.Close()

	// Rehydrate the session; courier wiring reacts to state changes
	container.Session.OnChange(courierWiring(container))
	if err := container.Session.LoadAuthState(ctx); err != nil {
		appLog.Warn(fmt.Sprintf("Auth state load failed: %v", err))
	}

	// Periodic advisory token check
	revalidateCtx, stopRevalidate := context.WithCancel(ctx)
	defer stopRevalidate()
	go revalidateLoop(revalidateCtx, container.Session, cfg.API.RevalidateInterval)

	// Setup Gin
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	container.StatusHandler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Status server listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	appLog.Info("Agent exited gracefully")
}

// buildStore selects the configured store backend
func buildStore(ctx context.Context, cfg *config.Config) (kvstore.Store, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		r, err := kvstore.NewRedis(ctx, &kvstore.RedisConfig{
			Addr:     cfg.Store.RedisAddr(),
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   "koleso:agent",
			Timeout:  cfg.Store.RedisTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	default:
		f, err := kvstore.NewFile(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	}
}

// courierWiring connects the delivery channel and tracker to the courier
// role: channel up while a courier is logged in, tracker feeding every
// subscribed order.
func courierWiring(c *di.Container) func(auth.Snapshot) {
	log := logger.Get()
	var mu sync.Mutex
	var active bool
	return func(snap auth.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case snap.IsLoggedIn && snap.IsCourier && !active:
			active = true
			log.Info("courier session active, opening delivery channel")
			if err := c.Channel.Connect(context.Background()); err != nil {
				log.Warn(fmt.Sprintf("Delivery channel connect failed: %v", err))
			}
			c.Tracker.Start(func(sample domain.LocationSample) {
				for _, orderID := range c.Channel.Subscriptions() {
					c.Channel.SendCourierLocation(orderID, sample)
				}
			})
		case (!snap.IsLoggedIn || !snap.IsCourier) && active:
			active = false
			log.Info("courier session ended, tearing down delivery channel")
			c.Tracker.Stop()
			c.Channel.Disconnect()
		}
	}
}

// revalidateLoop periodically re-checks the token. Advisory only; the
// manager ignores transport failures.
func revalidateLoop(ctx context.Context, session *auth.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = session.Revalidate(ctx)
		}
	}
}
