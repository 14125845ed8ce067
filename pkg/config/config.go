package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all agent configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	API      APIConfig      `mapstructure:"api"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Push     PushConfig     `mapstructure:"push"`
	Store    StoreConfig    `mapstructure:"store"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds the local status HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// APIConfig holds REST API client settings
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RevalidateTimeout bounds the background token-validity check
	RevalidateTimeout time.Duration `mapstructure:"revalidate_timeout"`
	// RevalidateInterval is how often the agent re-checks the token
	RevalidateInterval time.Duration `mapstructure:"revalidate_interval"`
}

// RealtimeConfig holds delivery channel settings
type RealtimeConfig struct {
	URL               string        `mapstructure:"url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
}

// PushConfig holds push-provider settings
type PushConfig struct {
	AppID   string        `mapstructure:"app_id"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// SyncDebounce suppresses redundant identity upserts fired close together
	SyncDebounce time.Duration `mapstructure:"sync_debounce"`
}

// StoreConfig holds persistent key-value store settings
type StoreConfig struct {
	// Backend is "file" or "redis"
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`

	RedisHost     string        `mapstructure:"redis_host"`
	RedisPort     int           `mapstructure:"redis_port"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTimeout  time.Duration `mapstructure:"redis_timeout"`
}

// RedisAddr returns the Redis address
func (s *StoreConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", s.RedisHost, s.RedisPort)
}

// TrackerConfig holds location tracker settings
type TrackerConfig struct {
	ForegroundInterval time.Duration `mapstructure:"foreground_interval"`
	ForegroundFastest  time.Duration `mapstructure:"foreground_fastest"`
	ForegroundFilter   float64       `mapstructure:"foreground_filter"` // meters
	DegradedInterval   time.Duration `mapstructure:"degraded_interval"`
	DegradedFilter     float64       `mapstructure:"degraded_filter"` // meters
	BackgroundPeriod   time.Duration `mapstructure:"background_period"`
	BackgroundTimeout  time.Duration `mapstructure:"background_timeout"`
	BackgroundMaxAge   time.Duration `mapstructure:"background_max_age"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	return LoadWithPath(".env")
}

// LoadWithPath loads configuration from a specific env file path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	// .env is optional, env vars may carry everything
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// keep going: the file may simply not exist in production
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "koleso-courier-agent")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Status server defaults
	v.SetDefault("SERVER_HOST", "127.0.0.1")
	v.SetDefault("SERVER_PORT", 8090)

	// API defaults
	v.SetDefault("API_BASE_URL", "https://api.koleso.app/api/v1")
	v.SetDefault("API_REQUEST_TIMEOUT", "15s")
	v.SetDefault("API_REVALIDATE_TIMEOUT", "10s")
	v.SetDefault("API_REVALIDATE_INTERVAL", "15m")

	// Realtime defaults
	v.SetDefault("REALTIME_URL", "wss://api.koleso.app/ws/delivery")
	v.SetDefault("REALTIME_HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("REALTIME_RECONNECT_BASE", "5s")
	v.SetDefault("REALTIME_MAX_RECONNECTS", 10)

	// Push defaults
	v.SetDefault("PUSH_APP_ID", "")
	v.SetDefault("PUSH_BASE_URL", "https://api.onesignal.com")
	v.SetDefault("PUSH_TIMEOUT", "10s")
	v.SetDefault("PUSH_SYNC_DEBOUNCE", "2s")

	// Store defaults
	v.SetDefault("STORE_BACKEND", "file")
	v.SetDefault("STORE_PATH", "agent-state.json")
	v.SetDefault("STORE_REDIS_HOST", "localhost")
	v.SetDefault("STORE_REDIS_PORT", 6379)
	v.SetDefault("STORE_REDIS_PASSWORD", "")
	v.SetDefault("STORE_REDIS_DB", 0)
	v.SetDefault("STORE_REDIS_TIMEOUT", "3s")

	// Tracker defaults
	v.SetDefault("TRACKER_FOREGROUND_INTERVAL", "10s")
	v.SetDefault("TRACKER_FOREGROUND_FASTEST", "5s")
	v.SetDefault("TRACKER_FOREGROUND_FILTER", 30.0)
	v.SetDefault("TRACKER_DEGRADED_INTERVAL", "30s")
	v.SetDefault("TRACKER_DEGRADED_FILTER", 100.0)
	v.SetDefault("TRACKER_BACKGROUND_PERIOD", "60s")
	v.SetDefault("TRACKER_BACKGROUND_TIMEOUT", "30s")
	v.SetDefault("TRACKER_BACKGROUND_MAX_AGE", "30s")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")

	// API
	cfg.API.BaseURL = v.GetString("API_BASE_URL")
	cfg.API.RequestTimeout = v.GetDuration("API_REQUEST_TIMEOUT")
	cfg.API.RevalidateTimeout = v.GetDuration("API_REVALIDATE_TIMEOUT")
	cfg.API.RevalidateInterval = v.GetDuration("API_REVALIDATE_INTERVAL")

	// Realtime
	cfg.Realtime.URL = v.GetString("REALTIME_URL")
	cfg.Realtime.HeartbeatInterval = v.GetDuration("REALTIME_HEARTBEAT_INTERVAL")
	cfg.Realtime.ReconnectBase = v.GetDuration("REALTIME_RECONNECT_BASE")
	cfg.Realtime.MaxReconnects = v.GetInt("REALTIME_MAX_RECONNECTS")

	// Push
	cfg.Push.AppID = v.GetString("PUSH_APP_ID")
	cfg.Push.BaseURL = v.GetString("PUSH_BASE_URL")
	cfg.Push.Timeout = v.GetDuration("PUSH_TIMEOUT")
	cfg.Push.SyncDebounce = v.GetDuration("PUSH_SYNC_DEBOUNCE")

	// Store
	cfg.Store.Backend = v.GetString("STORE_BACKEND")
	cfg.Store.Path = v.GetString("STORE_PATH")
	cfg.Store.RedisHost = v.GetString("STORE_REDIS_HOST")
	cfg.Store.RedisPort = v.GetInt("STORE_REDIS_PORT")
	cfg.Store.RedisPassword = v.GetString("STORE_REDIS_PASSWORD")
	cfg.Store.RedisDB = v.GetInt("STORE_REDIS_DB")
	cfg.Store.RedisTimeout = v.GetDuration("STORE_REDIS_TIMEOUT")

	// Tracker
	cfg.Tracker.ForegroundInterval = v.GetDuration("TRACKER_FOREGROUND_INTERVAL")
	cfg.Tracker.ForegroundFastest = v.GetDuration("TRACKER_FOREGROUND_FASTEST")
	cfg.Tracker.ForegroundFilter = v.GetFloat64("TRACKER_FOREGROUND_FILTER")
	cfg.Tracker.DegradedInterval = v.GetDuration("TRACKER_DEGRADED_INTERVAL")
	cfg.Tracker.DegradedFilter = v.GetFloat64("TRACKER_DEGRADED_FILTER")
	cfg.Tracker.BackgroundPeriod = v.GetDuration("TRACKER_BACKGROUND_PERIOD")
	cfg.Tracker.BackgroundTimeout = v.GetDuration("TRACKER_BACKGROUND_TIMEOUT")
	cfg.Tracker.BackgroundMaxAge = v.GetDuration("TRACKER_BACKGROUND_MAX_AGE")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}

	if c.Realtime.URL == "" {
		return fmt.Errorf("realtime URL is required")
	}

	switch c.Store.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.Realtime.MaxReconnects <= 0 {
		return fmt.Errorf("invalid max reconnects: %d", c.Realtime.MaxReconnects)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
