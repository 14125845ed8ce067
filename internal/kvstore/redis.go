package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis store configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, so several agents can share one instance
	Prefix  string
	Timeout time.Duration

	// Connect retry
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultRedisConfig returns default Redis store configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:          "localhost:6379",
		Prefix:        "koleso:agent",
		Timeout:       3 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Second,
	}
}

// Redis is a Store backed by a Redis hash-per-type layout. The Store
// interface is synchronous; each call uses a short internal timeout.
type Redis struct {
	client *redis.Client
	cfg    *RedisConfig
}

// NewRedis connects to Redis with ping-on-connect retry
func NewRedis(ctx context.Context, cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return &Redis{client: client, cfg: cfg}, nil
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, lastErr)
}

// Close releases the underlying connection pool
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(kind, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.cfg.Prefix, kind, key)
}

func (r *Redis) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.Timeout)
}

func (r *Redis) GetString(key string) (string, bool) {
	ctx, cancel := r.ctx()
	defer cancel()
	v, err := r.client.Get(ctx, r.key("s", key)).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (r *Redis) SetString(key, value string) {
	ctx, cancel := r.ctx()
	defer cancel()
	_ = r.client.Set(ctx, r.key("s", key), value, 0).Err()
}

func (r *Redis) GetBool(key string) (bool, bool) {
	ctx, cancel := r.ctx()
	defer cancel()
	v, err := r.client.Get(ctx, r.key("b", key)).Result()
	if err != nil {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func (r *Redis) SetBool(key string, value bool) {
	ctx, cancel := r.ctx()
	defer cancel()
	_ = r.client.Set(ctx, r.key("b", key), strconv.FormatBool(value), 0).Err()
}

func (r *Redis) GetInt64(key string) (int64, bool) {
	ctx, cancel := r.ctx()
	defer cancel()
	v, err := r.client.Get(ctx, r.key("i", key)).Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (r *Redis) SetInt64(key string, value int64) {
	ctx, cancel := r.ctx()
	defer cancel()
	_ = r.client.Set(ctx, r.key("i", key), value, 0).Err()
}

func (r *Redis) Delete(key string) {
	ctx, cancel := r.ctx()
	defer cancel()
	_ = r.client.Del(ctx, r.key("s", key), r.key("b", key), r.key("i", key)).Err()
}

func (r *Redis) Contains(key string) bool {
	ctx, cancel := r.ctx()
	defer cancel()
	n, err := r.client.Exists(ctx, r.key("s", key), r.key("b", key), r.key("i", key)).Result()
	return err == nil && n > 0
}
