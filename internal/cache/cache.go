// Package cache provides byte-oriented caching with in-process and Redis backends.
//
// Backends:
//   - memory: github.com/patrickmn/go-cache, for single instances and tests
//   - redis: github.com/redis/go-redis/v9, shared between instances
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/helixir/data-repository-service/internal/cache/memory"
	"github.com/helixir/data-repository-service/internal/cache/redis"
)

// Cache is a byte cache with per-entry TTL. A zero ttl uses the backend default.
type Cache interface {
	// Get returns the cached value and whether it was found. Backend failures are
	// reported as misses.
	Get(ctx context.Context, key string) ([]byte, bool)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures a cache backend.
type Config struct {
	Backend    string
	DefaultTTL time.Duration
	Prefix     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New creates a cache for cfg.Backend. An empty backend selects memory.
func New(ctx context.Context, cfg Config) (Cache, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory, "":
		return memory.New(cfg.DefaultTTL, cfg.Prefix), nil
	case BackendRedis:
		c := redis.New(redis.Config{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Prefix:     cfg.Prefix,
			DefaultTTL: cfg.DefaultTTL,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Ping(pingCtx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("cache: redis ping failed: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
