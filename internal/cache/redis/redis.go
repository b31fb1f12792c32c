// Package redis implements a shared byte cache on go-redis.
package redis

import (
	"context"
	"errors"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Config configures the Redis connection.
type Config struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
}

// Cache is a byte cache stored in Redis.
type Cache struct {
	c          *rdb.Client
	prefix     string
	defaultTTL time.Duration
}

// New creates a Redis cache. The connection is established lazily.
func New(cfg Config) *Cache {
	return &Cache{
		c: rdb.NewClient(&rdb.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix:     cfg.Prefix,
		defaultTTL: cfg.DefaultTTL,
	}
}

func (r *Cache) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Cache) Get(ctx context.Context, k string) ([]byte, bool) {
	b, err := r.c.Get(ctx, r.key(k)).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *Cache) Set(ctx context.Context, k string, v []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	return r.c.Set(ctx, r.key(k), v, ttl).Err()
}

func (r *Cache) Delete(ctx context.Context, k string) error {
	err := r.c.Del(ctx, r.key(k)).Err()
	if errors.Is(err, rdb.Nil) {
		return nil
	}
	return err
}

func (r *Cache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Cache) Close() error {
	return r.c.Close()
}
