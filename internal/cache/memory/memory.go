// Package memory implements an in-process byte cache on go-cache.
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const cleanupInterval = time.Minute

// Cache is an in-process byte cache.
type Cache struct {
	c      *gocache.Cache
	prefix string
}

// New creates a cache whose entries expire after defaultTTL unless Set is given a ttl.
// A non-positive defaultTTL disables expiry.
func New(defaultTTL time.Duration, prefix string) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &Cache{c: gocache.New(defaultTTL, cleanupInterval), prefix: prefix}
}

func (m *Cache) key(k string) string {
	if m.prefix == "" {
		return k
	}
	return m.prefix + ":" + k
}

func (m *Cache) Get(_ context.Context, k string) ([]byte, bool) {
	v, ok := m.c.Get(m.key(k))
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (m *Cache) Set(_ context.Context, k string, v []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(m.key(k), v, ttl)
	return nil
}

func (m *Cache) Delete(_ context.Context, k string) error {
	m.c.Delete(m.key(k))
	return nil
}

func (m *Cache) Ping(context.Context) error { return nil }

// Close drops every entry.
func (m *Cache) Close() error {
	m.c.Flush()
	return nil
}

// Len returns the number of entries, including expired ones not yet cleaned up.
func (m *Cache) Len() int { return m.c.ItemCount() }
