package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/data-repository-service/internal/cache/memory"
)

func TestNew_Memory(t *testing.T) {
	for _, backend := range []string{"", "memory", "MEMORY"} {
		c, err := New(context.Background(), Config{Backend: backend, DefaultTTL: time.Minute})
		require.NoError(t, err)
		assert.IsType(t, &memory.Cache{}, c)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "memcached"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestNew_RedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := New(ctx, Config{Backend: "redis", RedisAddr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}
