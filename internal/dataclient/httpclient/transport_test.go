package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastTransport(cfg TransportConfig) *Transport {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.BurstSize = 100
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewTransport(cfg)
}

func TestNewTransport_Defaults(t *testing.T) {
	tr := NewTransport(TransportConfig{})

	assert.Equal(t, 30*time.Second, tr.client.Timeout)
	assert.Equal(t, 0, tr.config.MaxRetries)
	assert.Equal(t, time.Second, tr.config.RetryDelay)
	assert.Equal(t, 30*time.Second, tr.config.MaxRetryDelay)
	assert.Equal(t, "data-repository-client/1.0", tr.config.UserAgent)
	assert.Equal(t, float64(50), tr.config.RateLimit)
}

func TestTransport_SetsHeaders(t *testing.T) {
	var ua, key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		key = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := fastTransport(TransportConfig{UserAgent: "repoctl/test", APIKey: "s3cret", APIKeyHeader: "X-API-Key"})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := tr.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "repoctl/test", ua)
	assert.Equal(t, "s3cret", key)
}

func TestTransport_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	var (
		mu     sync.Mutex
		bodies []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tr := fastTransport(TransportConfig{MaxRetries: 3})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	resp, err := tr.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`, `{"a":1}`}, bodies)
}

func TestTransport_ReturnsLastResponseWhenRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"draining"}`))
	}))
	defer server.Close()

	tr := fastTransport(TransportConfig{MaxRetries: 2})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := tr.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"draining"}`, string(body))
}

func TestTransport_DoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	tr := fastTransport(TransportConfig{MaxRetries: 3})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := tr.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestTransport_ContextCanceledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := fastTransport(TransportConfig{MaxRetries: 1})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = tr.Do(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransport_RetryDelay(t *testing.T) {
	tr := fastTransport(TransportConfig{RetryDelay: 2 * time.Second, MaxRetryDelay: 20 * time.Second})
	resp := func(v string) *http.Response {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return &http.Response{Header: h}
	}

	assert.Equal(t, 2*time.Second, tr.retryDelay(resp(""), 0))
	assert.Equal(t, 8*time.Second, tr.retryDelay(resp(""), 2))
	assert.Equal(t, 7*time.Second, tr.retryDelay(resp("7"), 0))
	assert.Equal(t, 4*time.Second, tr.retryDelay(resp("0"), 1))
	assert.Equal(t, 2*time.Second, tr.retryDelay(resp("soon"), 0))

	t.Run("retry-after is capped", func(t *testing.T) {
		assert.Equal(t, 20*time.Second, tr.retryDelay(resp("86400"), 0))
		assert.Equal(t, 20*time.Second, tr.retryDelay(resp("9223372036854775807"), 0))

		future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
		assert.Equal(t, 20*time.Second, tr.retryDelay(resp(future), 0))
	})

	t.Run("http date within the cap", func(t *testing.T) {
		future := time.Now().Add(15 * time.Second).UTC().Format(http.TimeFormat)
		d := tr.retryDelay(resp(future), 0)
		assert.Greater(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 15*time.Second)
	})
}

func TestTransport_Backoff(t *testing.T) {
	tr := fastTransport(TransportConfig{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: time.Second})

	assert.Equal(t, 100*time.Millisecond, tr.backoff(0))
	assert.Equal(t, 200*time.Millisecond, tr.backoff(1))
	assert.Equal(t, 400*time.Millisecond, tr.backoff(2))
	assert.Equal(t, 800*time.Millisecond, tr.backoff(3))
	assert.Equal(t, time.Second, tr.backoff(4))
	assert.Equal(t, time.Second, tr.backoff(1000))
}

func TestTransport_BackoffGrowsBetweenAttempts(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := fastTransport(TransportConfig{MaxRetries: 4, RetryDelay: 10 * time.Millisecond, MaxRetryDelay: 50 * time.Millisecond})
	var waits []time.Duration
	tr.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := tr.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(5), attempts.Load())
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
	}, waits)
}

func TestTransport_ZeroMaxRetriesDisablesRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := fastTransport(TransportConfig{MaxRetries: 0})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := tr.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(http.StatusTooManyRequests))
	assert.True(t, shouldRetry(http.StatusInternalServerError))
	assert.True(t, shouldRetry(http.StatusGatewayTimeout))
	assert.False(t, shouldRetry(http.StatusNotImplemented))
	assert.False(t, shouldRetry(http.StatusConflict))
	assert.False(t, shouldRetry(http.StatusOK))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.SetRate(1000)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rl.Wait(ctx))
	assert.LessOrEqual(t, rl.Tokens(), float64(2))
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, rl.Wait(ctx))
}
