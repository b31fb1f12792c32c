package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultMaxRetries is the retry count callers use when they have no
// configured value. TransportConfig does not apply it: zero means no retries.
const DefaultMaxRetries = 3

// TransportConfig configures the retrying transport.
type TransportConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// RateLimit is the maximum requests per second.
	RateLimit float64
	BurstSize int
	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retries.
	MaxRetries int
	// RetryDelay is the first backoff, doubled on every further attempt when
	// the server sends no Retry-After.
	RetryDelay time.Duration
	// MaxRetryDelay caps both the backoff and a server sent Retry-After.
	MaxRetryDelay time.Duration
	UserAgent    string
	APIKey       string
	APIKeyHeader string
}

func (c *TransportConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 50
	}
	if c.BurstSize == 0 {
		c.BurstSize = 50
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	if c.UserAgent == "" {
		c.UserAgent = "data-repository-client/1.0"
	}
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = "X-API-Key"
	}
}

// Transport sends requests with rate limiting and retries on 429 and 5xx.
// It is safe for concurrent use.
type Transport struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      TransportConfig
	wait        func(ctx context.Context, delay time.Duration) error
}

// NewTransport creates a Transport. Zero config fields take defaults.
func NewTransport(cfg TransportConfig) *Transport {
	cfg.applyDefaults()
	return &Transport{
		client:      &http.Client{Timeout: cfg.Timeout},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
		wait:        waitForRetry,
	}
}

// Do sends req. Retryable statuses are retried up to MaxRetries times; once
// retries are exhausted the last response is returned for the caller to
// translate. Requests with a body must have GetBody set to be retried.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	if t.config.APIKey != "" && t.config.APIKeyHeader != "" {
		req.Header.Set(t.config.APIKeyHeader, t.config.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		if err := t.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == t.config.MaxRetries {
				break
			}
			if err := t.prepareRetry(req, t.backoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if !shouldRetry(resp.StatusCode) || attempt == t.config.MaxRetries {
			return resp, nil
		}

		delay := t.retryDelay(resp, attempt)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err := t.prepareRetry(req, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (t *Transport) prepareRetry(req *http.Request, delay time.Duration) error {
	if err := t.wait(req.Context(), delay); err != nil {
		return err
	}
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot retry request: %w", err)
	}
	req.Body = body
	return nil
}

func shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600 && statusCode != http.StatusNotImplemented
}

// backoff returns RetryDelay doubled once per previous attempt, capped at
// MaxRetryDelay.
func (t *Transport) backoff(attempt int) time.Duration {
	delay := t.config.RetryDelay
	for i := 0; i < attempt && delay < t.config.MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, t.config.MaxRetryDelay)
}

// retryDelay honours Retry-After given either as seconds or as an HTTP date,
// capped at MaxRetryDelay. Without one it falls back to backoff.
func (t *Transport) retryDelay(resp *http.Response, attempt int) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return t.backoff(attempt)
	}
	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return t.capDelay(seconds, time.Second)
		}
		return t.backoff(attempt)
	}
	if at, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(at); delay > 0 {
			return min(delay, t.config.MaxRetryDelay)
		}
	}
	return t.backoff(attempt)
}

// capDelay multiplies n by unit without overflowing past MaxRetryDelay.
func (t *Transport) capDelay(n int64, unit time.Duration) time.Duration {
	if n >= int64(t.config.MaxRetryDelay/unit)+1 {
		return t.config.MaxRetryDelay
	}
	return min(time.Duration(n)*unit, t.config.MaxRetryDelay)
}

func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
