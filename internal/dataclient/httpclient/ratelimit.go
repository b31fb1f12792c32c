package httpclient

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket limiting calls to the remote service.
// The underlying rate.Limiter is goroutine-safe.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing ratePerSecond sustained calls and bursts of burst.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a call is allowed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a call may happen now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// SetRate changes the sustained rate, for example after the server answers 429.
func (r *RateLimiter) SetRate(ratePerSecond float64) {
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
}

// Tokens returns the number of tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
