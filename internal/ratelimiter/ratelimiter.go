// Package ratelimiter throttles how fast a single connection may submit
// request frames.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket. The transfer task of a connection takes one
// token before reading each frame, so a client that sends faster than the
// configured rate is slowed down by TCP backpressure instead of being
// rejected.
//
// A zero value rate means unlimited; every call then succeeds immediately.
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond sustained with bursts of
// up to burst requests. A zero burst defaults to twice the rate.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond * 2
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter never throttles.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Allow takes a token if one is available without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Reserve takes a token and returns how long the caller has to wait before
// using it. Callers that cannot block on a context, like the transfer loop
// which must also watch its stop channel, sleep on the returned delay.
func (r *RateLimiter) Reserve() time.Duration {
	return r.limiter.Reserve().Delay()
}

// SetLimit changes the sustained rate. Zero removes the limit. A burst that
// was following the default ratio follows the new rate.
func (r *RateLimiter) SetLimit(requestsPerSecond uint) {
	if requestsPerSecond == 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}

	old := r.limiter.Limit()
	r.limiter.SetLimit(rate.Limit(requestsPerSecond))

	if old == rate.Inf || r.limiter.Burst() == int(old)*2 {
		r.limiter.SetBurst(int(requestsPerSecond * 2))
	}
}

// Tokens returns the number of tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
