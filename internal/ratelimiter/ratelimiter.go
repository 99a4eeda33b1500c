// Package ratelimiter gates admission of control-socket requests. Admission
// uses a token bucket: sustained throughput is capped at the configured rate
// while short bursts up to the bucket capacity pass untouched. Over-limit
// requests are rejected immediately, never queued.
package ratelimiter

import "golang.org/x/time/rate"

// unlimited stands in for "no limit configured"; rate.Inf interacts badly
// with a finite burst, so an absurdly high finite rate is used instead.
const unlimited = 1 << 30

// RateLimiter is a token-bucket admission gate. Safe for concurrent use.
type RateLimiter struct {
	bucket *rate.Limiter
}

// New creates a limiter admitting requestsPerSecond sustained, with bursts
// of up to burst requests on a full bucket. A requestsPerSecond of zero
// disables limiting entirely.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = unlimited
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether one more request may be admitted now, consuming a
// token when it may. It never blocks.
func (r *RateLimiter) Allow() bool {
	return r.bucket.Allow()
}
