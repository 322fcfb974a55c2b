// Package ratelimit implements fixed-window request counters keyed by
// requester identity (phone number, IP).
//
// The first request for a key opens a window of the configured length. Every
// call inside the window increments the counter; once the counter exceeds the
// limit the call is refused until the window closes. Windows are reset lazily
// by the next request after expiry.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is the time left in the current window when Allowed is false.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config is shared by all limiter implementations.
type Config struct {
	Limit  int
	Window time.Duration
	// IdleTTL bounds how long an untouched key is kept in memory.
	IdleTTL time.Duration
}
