package auth

import (
	"errors"
	"fmt"
	"time"
)

// Errors surfaced to callers. None of them carry detail about which check failed.
var (
	ErrRateLimited         = errors.New("rate limited")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUnauthorized        = errors.New("unauthorized")
)

// RateLimitError reports a throttled request together with the time left in
// the current window. errors.Is(err, ErrRateLimited) holds for it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds())
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds up to whole seconds, never below one.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
