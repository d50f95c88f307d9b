// Package ratelimit limits how often a client may invoke methods.
package ratelimit

import (
	"context"
	"time"
)

// Result contains the result of a rate limit check
type Result struct {
	// Allowed indicates whether the request is allowed
	Allowed bool

	// Remaining is the number of requests remaining in the current window
	Remaining int

	// RetryAfter is the time after which the client should retry (if rate limited)
	RetryAfter time.Duration

	// Limit is the maximum number of requests allowed in the window
	Limit int
}

// Limiter decides whether another request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
