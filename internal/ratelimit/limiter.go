package ratelimit

import (
	"context"
	"errors"
)

// ErrWaitExceeded is returned by Wait when a key stays throttled longer
// than the limiter is willing to block.
var ErrWaitExceeded = errors.New("rate limit wait exceeded")

// RateLimiter throttles work per key, e.g. one outbound webhook endpoint.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Noop never throttles. Used when no limiter is configured.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }

func (Noop) Wait(context.Context, string) error { return nil }
