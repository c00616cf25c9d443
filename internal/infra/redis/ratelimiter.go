package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/taskflow/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 10
	defaultMaxWait           = 5 * time.Second
	minPoll                  = 5 * time.Millisecond
	maxPoll                  = 50 * time.Millisecond
	windowSeconds            = 1
	keyNamespace             = "taskflow:rl:"
)

// allowScript counts hits in the current one-second window and lets the
// key expire with it.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps outbound calls per endpoint key across every worker
// process. Windows are fixed one-second buckets keyed by unix time.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	maxWait     time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRedisRateLimiter builds a limiter allowing limitPerSec calls per key.
// Wait gives up with ratelimit.ErrWaitExceeded after maxWait so a hot
// endpoint cannot hold a delivery slot past its send timeout.
func NewRedisRateLimiter(client *goredis.Client, limitPerSec int, maxWait time.Duration) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), maxWait, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	maxWait time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		maxWait:     maxWait,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false, fmt.Errorf("rate limit key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	bucket := fmt.Sprintf("%s%s:%d", keyNamespace, key, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{bucket}, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit for %q: %w", key, err)
	}

	return result == 1, nil
}

// Wait blocks until key has budget in some window, polling towards the
// start of the next window.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	deadline := r.now().Add(r.maxWait)
	for {
		allowed, err := r.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		now := r.now()
		if !now.Before(deadline) {
			return fmt.Errorf("%w: key %q throttled for %s", ratelimit.ErrWaitExceeded, key, r.maxWait)
		}
		if err := r.sleep(ctx, untilNextWindow(now)); err != nil {
			return err
		}
	}
}

func untilNextWindow(now time.Time) time.Duration {
	next := now.Truncate(time.Second).Add(time.Second)
	d := next.Sub(now)
	if d < minPoll {
		return minPoll
	}
	if d > maxPoll {
		return maxPoll
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
