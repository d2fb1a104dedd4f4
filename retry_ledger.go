package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRetryMax    = 3
	defaultRetryTTL    = 30 * time.Minute
	defaultRetryPrefix = "afr"
)

// RetryLedger tracks consecutive OAuth failures per provider. Counters are
// session-scoped Redis keys bounded by a TTL; they exist to stop hopeless
// retry loops, not as durable bookkeeping. The ledger is the flow engine's
// only failure counter and the engine is its sole writer.
type RetryLedger struct {
	redis  redis.UniversalClient
	prefix string
	max    int
	ttl    time.Duration
}

// NewRetryLedger creates a ledger backed by the given Redis client.
// Zero-value fields in cfg fall back to defaults (3 attempts / 30m).
func NewRetryLedger(redisClient redis.UniversalClient, cfg RetryConfig) *RetryLedger {
	max := cfg.MaxRetries
	if max <= 0 {
		max = defaultRetryMax
	}
	ttl := cfg.CounterTTL
	if ttl <= 0 {
		ttl = defaultRetryTTL
	}
	prefix := cfg.RedisPrefix
	if prefix == "" {
		prefix = defaultRetryPrefix
	}
	return &RetryLedger{redis: redisClient, prefix: prefix, max: max, ttl: ttl}
}

// MaxRetries reports the configured cap.
func (l *RetryLedger) MaxRetries() int {
	return l.max
}

func (l *RetryLedger) key(provider string) string {
	return l.prefix + ":" + provider
}

// State reads the current counter without mutating it. A missing counter
// reads as zero attempts.
func (l *RetryLedger) State(ctx context.Context, provider string) (RetryState, error) {
	count, err := l.redis.Get(ctx, l.key(provider)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RetryState{Provider: provider}, nil
		}
		return RetryState{}, fmt.Errorf("%w: %v", ErrRetryUnavailable, err)
	}
	if count > int64(l.max) {
		count = int64(l.max)
	}
	return RetryState{
		Provider:  provider,
		Attempts:  int(count),
		Exhausted: count >= int64(l.max),
	}, nil
}

// Increment records one failure for the provider. Incrementing an exhausted
// counter is a no-op that returns the unchanged exhausted state; the
// observed attempt count never exceeds the cap.
func (l *RetryLedger) Increment(ctx context.Context, provider string) (RetryState, error) {
	state, err := l.State(ctx, provider)
	if err != nil {
		return RetryState{}, err
	}
	if state.Exhausted {
		return state, nil
	}

	count, err := l.redis.Incr(ctx, l.key(provider)).Result()
	if err != nil {
		return RetryState{}, fmt.Errorf("%w: %v", ErrRetryUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(provider), l.ttl).Err(); err != nil {
			return RetryState{}, fmt.Errorf("%w: %v", ErrRetryUnavailable, err)
		}
	}
	if count > int64(l.max) {
		count = int64(l.max)
	}
	return RetryState{
		Provider:  provider,
		Attempts:  int(count),
		Exhausted: count >= int64(l.max),
	}, nil
}

// Reset clears the provider's counter. Called on any success.
func (l *RetryLedger) Reset(ctx context.Context, provider string) error {
	if err := l.redis.Del(ctx, l.key(provider)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRetryUnavailable, err)
	}
	return nil
}

// Exhausted reports whether the provider's counter reached the cap.
func (l *RetryLedger) Exhausted(ctx context.Context, provider string) (bool, error) {
	state, err := l.State(ctx, provider)
	if err != nil {
		return false, err
	}
	return state.Exhausted, nil
}

func (s RetryState) remaining(max int) int {
	left := max - s.Attempts
	if left < 0 {
		return 0
	}
	return left
}
