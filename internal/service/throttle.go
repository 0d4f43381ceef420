package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempts/internal/config"
)

// RedemptionLimiter throttles repeated failed PIN guesses per caller.
type RedemptionLimiter interface {
	Allow(ctx context.Context, examID uuid.UUID, caller string) (bool, error)
	RecordFailure(ctx context.Context, examID uuid.UUID, caller string) error
}

// RedisRedemptionThrottle counts failures in a Redis key that expires window
// after the first failure. Successful redemptions do not reset the counter.
type RedisRedemptionThrottle struct {
	rdb         *redis.Client
	maxFailures int
	window      time.Duration
}

// NewRedisRedemptionThrottle creates a new RedisRedemptionThrottle.
func NewRedisRedemptionThrottle(rdb *redis.Client, maxFailures int, window time.Duration) *RedisRedemptionThrottle {
	return &RedisRedemptionThrottle{rdb: rdb, maxFailures: maxFailures, window: window}
}

// Allow reports whether caller is still under the failure limit.
func (t *RedisRedemptionThrottle) Allow(ctx context.Context, examID uuid.UUID, caller string) (bool, error) {
	if t.maxFailures <= 0 {
		return true, nil
	}
	n, err := t.rdb.Get(ctx, config.CacheKey.PinFailuresKey(examID.String(), caller)).Int()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get pin failures: %w", err)
	}
	return n < t.maxFailures, nil
}

// RecordFailure increments the caller's failure counter.
func (t *RedisRedemptionThrottle) RecordFailure(ctx context.Context, examID uuid.UUID, caller string) error {
	key := config.CacheKey.PinFailuresKey(examID.String(), caller)
	n, err := t.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("incr pin failures: %w", err)
	}
	if n == 1 {
		if err := t.rdb.Expire(ctx, key, t.window).Err(); err != nil {
			return fmt.Errorf("expire pin failures: %w", err)
		}
	}
	return nil
}
