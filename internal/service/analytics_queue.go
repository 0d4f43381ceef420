package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempts/internal/config"
)

// AnalyticsQueue hands scored attempts to the analytics counter worker.
type AnalyticsQueue interface {
	Enqueue(ctx context.Context, attemptID uuid.UUID) error
}

// RedisAnalyticsQueue pushes attempt ids onto apply_analytics_queue.
type RedisAnalyticsQueue struct {
	rdb *redis.Client
}

// NewRedisAnalyticsQueue creates a new RedisAnalyticsQueue.
func NewRedisAnalyticsQueue(rdb *redis.Client) *RedisAnalyticsQueue {
	return &RedisAnalyticsQueue{rdb: rdb}
}

// Enqueue appends the attempt id to the queue.
func (q *RedisAnalyticsQueue) Enqueue(ctx context.Context, attemptID uuid.UUID) error {
	return q.rdb.RPush(ctx, config.WorkerKey.ApplyAnalyticsQueue, attemptID.String()).Err()
}
