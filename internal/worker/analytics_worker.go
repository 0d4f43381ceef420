package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/service"
)

const (
	AnalyticsBatchSize    = 50
	AnalyticsBatchTimeout = 2 * time.Second
	AnalyticsPollTimeout  = 1 * time.Second
)

// AnalyticsApplier adds one scored attempt to the rolling question counters.
type AnalyticsApplier interface {
	ApplyAttempt(ctx context.Context, attemptID uuid.UUID) (bool, error)
}

// AnalyticsWorker drains the analytics queue filled by winning submissions.
type AnalyticsWorker struct {
	rdb     *redis.Client
	applier AnalyticsApplier
	log     zerolog.Logger
}

// NewAnalyticsWorker creates a new AnalyticsWorker.
func NewAnalyticsWorker(rdb *redis.Client, applier AnalyticsApplier, log zerolog.Logger) *AnalyticsWorker {
	return &AnalyticsWorker{
		rdb:     rdb,
		applier: applier,
		log:     log.With().Str("component", "analytics_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *AnalyticsWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AnalyticsWorker started")

	batch := make([]uuid.UUID, 0, AnalyticsBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= AnalyticsBatchSize || time.Since(lastFlush) >= AnalyticsBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, AnalyticsPollTimeout, config.WorkerKey.ApplyAnalyticsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			id, err := uuid.Parse(item[1])
			if err != nil {
				w.log.Error().Err(err).Str("payload", item[1]).Msg("Invalid attempt id in queue")
				continue
			}

			batch = append(batch, id)
		}
	}
}

// ----------------------------------------------------------------
// Apply with requeue on failure
// ----------------------------------------------------------------

func (w *AnalyticsWorker) flushSafe(ctx context.Context, batch []uuid.UUID) {
	if len(batch) == 0 {
		return
	}

	var failed []uuid.UUID
	applied := 0
	for _, id := range batch {
		ok, err := w.applier.ApplyAttempt(ctx, id)
		switch {
		case errors.Is(err, service.ErrAttemptNotSubmitted):
			// No result yet; the expiry sweep re-enqueues it after repair.
			w.log.Warn().Str("attempt_id", id.String()).Msg("Attempt has no result, dropping")
		case err != nil:
			w.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Apply analytics failed, requeueing")
			failed = append(failed, id)
		case ok:
			applied++
		}
	}

	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}

	w.log.Debug().Int("batch", len(batch)).Int("applied", applied).Int("failed", len(failed)).Msg("Analytics batch flushed")
}

func (w *AnalyticsWorker) requeue(ctx context.Context, ids []uuid.UUID) {
	pipe := w.rdb.Pipeline()
	for _, id := range ids {
		pipe.RPush(ctx, config.WorkerKey.ApplyAnalyticsQueue, id.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(ids)).Msg("Requeue failed")
	}
}
