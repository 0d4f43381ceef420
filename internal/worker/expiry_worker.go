package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
	"golang.org/x/sync/errgroup"
)

const (
	// UnscoredGrace keeps the sweep away from submissions still being scored.
	UnscoredGrace = time.Minute
	sweepParallel = 8
)

// AttemptLister finds attempts the sweep has to act on.
type AttemptLister interface {
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListUnscored(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

// Finalizer closes overdue attempts and repairs unscored ones.
type Finalizer interface {
	AutoSubmit(ctx context.Context, attemptID uuid.UUID) (*model.SubmitResult, error)
	Repair(ctx context.Context, attemptID uuid.UUID) error
}

// ExpiryWorker periodically auto-submits overdue attempts and re-scores
// finished attempts left without a result.
type ExpiryWorker struct {
	attempts  AttemptLister
	finalizer Finalizer
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(attempts AttemptLister, finalizer Finalizer, interval time.Duration, batchSize int, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		attempts:  attempts,
		finalizer: finalizer,
		interval:  interval,
		batchSize: batchSize,
		log:       log.With().Str("component", "expiry_worker").Logger(),
		now:       time.Now,
	}
}

// SweepStats reports what one sweep did.
type SweepStats struct {
	Expired  int
	Repaired int
	Failed   int
}

func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runSweep(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *ExpiryWorker) runSweep(ctx context.Context) {
	stats, err := w.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("Sweep failed")
		return
	}
	if stats.Expired+stats.Repaired+stats.Failed > 0 {
		w.log.Info().
			Int("expired", stats.Expired).
			Int("repaired", stats.Repaired).
			Int("failed", stats.Failed).
			Msg("Sweep completed")
	}
}

// Sweep runs one pass. Losing a race to a candidate's own submit is not a failure.
func (w *ExpiryWorker) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := w.now()

	overdue, err := w.attempts.ListOverdue(ctx, now, w.batchSize)
	if err != nil {
		return stats, err
	}
	expired, failed := w.each(ctx, overdue, func(ctx context.Context, id uuid.UUID) error {
		_, err := w.finalizer.AutoSubmit(ctx, id)
		if errors.Is(err, service.ErrAttemptNotEditable) || errors.Is(err, service.ErrSubmitInProgress) {
			return errSkipped
		}
		return err
	})
	stats.Expired, stats.Failed = expired, failed

	unscored, err := w.attempts.ListUnscored(ctx, now.Add(-UnscoredGrace), w.batchSize)
	if err != nil {
		return stats, err
	}
	repaired, failed := w.each(ctx, unscored, w.finalizer.Repair)
	stats.Repaired = repaired
	stats.Failed += failed

	return stats, nil
}

var errSkipped = errors.New("skipped")

// each runs fn over ids with bounded parallelism and counts outcomes.
func (w *ExpiryWorker) each(ctx context.Context, ids []uuid.UUID, fn func(context.Context, uuid.UUID) error) (ok, failed int) {
	if len(ids) == 0 {
		return 0, 0
	}

	results := make([]error, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallel)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = fn(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errSkipped):
		default:
			failed++
			w.log.Warn().Err(err).Str("attempt_id", ids[i].String()).Msg("Sweep action failed")
		}
	}
	return ok, failed
}
