package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// IntegrityRepository appends integrity events and keeps the attempt tally.
type IntegrityRepository struct {
	pool *pgxpool.Pool
}

// NewIntegrityRepository creates a new IntegrityRepository.
func NewIntegrityRepository(pool *pgxpool.Pool) *IntegrityRepository {
	return &IntegrityRepository{pool: pool}
}

// Append copies the events in and updates the tally in the same transaction.
func (r *IntegrityRepository) Append(ctx context.Context, attemptID uuid.UUID, events []model.IntegrityEvent, deduction, threshold int) (*model.IntegrityTally, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(events))
	for i, e := range events {
		var meta []byte
		if len(e.Metadata) > 0 {
			meta = e.Metadata
		}
		rows[i] = []any{e.AttemptID, e.Type, string(e.Severity), e.OccurredAt, e.ReceivedAt, meta}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"integrity_events"},
		[]string{"attempt_id", "event_type", "severity", "occurred_at", "received_at", "metadata"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return nil, fmt.Errorf("copy events: %w", err)
	}

	tally := &model.IntegrityTally{}
	var review string
	err = tx.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET integrity_deduction = integrity_deduction + $2,
		     integrity_events_count = integrity_events_count + $3,
		     integrity_score = GREATEST(0, LEAST(100, 100 - (integrity_deduction + $2))),
		     metadata = CASE
		         WHEN GREATEST(0, LEAST(100, 100 - (integrity_deduction + $2))) < $4
		              AND COALESCE(metadata->>'reviewStatus', '') = ''
		         THEN jsonb_set(metadata, '{reviewStatus}', '"needs_review"')
		         ELSE metadata
		     END
		 WHERE id = $1
		 RETURNING integrity_score, integrity_events_count, COALESCE(metadata->>'reviewStatus', '')`,
		attemptID, deduction, len(events), threshold,
	).Scan(&tally.IntegrityScore, &tally.IntegrityEventsCount, &review)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update tally: %w", err)
	}
	tally.ReviewStatus = model.ReviewStatus(review)

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return tally, nil
}
