package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// PinRepository handles PIN batch, PIN and allow-list data access.
type PinRepository struct {
	pool *pgxpool.Pool
}

// NewPinRepository creates a new PinRepository.
func NewPinRepository(pool *pgxpool.Pool) *PinRepository {
	return &PinRepository{pool: pool}
}

const pinColumns = `id, exam_id, batch_id, pin_hash, hint, status, max_uses, uses_count, expires_at, allow_list_enabled, created_at`

func scanPin(row pgx.Row) (*model.Pin, error) {
	p := &model.Pin{}
	err := row.Scan(&p.ID, &p.ExamID, &p.BatchID, &p.PinHash, &p.Hint, &p.Status,
		&p.MaxUses, &p.UsesCount, &p.ExpiresAt, &p.AllowListEnabled, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateBatch inserts the batch row and bulk-copies its PINs in one transaction.
func (r *PinRepository) CreateBatch(ctx context.Context, batch *model.PinBatch, pins []model.Pin) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO pin_batches (id, exam_id, prefix, length, charset, quantity, max_uses, expires_at, allow_list_enabled, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		batch.ID, batch.ExamID, batch.Prefix, batch.Length, batch.Charset, batch.Quantity,
		batch.MaxUses, batch.ExpiresAt, batch.AllowListEnabled, batch.CreatedBy, batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"pins"},
		[]string{"id", "exam_id", "batch_id", "pin_hash", "hint", "status", "max_uses", "uses_count", "expires_at", "allow_list_enabled", "created_at"},
		pgx.CopyFromSlice(len(pins), func(i int) ([]any, error) {
			p := pins[i]
			return []any{p.ID, p.ExamID, p.BatchID, p.PinHash, p.Hint, string(p.Status), p.MaxUses, 0, p.ExpiresAt, p.AllowListEnabled, p.CreatedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy pins: %w", err)
	}

	return tx.Commit(ctx)
}

// ExistingHashes returns the subset of hashes already used by the exam.
func (r *PinRepository) ExistingHashes(ctx context.Context, examID uuid.UUID, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(hashes) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT pin_hash FROM pins WHERE exam_id = $1 AND pin_hash = ANY($2)`,
		examID, hashes,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[h] = true
	}
	return out, rows.Err()
}

// FindByHash looks up a PIN of the exam by its keyed hash.
func (r *PinRepository) FindByHash(ctx context.Context, examID uuid.UUID, hash string) (*model.Pin, error) {
	return scanPin(r.pool.QueryRow(ctx,
		`SELECT `+pinColumns+` FROM pins WHERE exam_id = $1 AND pin_hash = $2`,
		examID, hash,
	))
}

// GetPin retrieves a PIN by ID.
func (r *PinRepository) GetPin(ctx context.Context, pinID uuid.UUID) (*model.Pin, error) {
	return scanPin(r.pool.QueryRow(ctx, `SELECT `+pinColumns+` FROM pins WHERE id = $1`, pinID))
}

// IsAllowListed reports whether identifier may redeem the PIN.
func (r *PinRepository) IsAllowListed(ctx context.Context, pinID uuid.UUID, identifier string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pin_allow_list WHERE pin_id = $1 AND candidate_identifier = $2)`,
		pinID, identifier,
	).Scan(&ok)
	return ok, err
}

// IncrementUse spends one use in a single guarded UPDATE. Two racing callers
// for the last use cannot both match the uses_count < max_uses predicate.
func (r *PinRepository) IncrementUse(ctx context.Context, pinID uuid.UUID, now time.Time) (int, bool, error) {
	var uses int
	err := r.pool.QueryRow(ctx,
		`UPDATE pins
		 SET uses_count = uses_count + 1
		 WHERE id = $1
		   AND status = 'active'
		   AND uses_count < max_uses
		   AND (expires_at IS NULL OR expires_at > $2)
		 RETURNING uses_count`,
		pinID, now,
	).Scan(&uses)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uses, true, nil
}

// ReleaseUse gives back a use taken by IncrementUse.
func (r *PinRepository) ReleaseUse(ctx context.Context, pinID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE pins SET uses_count = uses_count - 1 WHERE id = $1 AND uses_count > 0`,
		pinID,
	)
	return err
}

// RevokeBatch revokes every active PIN of the batch.
func (r *PinRepository) RevokeBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pin_batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, model.ErrNotFound
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE pins SET status = 'revoked' WHERE batch_id = $1 AND status = 'active'`,
		batchID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AddAllowList inserts identifiers, ignoring ones already listed.
func (r *PinRepository) AddAllowList(ctx context.Context, pinID uuid.UUID, identifiers []string) (int64, error) {
	if len(identifiers) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO pin_allow_list (pin_id, candidate_identifier)
		 SELECT $1, ident FROM UNNEST($2::text[]) AS ident
		 ON CONFLICT (pin_id, candidate_identifier) DO NOTHING`,
		pinID, identifiers,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByExam returns the number of PINs the exam holds.
func (r *PinRepository) CountByExam(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pins WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}
