package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// CandidateRepository handles candidate data access.
type CandidateRepository struct {
	pool *pgxpool.Pool
}

// NewCandidateRepository creates a new CandidateRepository.
func NewCandidateRepository(pool *pgxpool.Pool) *CandidateRepository {
	return &CandidateRepository{pool: pool}
}

// Upsert inserts the candidate. An existing external_id is reused and its
// name refreshed; NULL identifiers never conflict, so name-only candidates are
// always new rows.
func (r *CandidateRepository) Upsert(ctx context.Context, c *model.Candidate) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO candidates (id, name, external_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (external_id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, created_at`,
		c.ID, c.Name, c.ExternalID, c.CreatedAt,
	).Scan(&c.ID, &c.CreatedAt)
}
