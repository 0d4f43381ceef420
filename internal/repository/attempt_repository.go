package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// AttemptRepository handles exam attempt data access. Every status or cursor
// change is a single conditional UPDATE.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `a.id, a.exam_id, a.candidate_id, c.name, c.external_id, a.pin_id, a.status,
	a.started_at, a.expires_at, a.submitted_at, a.current_question_index,
	a.integrity_score, a.integrity_events_count, a.integrity_deduction,
	a.question_order, a.metadata`

func scanAttempt(row pgx.Row) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.CandidateID, &a.CandidateName, &a.CandidateIdentifier, &a.PinID, &a.Status,
		&a.StartedAt, &a.ExpiresAt, &a.SubmittedAt, &a.CurrentQuestionIndex,
		&a.IntegrityScore, &a.IntegrityEventsCount, &a.IntegrityDeduction,
		&a.QuestionOrder, &a.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func collectAttempts(rows pgx.Rows) ([]model.ExamAttempt, error) {
	defer rows.Close()
	var out []model.ExamAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Create inserts a new attempt. With a limit, a transaction-scoped advisory
// lock on (exam, candidate) serializes the count and the insert.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt, maxAttempts int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if maxAttempts > 0 {
		filter, value := candidateFilter(a.CandidateName, deref(a.CandidateIdentifier))
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			a.ExamID.String()+":"+filter+":"+value,
		); err != nil {
			return false, fmt.Errorf("lock candidate: %w", err)
		}

		var n int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM exam_attempts a JOIN candidates c ON c.id = a.candidate_id
			 WHERE a.exam_id = $1 AND `+filter,
			a.ExamID, value,
		).Scan(&n); err != nil {
			return false, fmt.Errorf("count attempts: %w", err)
		}
		if n >= maxAttempts {
			return false, nil
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO exam_attempts (id, exam_id, candidate_id, pin_id, status, started_at, expires_at,
		                            current_question_index, integrity_score, question_order, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ExamID, a.CandidateID, a.PinID, a.Status, a.StartedAt, a.ExpiresAt,
		a.CurrentQuestionIndex, a.IntegrityScore, a.QuestionOrder, a.Metadata,
	); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// candidateFilter matches by identifier when present, otherwise by lower-cased
// name. value binds to $2 of filter.
func candidateFilter(name, identifier string) (filter, value string) {
	if identifier != "" {
		return "c.external_id = $2", identifier
	}
	return "lower(c.name) = $2", strings.ToLower(name)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Get retrieves an attempt with its candidate identity.
func (r *AttemptRepository) Get(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM exam_attempts a JOIN candidates c ON c.id = a.candidate_id
		 WHERE a.id = $1`, id,
	))
}

// FindByIdentity returns every attempt of the exam matching the given name
// (case-insensitive) and/or identifier.
func (r *AttemptRepository) FindByIdentity(ctx context.Context, examID uuid.UUID, name, identifier string) ([]model.ExamAttempt, error) {
	query := `SELECT ` + attemptColumns + `
		 FROM exam_attempts a JOIN candidates c ON c.id = a.candidate_id
		 WHERE a.exam_id = $1`
	args := []any{examID}

	if name != "" {
		args = append(args, strings.ToLower(name))
		query += fmt.Sprintf(" AND lower(c.name) = $%d", len(args))
	}
	if identifier != "" {
		args = append(args, identifier)
		query += fmt.Sprintf(" AND c.external_id = $%d", len(args))
	}
	query += " ORDER BY a.started_at"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

// CountByCandidate counts the candidate's attempts at the exam.
func (r *AttemptRepository) CountByCandidate(ctx context.Context, examID uuid.UUID, name, identifier string) (int, error) {
	filter, value := candidateFilter(name, identifier)
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts a JOIN candidates c ON c.id = a.candidate_id
		 WHERE a.exam_id = $1 AND `+filter,
		examID, value,
	).Scan(&n)
	return n, err
}

// UpdateProgress moves the resume cursor of an editable attempt.
func (r *AttemptRepository) UpdateProgress(ctx context.Context, id uuid.UUID, index int, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET current_question_index = $2
		 WHERE id = $1 AND status = 'in_progress' AND expires_at > $3`,
		id, index, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Transition is the submission lock: a compare-and-swap on status.
func (r *AttemptRepository) Transition(ctx context.Context, id uuid.UUID, to model.AttemptStatus, now time.Time) (*model.ExamAttempt, bool, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE exam_attempts a
		 SET status = $2, submitted_at = $3
		 FROM candidates c
		 WHERE a.id = $1 AND a.status = 'in_progress' AND c.id = a.candidate_id
		 RETURNING `+attemptColumns,
		id, to, now,
	))
	if errors.Is(err, model.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// UpdateReview replaces the metadata if the review status is still one of from.
func (r *AttemptRepository) UpdateReview(ctx context.Context, id uuid.UUID, from []model.ReviewStatus, meta model.AttemptMetadata) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET metadata = $3
		 WHERE id = $1 AND COALESCE(metadata->>'reviewStatus', '') = ANY($2)`,
		id, states, meta,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOverdue returns in_progress attempts whose time has run out.
func (r *AttemptRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx,
		`SELECT id FROM exam_attempts
		 WHERE status = 'in_progress' AND expires_at <= $1
		 ORDER BY expires_at
		 LIMIT $2`, now, limit)
}

// ListUnscored returns finished attempts that never got a result.
func (r *AttemptRepository) ListUnscored(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx,
		`SELECT a.id FROM exam_attempts a
		 LEFT JOIN exam_results r ON r.attempt_id = a.id
		 WHERE a.status <> 'in_progress' AND r.attempt_id IS NULL AND a.submitted_at < $1
		 ORDER BY a.submitted_at
		 LIMIT $2`, olderThan, limit)
}

func (r *AttemptRepository) listIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByExam returns every attempt of the exam.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM exam_attempts a JOIN candidates c ON c.id = a.candidate_id
		 WHERE a.exam_id = $1
		 ORDER BY a.started_at`, examID,
	)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}
