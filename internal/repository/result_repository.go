package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// ResultRepository handles exam results, one row per attempt.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

const resultColumns = `attempt_id, exam_id, correct_count, incorrect_count, answered_count, total_questions,
	percentage, grade_letter, passed, integrity_score, graded_at`

func scanResult(row pgx.Row) (*model.ExamResult, error) {
	res := &model.ExamResult{}
	err := row.Scan(&res.AttemptID, &res.ExamID, &res.CorrectCount, &res.IncorrectCount, &res.AnsweredCount,
		&res.TotalQuestions, &res.Percentage, &res.GradeLetter, &res.Passed, &res.IntegrityScore, &res.GradedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Upsert inserts or replaces the result. analytics_applied_at is left alone
// so a rescore never double counts.
func (r *ResultRepository) Upsert(ctx context.Context, res *model.ExamResult) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_results (`+resultColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (attempt_id) DO UPDATE
		 SET correct_count = EXCLUDED.correct_count,
		     incorrect_count = EXCLUDED.incorrect_count,
		     answered_count = EXCLUDED.answered_count,
		     total_questions = EXCLUDED.total_questions,
		     percentage = EXCLUDED.percentage,
		     grade_letter = EXCLUDED.grade_letter,
		     passed = EXCLUDED.passed,
		     integrity_score = EXCLUDED.integrity_score,
		     graded_at = EXCLUDED.graded_at`,
		res.AttemptID, res.ExamID, res.CorrectCount, res.IncorrectCount, res.AnsweredCount, res.TotalQuestions,
		res.Percentage, res.GradeLetter, res.Passed, res.IntegrityScore, res.GradedAt,
	)
	return err
}

// Get retrieves the result of an attempt.
func (r *ResultRepository) Get(ctx context.Context, attemptID uuid.UUID) (*model.ExamResult, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM exam_results WHERE attempt_id = $1`, attemptID,
	))
}

// ListByExam returns every result of the exam.
func (r *ResultRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM exam_results WHERE exam_id = $1 ORDER BY graded_at`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExamResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}
