package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// AnalyticsRepository maintains the rolling question counters.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{pool: pool}
}

const upsertQuestionAnalytics = `
	INSERT INTO question_analytics (question_id, exam_id, exposure_count, answer_count, correct_count, option_counts, updated_at)
	VALUES ($1, $2, 1, $3, $4,
	        CASE WHEN $3 = 1 THEN jsonb_build_object($5::text, 1) ELSE '{}'::jsonb END,
	        $6)
	ON CONFLICT (exam_id, question_id) DO UPDATE
	SET exposure_count = question_analytics.exposure_count + 1,
	    answer_count = question_analytics.answer_count + EXCLUDED.answer_count,
	    correct_count = question_analytics.correct_count + EXCLUDED.correct_count,
	    option_counts = CASE
	        WHEN $3 = 1 THEN jsonb_set(
	            question_analytics.option_counts,
	            ARRAY[$5::text],
	            to_jsonb(COALESCE((question_analytics.option_counts->>$5::text)::bigint, 0) + 1))
	        ELSE question_analytics.option_counts
	    END,
	    updated_at = EXCLUDED.updated_at`

// ApplyAttempt claims the attempt's result row and adds its deltas. The claim
// and the counter updates commit together, so an attempt is counted once.
func (r *AnalyticsRepository) ApplyAttempt(ctx context.Context, attemptID, examID uuid.UUID, deltas []model.QuestionDelta, now time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE exam_results SET analytics_applied_at = $2
		 WHERE attempt_id = $1 AND analytics_applied_at IS NULL`,
		attemptID, now,
	)
	if err != nil {
		return false, fmt.Errorf("claim result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM exam_results WHERE attempt_id = $1)`, attemptID,
		).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, model.ErrNotFound
		}
		return false, nil
	}

	batch := &pgx.Batch{}
	for _, d := range deltas {
		batch.Queue(upsertQuestionAnalytics, d.QuestionID, examID, b2i(d.Answered), b2i(d.Correct), d.OptionKey, now)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, fmt.Errorf("apply deltas: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListByExam returns the rolling counters of the exam keyed by question.
func (r *AnalyticsRepository) ListByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]*model.QuestionAnalytics, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, exam_id, exposure_count, answer_count, correct_count, option_counts, updated_at
		 FROM question_analytics WHERE exam_id = $1`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[uuid.UUID]*model.QuestionAnalytics{}
	for rows.Next() {
		qa := &model.QuestionAnalytics{}
		if err := rows.Scan(&qa.QuestionID, &qa.ExamID, &qa.ExposureCount, &qa.AnswerCount,
			&qa.CorrectCount, &qa.OptionCounts, &qa.UpdatedAt); err != nil {
			return nil, err
		}
		out[qa.QuestionID] = qa
	}
	return out, rows.Err()
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
