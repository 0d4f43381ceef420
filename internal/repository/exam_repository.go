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

// ExamRepository reads exam configuration.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetConfig retrieves the attempt-relevant configuration of an exam.
func (r *ExamRepository) GetConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	cfg := &model.ExamConfig{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, shuffle_questions, shuffle_options, max_attempts, passing_score
		 FROM exams WHERE id = $1`, examID,
	).Scan(&cfg.ExamID, &cfg.Title, &cfg.DurationMinutes, &cfg.ShuffleQuestions, &cfg.ShuffleOptions,
		&cfg.MaxAttempts, &cfg.PassingScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Import writes an exam and its questions, replacing any previous copy. It is
// used to load exams exported by the authoring service.
func (r *ExamRepository) Import(ctx context.Context, cfg *model.ExamConfig, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO exams (id, title, duration_minutes, shuffle_questions, shuffle_options, max_attempts, passing_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title,
		     duration_minutes = EXCLUDED.duration_minutes,
		     shuffle_questions = EXCLUDED.shuffle_questions,
		     shuffle_options = EXCLUDED.shuffle_options,
		     max_attempts = EXCLUDED.max_attempts,
		     passing_score = EXCLUDED.passing_score`,
		cfg.ExamID, cfg.Title, cfg.DurationMinutes, cfg.ShuffleQuestions, cfg.ShuffleOptions,
		cfg.MaxAttempts, cfg.PassingScore,
	); err != nil {
		return fmt.Errorf("upsert exam: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM exam_questions WHERE exam_id = $1`, cfg.ExamID)
	for _, q := range questions {
		batch.Queue(
			`INSERT INTO questions (id, question_type, prompt, options, correct_answer, short_answer_rules)
			 VALUES ($1, $2, $3, COALESCE($4::jsonb, '[]'), $5, $6)
			 ON CONFLICT (id) DO UPDATE
			 SET question_type = EXCLUDED.question_type,
			     prompt = EXCLUDED.prompt,
			     options = EXCLUDED.options,
			     correct_answer = EXCLUDED.correct_answer,
			     short_answer_rules = EXCLUDED.short_answer_rules`,
			q.ID, q.Type, q.Prompt, q.Options, q.CorrectAnswer, q.ShortAnswerRules,
		)
		batch.Queue(
			`INSERT INTO exam_questions (exam_id, question_id, position) VALUES ($1, $2, $3)`,
			cfg.ExamID, q.ID, q.Position,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("import questions: %w", err)
	}

	return tx.Commit(ctx)
}
