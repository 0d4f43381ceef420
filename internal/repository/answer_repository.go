package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// AnswerRepository handles the current answer per attempt and question.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Save upserts the answer and moves the cursor in one statement. The CTE only
// yields a row while the attempt is in progress and unexpired, so a submitted
// or expired attempt writes nothing.
func (r *AnswerRepository) Save(ctx context.Context, ans *model.AttemptAnswer, currentIndex int, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`WITH live AS (
		     UPDATE exam_attempts SET current_question_index = $5
		     WHERE id = $1 AND status = 'in_progress' AND expires_at > $6
		     RETURNING id
		 )
		 INSERT INTO attempt_answers (attempt_id, question_id, answer_payload, question_index, updated_at)
		 SELECT live.id, $2::uuid, $3::jsonb, $4::int, $6::timestamptz FROM live
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer_payload = EXCLUDED.answer_payload,
		     question_index = EXCLUDED.question_index,
		     updated_at = EXCLUDED.updated_at`,
		ans.AttemptID, ans.QuestionID, ans.Answer, ans.QuestionIndex, currentIndex, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByAttempt returns the attempt's non-empty answers keyed by question.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) (map[uuid.UUID]*model.AnswerPayload, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer_payload FROM attempt_answers
		 WHERE attempt_id = $1 AND answer_payload IS NOT NULL`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[uuid.UUID]*model.AnswerPayload{}
	for rows.Next() {
		var qID uuid.UUID
		var p model.AnswerPayload
		if err := rows.Scan(&qID, &p); err != nil {
			return nil, err
		}
		out[qID] = &p
	}
	return out, rows.Err()
}

// ListByExam returns the answers of every scored attempt of the exam.
func (r *AnswerRepository) ListByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]map[uuid.UUID]*model.AnswerPayload, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT aa.attempt_id, aa.question_id, aa.answer_payload
		 FROM attempt_answers aa
		 JOIN exam_results er ON er.attempt_id = aa.attempt_id
		 WHERE er.exam_id = $1 AND aa.answer_payload IS NOT NULL`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[uuid.UUID]map[uuid.UUID]*model.AnswerPayload{}
	for rows.Next() {
		var aID, qID uuid.UUID
		var p model.AnswerPayload
		if err := rows.Scan(&aID, &qID, &p); err != nil {
			return nil, err
		}
		if out[aID] == nil {
			out[aID] = map[uuid.UUID]*model.AnswerPayload{}
		}
		out[aID][qID] = &p
	}
	return out, rows.Err()
}

// AnsweredCounts returns the number of answered questions per attempt.
func (r *AnswerRepository) AnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT aa.attempt_id, COUNT(*)
		 FROM attempt_answers aa
		 JOIN exam_attempts a ON a.id = aa.attempt_id
		 WHERE a.exam_id = $1 AND aa.answer_payload IS NOT NULL
		 GROUP BY aa.attempt_id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[uuid.UUID]int{}
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
