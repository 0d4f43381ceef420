package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// AnswerService persists autosaved answers. Every save is a full replace of
// the (attempt, question) value, so the last accepted write wins.
type AnswerService struct {
	attempts  *AttemptService
	answers   AnswerStore
	questions QuestionBank
	log       zerolog.Logger
	now       func() time.Time
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(attempts *AttemptService, answers AnswerStore, questions QuestionBank, log zerolog.Logger) *AnswerService {
	return &AnswerService{
		attempts:  attempts,
		answers:   answers,
		questions: questions,
		log:       log.With().Str("component", "answer_service").Logger(),
		now:       time.Now,
	}
}

// SaveAnswer validates the payload against the question type and upserts it.
// The store re-checks editability in the same statement as the write.
func (s *AnswerService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) (*model.SaveAnswerResult, error) {
	attempt, err := s.attempts.EnsureEditable(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if req.ExamID != attempt.ExamID {
		return nil, ErrExamMismatch
	}

	questions, err := s.questions.ListByExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	var question *model.Question
	for i := range questions {
		if questions[i].ID == req.QuestionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return nil, ErrQuestionNotInExam
	}

	payload, err := model.DecodeAnswer(question.Type, req.AnswerPayload)
	if err != nil {
		return nil, err
	}
	if payload != nil && payload.Kind == model.AnswerKindOption && *payload.Option >= len(question.Options) {
		return nil, fmt.Errorf("%w: option index out of range", model.ErrInvalidAnswerPayload)
	}
	if payload != nil && payload.Kind == model.AnswerKindOptions {
		for _, i := range payload.Options {
			if i >= len(question.Options) {
				return nil, fmt.Errorf("%w: option index out of range", model.ErrInvalidAnswerPayload)
			}
		}
	}

	index := req.CurrentQuestionIndex
	if n := len(questions); index >= n && n > 0 {
		index = n - 1
	}

	now := s.now().UTC()
	ok, err := s.answers.Save(ctx, &model.AttemptAnswer{
		AttemptID:     attemptID,
		QuestionID:    question.ID,
		Answer:        payload,
		QuestionIndex: index,
		UpdatedAt:     now,
	}, index, now)
	if err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}
	if !ok {
		return nil, ErrAttemptNotEditable
	}

	if req.IsFinal {
		s.log.Debug().Str("attempt_id", attemptID.String()).Msg("Final answer saved")
	}

	return &model.SaveAnswerResult{
		AttemptID:            attemptID,
		QuestionID:           question.ID,
		CurrentQuestionIndex: index,
		IsFinal:              req.IsFinal,
		SavedAt:              now,
		RemainingSeconds:     attempt.RemainingSeconds(now),
	}, nil
}
