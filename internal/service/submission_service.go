package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// SubmissionService owns the one-way transition out of in_progress and the
// scoring that follows it.
type SubmissionService struct {
	attempts  AttemptStore
	answers   AnswerStore
	results   ResultStore
	questions QuestionBank
	configs   ExamConfigProvider
	queue     AnalyticsQueue
	publisher EventPublisher
	bands     []GradeBand
	log       zerolog.Logger
	now       func() time.Time
}

// NewSubmissionService creates a new SubmissionService. queue and publisher
// may be nil.
func NewSubmissionService(
	attempts AttemptStore,
	answers AnswerStore,
	results ResultStore,
	questions QuestionBank,
	configs ExamConfigProvider,
	queue AnalyticsQueue,
	publisher EventPublisher,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		attempts:  attempts,
		answers:   answers,
		results:   results,
		questions: questions,
		configs:   configs,
		queue:     queue,
		publisher: publisher,
		bands:     DefaultGradeBands,
		log:       log.With().Str("component", "submission_service").Logger(),
		now:       time.Now,
	}
}

// Submit finalizes an attempt on candidate request. An attempt already past
// its expiry is finalized as auto_submitted instead.
func (s *SubmissionService) Submit(ctx context.Context, attemptID uuid.UUID) (*model.SubmitResult, error) {
	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	to := model.AttemptSubmitted
	if attempt.Overdue(s.now()) {
		to = model.AttemptAutoSubmitted
	}
	return s.finalize(ctx, attemptID, to)
}

// AutoSubmit finalizes an attempt whose time budget has elapsed.
func (s *SubmissionService) AutoSubmit(ctx context.Context, attemptID uuid.UUID) (*model.SubmitResult, error) {
	return s.finalize(ctx, attemptID, model.AttemptAutoSubmitted)
}

func (s *SubmissionService) finalize(ctx context.Context, attemptID uuid.UUID, to model.AttemptStatus) (*model.SubmitResult, error) {
	attempt, won, err := s.attempts.Transition(ctx, attemptID, to, s.now())
	if err != nil {
		return nil, fmt.Errorf("transition attempt: %w", err)
	}
	if !won {
		return nil, s.lostTransition(ctx, attemptID)
	}

	result, err := s.score(ctx, attempt)
	if err != nil {
		// The attempt is terminal without a result; the expiry sweep repairs it.
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Scoring failed after transition")
		return nil, err
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, attemptID); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to enqueue analytics update")
		}
	}

	pct := result.Percentage
	publish(ctx, s.publisher, s.log, MonitorEvent{
		Type:          MonitorAttemptSubmitted,
		ExamID:        attempt.ExamID,
		AttemptID:     attempt.ID,
		CandidateName: attempt.CandidateName,
		Status:        attempt.Status,
		Percentage:    &pct,
		At:            s.now(),
	})

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("status", string(attempt.Status)).
		Int("percentage", result.Percentage).
		Msg("Attempt finalized")

	return &model.SubmitResult{AttemptID: attempt.ID, Status: attempt.Status, Result: *result}, nil
}

// lostTransition tells a sibling still scoring apart from a finished attempt.
func (s *SubmissionService) lostTransition(ctx context.Context, attemptID uuid.UUID) error {
	current, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if !current.Status.Terminal() {
		return ErrAttemptNotEditable
	}
	_, err = s.results.Get(ctx, attemptID)
	if errors.Is(err, model.ErrNotFound) {
		return ErrSubmitInProgress
	}
	if err != nil {
		return fmt.Errorf("get result: %w", err)
	}
	return ErrAttemptNotEditable
}

// Reprocess re-scores a finished attempt against current question definitions.
// It overwrites the existing result and does not touch analytics counters.
func (s *SubmissionService) Reprocess(ctx context.Context, attemptID uuid.UUID) (*model.ExamResult, error) {
	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.Status.Terminal() {
		return nil, ErrAttemptNotSubmitted
	}

	result, err := s.score(ctx, attempt)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("attempt_id", attemptID.String()).Int("percentage", result.Percentage).Msg("Attempt reprocessed")
	return result, nil
}

// Repair scores a terminal attempt left without a result and queues its
// analytics. Used by the expiry sweep.
func (s *SubmissionService) Repair(ctx context.Context, attemptID uuid.UUID) error {
	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if !attempt.Status.Terminal() {
		return ErrAttemptNotSubmitted
	}
	if _, err := s.score(ctx, attempt); err != nil {
		return err
	}
	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, attemptID); err != nil {
			return fmt.Errorf("enqueue analytics: %w", err)
		}
	}
	return nil
}

// Result returns the stored result of an attempt.
func (s *SubmissionService) Result(ctx context.Context, attemptID uuid.UUID) (*model.ExamResult, error) {
	r, err := s.results.Get(ctx, attemptID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrAttemptNotSubmitted
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

func (s *SubmissionService) score(ctx context.Context, attempt *model.ExamAttempt) (*model.ExamResult, error) {
	cfg, err := loadConfig(ctx, s.configs, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions.ListByExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	result := ScoreAttempt(ScoreInput{
		AttemptID:      attempt.ID,
		ExamID:         attempt.ExamID,
		Questions:      questions,
		Answers:        answers,
		PassingScore:   cfg.PassingScore,
		IntegrityScore: attempt.IntegrityScore,
		Bands:          s.bands,
		Now:            s.now().UTC(),
	})

	if err := s.results.Upsert(ctx, &result); err != nil {
		return nil, fmt.Errorf("upsert result: %w", err)
	}
	return &result, nil
}

func (s *SubmissionService) getAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a, err := s.attempts.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}
