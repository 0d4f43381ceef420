package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// AttemptService owns attempt creation, resume and the editability gate.
type AttemptService struct {
	attempts  AttemptStore
	answers   AnswerStore
	questions QuestionBank
	configs   ExamConfigProvider
	submitter *SubmissionService
	publisher EventPublisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts AttemptStore,
	answers AnswerStore,
	questions QuestionBank,
	configs ExamConfigProvider,
	submitter *SubmissionService,
	publisher EventPublisher,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts:  attempts,
		answers:   answers,
		questions: questions,
		configs:   configs,
		submitter: submitter,
		publisher: publisher,
		log:       log.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
}

// Start creates an in_progress attempt. The time budget comes from the exam
// configuration, never from the PIN.
func (s *AttemptService) Start(ctx context.Context, cfg *model.ExamConfig, candidate *model.Candidate, pinID *uuid.UUID) (*model.ExamAttempt, error) {
	now := s.now().UTC()
	attempt := &model.ExamAttempt{
		ID:                  uuid.New(),
		ExamID:              cfg.ExamID,
		CandidateID:         candidate.ID,
		CandidateName:       candidate.Name,
		CandidateIdentifier: candidate.ExternalID,
		PinID:               pinID,
		Status:              model.AttemptInProgress,
		StartedAt:           now,
		ExpiresAt:           now.Add(cfg.Duration()),
		IntegrityScore:      100,
	}

	if cfg.ShuffleQuestions {
		questions, err := s.questions.ListByExam(ctx, cfg.ExamID)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		attempt.QuestionOrder = shuffledOrder(attempt.ID, questions)
	}

	ok, err := s.attempts.Create(ctx, attempt, cfg.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	if !ok {
		return nil, ErrMaxAttemptsReached
	}

	publish(ctx, s.publisher, s.log, MonitorEvent{
		Type:          MonitorAttemptStarted,
		ExamID:        attempt.ExamID,
		AttemptID:     attempt.ID,
		CandidateName: attempt.CandidateName,
		Status:        attempt.Status,
		At:            now,
	})

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", attempt.ExamID.String()).
		Time("expires_at", attempt.ExpiresAt).
		Msg("Attempt started")

	return attempt, nil
}

// Resume finds the single open attempt matching the candidate. An open match
// past its expiry is auto-submitted and reported as ErrAttemptExpired.
func (s *AttemptService) Resume(ctx context.Context, req model.ResumeAttemptRequest) (*model.ExamAttempt, error) {
	name := model.NormalizeName(req.CandidateName)
	identifier := model.NormalizeIdentifier(req.CandidateIdentifier)
	if name == "" && identifier == "" {
		return nil, ErrCandidateMatchRequired
	}

	matches, err := s.attempts.FindByIdentity(ctx, req.ExamID, name, identifier)
	if err != nil {
		return nil, fmt.Errorf("find attempts: %w", err)
	}

	var open []model.ExamAttempt
	for _, a := range matches {
		if a.Status == model.AttemptInProgress {
			open = append(open, a)
		}
	}

	switch {
	case len(open) > 1:
		return nil, ErrResumeAmbiguous
	case len(open) == 0 && len(matches) > 0:
		return nil, ErrAttemptNotResumable
	case len(open) == 0:
		return nil, ErrResumeNotFound
	}

	attempt := &open[0]
	if attempt.Overdue(s.now()) {
		s.expire(ctx, attempt.ID)
		return nil, ErrAttemptExpired
	}
	return attempt, nil
}

// Get returns the attempt, auto-submitting it first if it is overdue.
func (s *AttemptService) Get(ctx context.Context, attemptID uuid.UUID) (*model.ExamAttempt, error) {
	attempt, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Overdue(s.now()) {
		s.expire(ctx, attemptID)
		return s.load(ctx, attemptID)
	}
	return attempt, nil
}

// State returns what a reloaded client needs to continue the attempt.
func (s *AttemptService) State(ctx context.Context, attemptID uuid.UUID) (*model.AttemptState, error) {
	attempt, err := s.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	answers, err := s.answers.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	wire := make(map[string]json.RawMessage, len(answers))
	for qid, ans := range answers {
		data, err := json.Marshal(ans.Wire())
		if err != nil {
			return nil, fmt.Errorf("encode answer: %w", err)
		}
		wire[qid.String()] = data
	}

	return &model.AttemptState{
		AttemptID:            attempt.ID,
		ExamID:               attempt.ExamID,
		Status:               attempt.Status,
		RemainingSeconds:     attempt.RemainingSeconds(s.now()),
		ExpiresAt:            attempt.ExpiresAt,
		CurrentQuestionIndex: attempt.CurrentQuestionIndex,
		Answers:              wire,
	}, nil
}

// Paper returns the attempt's questions without answer keys, in the order
// fixed for the attempt.
func (s *AttemptService) Paper(ctx context.Context, attemptID uuid.UUID) (*model.AttemptPaper, error) {
	attempt, err := s.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return nil, ErrAttemptNotEditable
	}

	cfg, err := loadConfig(ctx, s.configs, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions.ListByExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	ordered := applyOrder(questions, attempt.QuestionOrder)
	paper := &model.AttemptPaper{
		AttemptID: attempt.ID,
		ExamID:    attempt.ExamID,
		Title:     cfg.Title,
		Questions: make([]model.PaperQuestion, 0, len(ordered)),
	}
	for i, q := range ordered {
		pq := model.PaperQuestion{ID: q.ID, Position: i, Type: q.Type, Prompt: q.Prompt}
		if len(q.Options) > 0 {
			pq.Options = make([]model.PaperOption, len(q.Options))
			for j, text := range q.Options {
				pq.Options[j] = model.PaperOption{Index: j, Text: text}
			}
			if cfg.ShuffleOptions {
				r := seededRand(attempt.ID, q.ID)
				r.Shuffle(len(pq.Options), func(a, b int) { pq.Options[a], pq.Options[b] = pq.Options[b], pq.Options[a] })
			}
		}
		paper.Questions = append(paper.Questions, pq)
	}
	return paper, nil
}

// UpdateProgress moves the resume cursor.
func (s *AttemptService) UpdateProgress(ctx context.Context, attemptID uuid.UUID, index int) error {
	if _, err := s.EnsureEditable(ctx, attemptID); err != nil {
		return err
	}
	ok, err := s.attempts.UpdateProgress(ctx, attemptID, index, s.now())
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if !ok {
		return ErrAttemptNotEditable
	}
	return nil
}

// EnsureEditable is the pre-check every mutating call runs. The conditional
// write that follows it re-checks the same predicate atomically.
func (s *AttemptService) EnsureEditable(ctx context.Context, attemptID uuid.UUID) (*model.ExamAttempt, error) {
	attempt, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if attempt.Overdue(now) {
		s.expire(ctx, attemptID)
		return nil, ErrAttemptNotEditable
	}
	if !attempt.Editable(now) {
		return nil, ErrAttemptNotEditable
	}
	return attempt, nil
}

// expire auto-submits an overdue attempt. Losing the race to a concurrent
// submit is expected and not logged as an error.
func (s *AttemptService) expire(ctx context.Context, attemptID uuid.UUID) {
	_, err := s.submitter.AutoSubmit(ctx, attemptID)
	if err == nil || errors.Is(err, ErrAttemptNotEditable) || errors.Is(err, ErrSubmitInProgress) {
		return
	}
	s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Auto-submit of expired attempt failed")
}

func (s *AttemptService) load(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a, err := s.attempts.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// seededRand derives a deterministic generator from the given ids so the same
// attempt always sees the same order.
func seededRand(ids ...uuid.UUID) *rand.Rand {
	var hi, lo uint64
	for _, id := range ids {
		hi ^= binary.BigEndian.Uint64(id[:8])
		lo ^= binary.BigEndian.Uint64(id[8:])
	}
	return rand.New(rand.NewPCG(hi, lo))
}

func shuffledOrder(attemptID uuid.UUID, questions []model.Question) []uuid.UUID {
	order := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}
	r := seededRand(attemptID)
	r.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
	return order
}

// applyOrder sorts questions by the stored order. Questions added to the exam
// after the attempt started follow in position order.
func applyOrder(questions []model.Question, order []uuid.UUID) []model.Question {
	out := make([]model.Question, len(questions))
	copy(out, questions)

	rank := make(map[uuid.UUID]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	sort.SliceStable(out, func(a, b int) bool {
		ra, okA := rank[out[a].ID]
		rb, okB := rank[out[b].ID]
		switch {
		case okA && okB:
			return ra < rb
		case okA != okB:
			return okA
		}
		return out[a].Position < out[b].Position
	})
	return out
}
