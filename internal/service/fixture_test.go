package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository/memstore"
)

type fixture struct {
	db         *memstore.DB
	exam       model.ExamConfig
	questions  []model.Question
	pins       *PinService
	tokens     *TokenService
	submission *SubmissionService
	attempts   *AttemptService
	answers    *AnswerService
	access     *AccessService
	integrity  *IntegrityService
	analytics  *AnalyticsService
}

// newFixture wires every service over an in-memory store with a four
// question single-choice exam whose correct option is always 1.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := memstore.New()
	log := zerolog.Nop()

	exam := model.ExamConfig{
		ExamID:          uuid.New(),
		Title:           "Physics midterm",
		DurationMinutes: 60,
		PassingScore:    70,
	}
	questions := make([]model.Question, 4)
	for i := range questions {
		questions[i] = model.Question{
			ID:            uuid.New(),
			ExamID:        exam.ExamID,
			Position:      i,
			Type:          model.QuestionTypeMCQSingle,
			Prompt:        "Question",
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: json.RawMessage(`1`),
		}
	}
	db.PutExam(exam, questions)

	f := &fixture{db: db, exam: exam, questions: questions}
	f.tokens = NewTokenService("test-secret", 10*time.Minute)
	f.pins = NewPinService(db.Pins, NewPinCapacityGuard(db.Pins, 0), nil, "pepper", 2, log)
	f.submission = NewSubmissionService(db.Attempts, db.Answers, db.Results, db.Questions, db.Exams, nil, nil, log)
	f.attempts = NewAttemptService(db.Attempts, db.Answers, db.Questions, db.Exams, f.submission, nil, log)
	f.answers = NewAnswerService(f.attempts, db.Answers, db.Questions, log)
	f.access = NewAccessService(f.pins, f.attempts, db.Attempts, db.Candidates, db.Exams, f.tokens, log)
	f.integrity = NewIntegrityService(db.Attempts, db.Integrity, nil, IntegrityWeights{Warning: 5, Critical: 15}, 75, log)
	f.analytics = NewAnalyticsService(db.Answers, db.Results, db.Questions, db.Analytics, log)
	return f
}

// seedAttempt stores an in_progress attempt expiring at expiresAt.
func (f *fixture) seedAttempt(name string, expiresAt time.Time) model.ExamAttempt {
	a := model.ExamAttempt{
		ID:             uuid.New(),
		ExamID:         f.exam.ExamID,
		CandidateID:    uuid.New(),
		CandidateName:  name,
		Status:         model.AttemptInProgress,
		StartedAt:      expiresAt.Add(-time.Hour),
		ExpiresAt:      expiresAt,
		IntegrityScore: 100,
	}
	f.db.PutAttempt(a)
	return a
}

// generatePins creates a batch and returns its raw PINs.
func (f *fixture) generatePins(t *testing.T, quantity, maxUses int) []model.GeneratedPin {
	t.Helper()
	batch, err := f.pins.GenerateBatch(t.Context(), f.exam.ExamID, model.GeneratePinBatchRequest{
		Quantity: quantity,
		Length:   6,
		Charset:  model.PinCharsetNumeric,
		MaxUses:  maxUses,
	}, "admin")
	if err != nil {
		t.Fatalf("generate pins: %v", err)
	}
	return batch.Pins
}

func answerRaw(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
