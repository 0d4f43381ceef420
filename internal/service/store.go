package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// The interfaces below are the storage contract. Every cross-request
// coordination point is a conditional write: implementations must perform the
// check and the write in one atomic statement, never read-then-write.

// PinStore persists PIN batches, PINs and allow-lists.
type PinStore interface {
	// CreateBatch inserts the batch and all its PINs in one transaction.
	CreateBatch(ctx context.Context, batch *model.PinBatch, pins []model.Pin) error
	// ExistingHashes returns which of hashes are already used by PINs of the exam.
	ExistingHashes(ctx context.Context, examID uuid.UUID, hashes []string) (map[string]bool, error)
	FindByHash(ctx context.Context, examID uuid.UUID, hash string) (*model.Pin, error)
	GetPin(ctx context.Context, pinID uuid.UUID) (*model.Pin, error)
	IsAllowListed(ctx context.Context, pinID uuid.UUID, identifier string) (bool, error)
	// IncrementUse adds one use only while the PIN is active, unexpired and
	// below MaxUses. ok is false when the guard did not match.
	IncrementUse(ctx context.Context, pinID uuid.UUID, now time.Time) (usesCount int, ok bool, err error)
	// ReleaseUse gives back one use taken by IncrementUse, never going below zero.
	ReleaseUse(ctx context.Context, pinID uuid.UUID) error
	RevokeBatch(ctx context.Context, batchID uuid.UUID) (int64, error)
	AddAllowList(ctx context.Context, pinID uuid.UUID, identifiers []string) (int64, error)
	CountByExam(ctx context.Context, examID uuid.UUID) (int, error)
}

// CandidateStore persists candidates.
type CandidateStore interface {
	// Upsert inserts c. A candidate whose ExternalID already exists is reused:
	// its stored ID and CreatedAt are copied into c and its name refreshed.
	Upsert(ctx context.Context, c *model.Candidate) error
}

// AttemptStore persists attempts.
type AttemptStore interface {
	// Create inserts the attempt unless its candidate already has maxAttempts
	// attempts at the exam (0 = unlimited). Candidates are matched by identifier
	// when the attempt carries one, otherwise by case-insensitive name. The count
	// and the insert are serialized per candidate; ok is false when the limit
	// was reached.
	Create(ctx context.Context, a *model.ExamAttempt, maxAttempts int) (ok bool, err error)
	Get(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	// FindByIdentity returns every attempt of the exam whose candidate matches
	// the normalized name (case-insensitive) and/or identifier. Empty criteria
	// are ignored.
	FindByIdentity(ctx context.Context, examID uuid.UUID, name, identifier string) ([]model.ExamAttempt, error)
	// CountByCandidate counts attempts at the exam using the same candidate
	// matching as Create.
	CountByCandidate(ctx context.Context, examID uuid.UUID, name, identifier string) (int, error)
	// UpdateProgress moves the resume cursor if the attempt is still editable at now.
	UpdateProgress(ctx context.Context, id uuid.UUID, index int, now time.Time) (bool, error)
	// Transition moves an in_progress attempt to a terminal status. Exactly one
	// concurrent caller gets ok=true.
	Transition(ctx context.Context, id uuid.UUID, to model.AttemptStatus, now time.Time) (*model.ExamAttempt, bool, error)
	// UpdateReview rewrites review metadata only if the current review status is one of from.
	UpdateReview(ctx context.Context, id uuid.UUID, from []model.ReviewStatus, meta model.AttemptMetadata) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	// ListUnscored returns terminal attempts without a result submitted before olderThan.
	ListUnscored(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error)
}

// AnswerStore persists the current answer per (attempt, question).
type AnswerStore interface {
	// Save upserts the answer and moves the resume cursor, both only if the
	// attempt is editable at now. ok is false when the gate did not match.
	Save(ctx context.Context, ans *model.AttemptAnswer, currentIndex int, now time.Time) (bool, error)
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) (map[uuid.UUID]*model.AnswerPayload, error)
	// ListByExam returns answers of every scored attempt of the exam keyed by attempt.
	ListByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]map[uuid.UUID]*model.AnswerPayload, error)
	AnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int, error)
}

// ResultStore persists exam results, one row per attempt.
type ResultStore interface {
	// Upsert inserts or wholesale-replaces the attempt's result.
	Upsert(ctx context.Context, r *model.ExamResult) error
	Get(ctx context.Context, attemptID uuid.UUID) (*model.ExamResult, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error)
}

// IntegrityStore appends integrity events and maintains the attempt tally.
type IntegrityStore interface {
	// Append stores events, adds deduction to the attempt's running deduction
	// and recomputes the score. When the new score is below threshold and no
	// review status is set, the review status becomes needs_review.
	Append(ctx context.Context, attemptID uuid.UUID, events []model.IntegrityEvent, deduction, threshold int) (*model.IntegrityTally, error)
}

// AnalyticsStore maintains rolling question counters.
type AnalyticsStore interface {
	// ApplyAttempt adds deltas once per attempt. applied is false if the
	// attempt had already been counted.
	ApplyAttempt(ctx context.Context, attemptID, examID uuid.UUID, deltas []model.QuestionDelta, now time.Time) (applied bool, err error)
	ListByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]*model.QuestionAnalytics, error)
}

// QuestionBank is the question-bank collaborator.
type QuestionBank interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// ExamConfigProvider is the exam-configuration collaborator.
type ExamConfigProvider interface {
	GetConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error)
}
