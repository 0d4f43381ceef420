package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. in_progress is the only
// non-terminal state.
type AttemptStatus string

const (
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptSubmitted     AttemptStatus = "submitted"
	AttemptAutoSubmitted AttemptStatus = "auto_submitted"
)

// Terminal reports whether no further transition is allowed.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptAutoSubmitted
}

// ReviewStatus is the admin review state, independent of the integrity score.
type ReviewStatus string

const (
	ReviewNone        ReviewStatus = ""
	ReviewNeedsReview ReviewStatus = "needs_review"
	ReviewReviewed    ReviewStatus = "reviewed"
	ReviewCleared     ReviewStatus = "cleared"
	ReviewFlagged     ReviewStatus = "flagged"
)

// AttemptMetadata is the freeform metadata stored with an attempt.
type AttemptMetadata struct {
	ReviewStatus ReviewStatus `json:"reviewStatus,omitempty"`
	ReviewNote   string       `json:"reviewNote,omitempty"`
	ReviewedBy   string       `json:"reviewedBy,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewedAt,omitempty"`
	Flags        []string     `json:"flags,omitempty"`
}

// ExamAttempt is one candidate's timed session against one exam.
type ExamAttempt struct {
	ID                   uuid.UUID       `json:"id"`
	ExamID               uuid.UUID       `json:"examId"`
	CandidateID          uuid.UUID       `json:"candidateId"`
	CandidateName        string          `json:"candidateName"`
	CandidateIdentifier  *string         `json:"candidateIdentifier,omitempty"`
	PinID                *uuid.UUID      `json:"pinId,omitempty"`
	Status               AttemptStatus   `json:"status"`
	StartedAt            time.Time       `json:"startedAt"`
	ExpiresAt            time.Time       `json:"expiresAt"`
	SubmittedAt          *time.Time      `json:"submittedAt,omitempty"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	IntegrityScore       int             `json:"integrityScore"`
	IntegrityEventsCount int             `json:"integrityEventsCount"`
	IntegrityDeduction   int             `json:"-"`
	QuestionOrder        []uuid.UUID     `json:"-"`
	Metadata             AttemptMetadata `json:"metadata"`
}

// Editable is the gate every mutating call passes: still in progress and the
// server clock has not reached expiry.
func (a *ExamAttempt) Editable(now time.Time) bool {
	return a.Status == AttemptInProgress && now.Before(a.ExpiresAt)
}

// Overdue reports an attempt still open after its time budget.
func (a *ExamAttempt) Overdue(now time.Time) bool {
	return a.Status == AttemptInProgress && !now.Before(a.ExpiresAt)
}

// RemainingSeconds is advisory for client countdowns.
func (a *ExamAttempt) RemainingSeconds(now time.Time) int64 {
	if a.Status.Terminal() {
		return 0
	}
	d := a.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// ResumeAttemptRequest is the resume payload; at least one identity field is needed.
type ResumeAttemptRequest struct {
	ExamID              uuid.UUID `json:"examId" binding:"required"`
	CandidateName       string    `json:"candidateName" binding:"max=255,printable"`
	CandidateIdentifier string    `json:"candidateIdentifier" binding:"max=128,printable"`
}

// ResumeResult is returned for a resumable attempt.
type ResumeResult struct {
	ExamID       uuid.UUID `json:"examId"`
	AttemptID    uuid.UUID `json:"attemptId"`
	AttemptToken string    `json:"attemptToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// AttemptState is what a reloaded client needs to continue.
type AttemptState struct {
	AttemptID            uuid.UUID                  `json:"attemptId"`
	ExamID               uuid.UUID                  `json:"examId"`
	Status               AttemptStatus              `json:"status"`
	RemainingSeconds     int64                      `json:"remainingSeconds"`
	ExpiresAt            time.Time                  `json:"expiresAt"`
	CurrentQuestionIndex int                        `json:"currentQuestionIndex"`
	Answers              map[string]json.RawMessage `json:"answers"`
}

// UpdateReviewRequest moves the admin review state machine.
type UpdateReviewRequest struct {
	Status ReviewStatus `json:"status" binding:"required,oneof=needs_review reviewed cleared flagged"`
	Note   string       `json:"note" binding:"max=2000"`
}
