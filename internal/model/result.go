package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamResult is the single scored outcome of an attempt.
type ExamResult struct {
	AttemptID      uuid.UUID `json:"attemptId"`
	ExamID         uuid.UUID `json:"examId"`
	CorrectCount   int       `json:"correctCount"`
	IncorrectCount int       `json:"incorrectCount"`
	AnsweredCount  int       `json:"answeredCount"`
	TotalQuestions int       `json:"totalQuestions"`
	Percentage     int       `json:"percentage"`
	GradeLetter    string    `json:"gradeLetter"`
	Passed         bool      `json:"passed"`
	IntegrityScore int       `json:"integrityScore"`
	GradedAt       time.Time `json:"gradedAt"`
}

// SubmitResult is returned to the candidate after a winning submission.
type SubmitResult struct {
	AttemptID uuid.UUID     `json:"attemptId"`
	Status    AttemptStatus `json:"status"`
	Result    ExamResult    `json:"result"`
}
