package model

import (
	"time"

	"github.com/google/uuid"
)

// Question quality flags.
const (
	FlagLowDiscrimination      = "low_discrimination"
	FlagNegativeDiscrimination = "negative_discrimination"
	FlagTooHard                = "too_hard"
	FlagTooEasy                = "too_easy"
	FlagHighBlankRate          = "high_blank_rate"
	FlagLowSample              = "low_sample"
)

// QuestionAnalytics holds the rolling per-question counters maintained as
// attempts are scored.
type QuestionAnalytics struct {
	QuestionID    uuid.UUID        `json:"questionId"`
	ExamID        uuid.UUID        `json:"examId"`
	ExposureCount int64            `json:"exposureCount"`
	AnswerCount   int64            `json:"answerCount"`
	CorrectCount  int64            `json:"correctCount"`
	OptionCounts  map[string]int64 `json:"optionCounts"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// QuestionDelta is one attempt's contribution to a question's counters.
type QuestionDelta struct {
	QuestionID uuid.UUID
	Answered   bool
	Correct    bool
	OptionKey  string
}

// QuestionReport is the recomputed analytics for one question.
type QuestionReport struct {
	QuestionID          uuid.UUID          `json:"questionId"`
	Position            int                `json:"position"`
	Type                QuestionType       `json:"questionType"`
	AttemptsSeen        int                `json:"attemptsSeen"`
	Answered            int                `json:"answered"`
	Correct             int                `json:"correct"`
	DifficultyIndex     *float64           `json:"difficultyIndex"`
	DiscriminationIndex *float64           `json:"discriminationIndex"`
	BlankRate           *float64           `json:"blankRate"`
	Flags               []string           `json:"flags"`
	OptionHistogram     map[string]int     `json:"optionHistogram"`
	Rolling             *QuestionAnalytics `json:"rolling,omitempty"`
}

// ExamAnalyticsReport covers every question of an exam.
type ExamAnalyticsReport struct {
	ExamID       uuid.UUID        `json:"examId"`
	AttemptCount int              `json:"attemptCount"`
	Questions    []QuestionReport `json:"questions"`
	GeneratedAt  time.Time        `json:"generatedAt"`
}
