package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamConfig is the exam-configuration view this service consumes. Exams are
// authored elsewhere.
type ExamConfig struct {
	ExamID           uuid.UUID `json:"examId"`
	Title            string    `json:"title"`
	DurationMinutes  int       `json:"durationMinutes"`
	ShuffleQuestions bool      `json:"shuffleQuestions"`
	ShuffleOptions   bool      `json:"shuffleOptions"`
	MaxAttempts      int       `json:"maxAttempts"`
	PassingScore     int       `json:"passingScore"`
}

// Duration returns the attempt time budget.
func (c *ExamConfig) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}
