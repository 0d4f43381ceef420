package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType selects the grading rule and the answer payload shape.
type QuestionType string

const (
	QuestionTypeMCQSingle   QuestionType = "mcq_single"
	QuestionTypeMCQMulti    QuestionType = "mcq_multi"
	QuestionTypeTrueFalse   QuestionType = "true_false"
	QuestionTypeShortAnswer QuestionType = "short_answer"
)

// Valid reports whether t is one of the gradable question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMCQSingle, QuestionTypeMCQMulti, QuestionTypeTrueFalse, QuestionTypeShortAnswer:
		return true
	}
	return false
}

// ShortAnswerRules configures short_answer grading. An answer is correct if it
// equals any exact match, or if it satisfies the keyword predicates.
type ShortAnswerRules struct {
	ExactMatches []string `json:"exactMatches,omitempty"`
	AllKeywords  []string `json:"allKeywords,omitempty"`
	AnyKeywords  []string `json:"anyKeywords,omitempty"`
}

// HasKeywords reports whether any keyword predicate is configured.
func (r *ShortAnswerRules) HasKeywords() bool {
	return r != nil && (len(r.AllKeywords) > 0 || len(r.AnyKeywords) > 0)
}

// Question is the question-bank view consumed by the scoring engine. The bank
// itself is owned by the authoring service; this service only reads it.
type Question struct {
	ID               uuid.UUID         `json:"id"`
	ExamID           uuid.UUID         `json:"examId"`
	Position         int               `json:"position"`
	Type             QuestionType      `json:"questionType"`
	Prompt           string            `json:"prompt"`
	Options          []string          `json:"options"`
	CorrectAnswer    json.RawMessage   `json:"-"`
	ShortAnswerRules *ShortAnswerRules `json:"-"`
}

// PaperOption is an option shown to a candidate. Index is the option's index
// in the authored order and is what answers refer to.
type PaperOption struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// PaperQuestion is a question without its answer key.
type PaperQuestion struct {
	ID       uuid.UUID     `json:"id"`
	Position int           `json:"position"`
	Type     QuestionType  `json:"questionType"`
	Prompt   string        `json:"prompt"`
	Options  []PaperOption `json:"options,omitempty"`
}

// AttemptPaper is the candidate-facing exam paper for one attempt.
type AttemptPaper struct {
	AttemptID uuid.UUID       `json:"attemptId"`
	ExamID    uuid.UUID       `json:"examId"`
	Title     string          `json:"title"`
	Questions []PaperQuestion `json:"questions"`
}
