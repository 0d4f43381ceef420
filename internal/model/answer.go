package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnswerKind tags the variant held by an AnswerPayload.
type AnswerKind string

const (
	AnswerKindOption  AnswerKind = "option"
	AnswerKindOptions AnswerKind = "options"
	AnswerKindBool    AnswerKind = "bool"
	AnswerKindText    AnswerKind = "text"
)

// AnswerPayload is a decoded answer. Exactly one value field is set, chosen
// by Kind. A nil *AnswerPayload means "no answer".
type AnswerPayload struct {
	Kind    AnswerKind `json:"kind"`
	Option  *int       `json:"option,omitempty"`
	Options []int      `json:"options,omitempty"`
	Bool    *bool      `json:"bool,omitempty"`
	Text    *string    `json:"text,omitempty"`
}

// OptionAnswer builds an mcq_single payload.
func OptionAnswer(i int) *AnswerPayload { return &AnswerPayload{Kind: AnswerKindOption, Option: &i} }

// OptionsAnswer builds an mcq_multi payload with a sorted, de-duplicated set.
func OptionsAnswer(idx ...int) *AnswerPayload {
	return &AnswerPayload{Kind: AnswerKindOptions, Options: normalizeIndexSet(idx)}
}

// BoolAnswer builds a true_false payload.
func BoolAnswer(b bool) *AnswerPayload { return &AnswerPayload{Kind: AnswerKindBool, Bool: &b} }

// TextAnswer builds a short_answer payload.
func TextAnswer(s string) *AnswerPayload { return &AnswerPayload{Kind: AnswerKindText, Text: &s} }

// DecodeAnswer decodes the untyped wire value sent by a client into the
// variant required by qt. JSON null, an empty string and an empty index set
// decode to nil, which clears the answer.
func DecodeAnswer(qt QuestionType, raw json.RawMessage) (*AnswerPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch qt {
	case QuestionTypeMCQSingle:
		i, err := decodeIndex(raw)
		if err != nil {
			return nil, err
		}
		return OptionAnswer(i), nil

	case QuestionTypeMCQMulti:
		var nums []json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&nums); err != nil {
			return nil, fmt.Errorf("%w: expected an array of option indexes", ErrInvalidAnswerPayload)
		}
		if len(nums) == 0 {
			return nil, nil
		}
		idx := make([]int, 0, len(nums))
		for _, n := range nums {
			i, err := decodeIndex(json.RawMessage(n.String()))
			if err != nil {
				return nil, err
			}
			idx = append(idx, i)
		}
		return OptionsAnswer(idx...), nil

	case QuestionTypeTrueFalse:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: expected a boolean", ErrInvalidAnswerPayload)
		}
		return BoolAnswer(b), nil

	case QuestionTypeShortAnswer:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: expected a string", ErrInvalidAnswerPayload)
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return TextAnswer(s), nil
	}

	return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidAnswerPayload, qt)
}

func decodeIndex(raw json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("%w: expected an option index", ErrInvalidAnswerPayload)
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: option index must be a non-negative integer", ErrInvalidAnswerPayload)
	}
	return int(f), nil
}

func normalizeIndexSet(idx []int) []int {
	seen := make(map[int]struct{}, len(idx))
	out := make([]int, 0, len(idx))
	for _, i := range idx {
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Wire returns the untyped value a client would send for this payload.
func (p *AnswerPayload) Wire() any {
	if p == nil {
		return nil
	}
	switch p.Kind {
	case AnswerKindOption:
		return p.Option
	case AnswerKindOptions:
		return p.Options
	case AnswerKindBool:
		return p.Bool
	case AnswerKindText:
		return p.Text
	}
	return nil
}

// MatchesType reports whether the payload variant is the one qt expects.
func (p *AnswerPayload) MatchesType(qt QuestionType) bool {
	if p == nil {
		return false
	}
	switch qt {
	case QuestionTypeMCQSingle:
		return p.Kind == AnswerKindOption && p.Option != nil
	case QuestionTypeMCQMulti:
		return p.Kind == AnswerKindOptions
	case QuestionTypeTrueFalse:
		return p.Kind == AnswerKindBool && p.Bool != nil
	case QuestionTypeShortAnswer:
		return p.Kind == AnswerKindText && p.Text != nil
	}
	return false
}

// AttemptAnswer is the single current answer row for (AttemptID, QuestionID).
type AttemptAnswer struct {
	AttemptID     uuid.UUID      `json:"attemptId"`
	QuestionID    uuid.UUID      `json:"questionId"`
	Answer        *AnswerPayload `json:"answer"`
	QuestionIndex int            `json:"questionIndex"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// SaveAnswerRequest is the autosave payload.
type SaveAnswerRequest struct {
	ExamID               uuid.UUID       `json:"examId" binding:"required"`
	QuestionID           uuid.UUID       `json:"questionId" binding:"required"`
	AnswerPayload        json.RawMessage `json:"answerPayload"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex" binding:"min=0"`
	IsFinal              bool            `json:"isFinal"`
}

// ProgressRequest moves the resume cursor without touching answers.
type ProgressRequest struct {
	CurrentQuestionIndex int `json:"currentQuestionIndex" binding:"min=0"`
}

// SaveAnswerResult acknowledges an accepted autosave.
type SaveAnswerResult struct {
	AttemptID            uuid.UUID `json:"attemptId"`
	QuestionID           uuid.UUID `json:"questionId"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	IsFinal              bool      `json:"isFinal"`
	SavedAt              time.Time `json:"savedAt"`
	RemainingSeconds     int64     `json:"remainingSeconds"`
}
