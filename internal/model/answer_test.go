package model

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestDecodeAnswer(t *testing.T) {
	cases := []struct {
		name    string
		qt      QuestionType
		raw     string
		want    *AnswerPayload
		wantErr bool
	}{
		{"single", QuestionTypeMCQSingle, `2`, OptionAnswer(2), false},
		{"single integral float", QuestionTypeMCQSingle, `2.0`, OptionAnswer(2), false},
		{"single fractional", QuestionTypeMCQSingle, `1.5`, nil, true},
		{"single negative", QuestionTypeMCQSingle, `-1`, nil, true},
		{"single wrong shape", QuestionTypeMCQSingle, `"b"`, nil, true},
		{"multi dedup sorted", QuestionTypeMCQMulti, `[3,1,3]`, OptionsAnswer(1, 3), false},
		{"multi empty clears", QuestionTypeMCQMulti, `[]`, nil, false},
		{"multi scalar", QuestionTypeMCQMulti, `1`, nil, true},
		{"bool", QuestionTypeTrueFalse, `false`, BoolAnswer(false), false},
		{"bool as string", QuestionTypeTrueFalse, `"true"`, nil, true},
		{"text", QuestionTypeShortAnswer, `"Mitochondria"`, TextAnswer("Mitochondria"), false},
		{"blank text clears", QuestionTypeShortAnswer, `"   "`, nil, false},
		{"null clears", QuestionTypeMCQSingle, `null`, nil, false},
		{"unknown type", QuestionType("essay"), `"x"`, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeAnswer(tc.qt, json.RawMessage(tc.raw))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidAnswerPayload) {
					t.Fatalf("err = %v, want ErrInvalidAnswerPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !samePayload(got, tc.want) {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
			if got != nil && !got.MatchesType(tc.qt) {
				t.Fatalf("payload %+v does not match %s", got, tc.qt)
			}
		})
	}
}

func samePayload(a, b *AnswerPayload) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AnswerKindOption:
		return *a.Option == *b.Option
	case AnswerKindOptions:
		return slices.Equal(a.Options, b.Options)
	case AnswerKindBool:
		return *a.Bool == *b.Bool
	case AnswerKindText:
		return *a.Text == *b.Text
	}
	return false
}

func TestAttemptEditableAndRemaining(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	a := ExamAttempt{Status: AttemptInProgress, ExpiresAt: now.Add(90 * time.Second)}

	if !a.Editable(now) || a.Overdue(now) {
		t.Fatal("open attempt should be editable")
	}
	if got := a.RemainingSeconds(now); got != 90 {
		t.Fatalf("remaining = %d, want 90", got)
	}
	if a.Editable(a.ExpiresAt) || !a.Overdue(a.ExpiresAt) {
		t.Fatal("attempt at expiry must be closed and overdue")
	}
	if got := a.RemainingSeconds(now.Add(time.Hour)); got != 0 {
		t.Fatalf("remaining after expiry = %d, want 0", got)
	}

	a.Status = AttemptSubmitted
	if a.Editable(now) || a.RemainingSeconds(now) != 0 {
		t.Fatal("submitted attempt must not be editable")
	}
}

func TestScoreFromDeductionClamps(t *testing.T) {
	for deduction, want := range map[int]int{-10: 100, 0: 100, 35: 65, 100: 0, 250: 0} {
		if got := ScoreFromDeduction(deduction); got != want {
			t.Errorf("ScoreFromDeduction(%d) = %d, want %d", deduction, got, want)
		}
	}
}
