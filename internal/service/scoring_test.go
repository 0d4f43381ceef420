package service

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

func TestGradeQuestion(t *testing.T) {
	rules := &model.ShortAnswerRules{
		ExactMatches: []string{"Photosynthesis"},
		AllKeywords:  []string{"light", "glucose"},
		AnyKeywords:  []string{"chlorophyll", "leaf"},
	}

	tests := []struct {
		name string
		q    model.Question
		ans  *model.AnswerPayload
		want bool
	}{
		{"single correct", model.Question{Type: model.QuestionTypeMCQSingle, CorrectAnswer: json.RawMessage(`2`)}, model.OptionAnswer(2), true},
		{"single wrong", model.Question{Type: model.QuestionTypeMCQSingle, CorrectAnswer: json.RawMessage(`2`)}, model.OptionAnswer(1), false},
		{"single unanswered", model.Question{Type: model.QuestionTypeMCQSingle, CorrectAnswer: json.RawMessage(`2`)}, nil, false},
		{"multi same set other order", model.Question{Type: model.QuestionTypeMCQMulti, CorrectAnswer: json.RawMessage(`[3,0]`)}, model.OptionsAnswer(0, 3), true},
		{"multi subset", model.Question{Type: model.QuestionTypeMCQMulti, CorrectAnswer: json.RawMessage(`[0,3]`)}, model.OptionsAnswer(0), false},
		{"multi superset", model.Question{Type: model.QuestionTypeMCQMulti, CorrectAnswer: json.RawMessage(`[0,3]`)}, model.OptionsAnswer(0, 1, 3), false},
		{"true false", model.Question{Type: model.QuestionTypeTrueFalse, CorrectAnswer: json.RawMessage(`false`)}, model.BoolAnswer(false), true},
		{"true false wrong", model.Question{Type: model.QuestionTypeTrueFalse, CorrectAnswer: json.RawMessage(`true`)}, model.BoolAnswer(false), false},
		{"wrong variant", model.Question{Type: model.QuestionTypeTrueFalse, CorrectAnswer: json.RawMessage(`true`)}, model.OptionAnswer(1), false},
		{"short exact folded", model.Question{Type: model.QuestionTypeShortAnswer, ShortAnswerRules: rules}, model.TextAnswer("  PHOTOSYNTHESIS "), true},
		{"short keywords", model.Question{Type: model.QuestionTypeShortAnswer, ShortAnswerRules: rules}, model.TextAnswer("The leaf uses light to make glucose."), true},
		{"short missing all keyword", model.Question{Type: model.QuestionTypeShortAnswer, ShortAnswerRules: rules}, model.TextAnswer("The leaf uses light."), false},
		{"short missing any keyword", model.Question{Type: model.QuestionTypeShortAnswer, ShortAnswerRules: rules}, model.TextAnswer("light and glucose"), false},
		{"short keyword is whole word", model.Question{Type: model.QuestionTypeShortAnswer, ShortAnswerRules: &model.ShortAnswerRules{AllKeywords: []string{"cat"}}}, model.TextAnswer("concatenate"), false},
		{"short plain key", model.Question{Type: model.QuestionTypeShortAnswer, CorrectAnswer: json.RawMessage(`"Jakarta"`)}, model.TextAnswer("jakarta"), true},
		{"short fullwidth normalized", model.Question{Type: model.QuestionTypeShortAnswer, CorrectAnswer: json.RawMessage(`"ABC"`)}, model.TextAnswer("ＡＢＣ"), true},
		{"short whitespace only", model.Question{Type: model.QuestionTypeShortAnswer, CorrectAnswer: json.RawMessage(`"x"`)}, model.TextAnswer("   "), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GradeQuestion(&tt.q, tt.ans); got != tt.want {
				t.Fatalf("GradeQuestion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreAttemptThreeOfFour(t *testing.T) {
	questions := make([]model.Question, 4)
	answers := map[uuid.UUID]*model.AnswerPayload{}
	for i := range questions {
		questions[i] = model.Question{ID: uuid.New(), Type: model.QuestionTypeMCQSingle, CorrectAnswer: json.RawMessage(`0`)}
		if i < 3 {
			answers[questions[i].ID] = model.OptionAnswer(0)
		} else {
			answers[questions[i].ID] = model.OptionAnswer(2)
		}
	}

	r := ScoreAttempt(ScoreInput{Questions: questions, Answers: answers, PassingScore: 70})

	if r.Percentage != 75 {
		t.Fatalf("percentage = %d, want 75", r.Percentage)
	}
	if r.CorrectCount != 3 || r.IncorrectCount != 1 || r.AnsweredCount != 4 || r.TotalQuestions != 4 {
		t.Fatalf("unexpected counts %+v", r)
	}
	if r.GradeLetter != "C" || !r.Passed {
		t.Fatalf("grade = %s passed = %v", r.GradeLetter, r.Passed)
	}
}

func TestScoreAttemptUnansweredCountsAsIncorrect(t *testing.T) {
	questions := make([]model.Question, 4)
	answers := map[uuid.UUID]*model.AnswerPayload{}
	for i := range questions {
		questions[i] = model.Question{ID: uuid.New(), Type: model.QuestionTypeTrueFalse, CorrectAnswer: json.RawMessage(`true`)}
		if i < 3 {
			answers[questions[i].ID] = model.BoolAnswer(true)
		}
	}

	r := ScoreAttempt(ScoreInput{Questions: questions, Answers: answers})

	if r.AnsweredCount != 3 || r.CorrectCount != 3 || r.IncorrectCount != 1 || r.Percentage != 75 {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestScoreAttemptZeroQuestions(t *testing.T) {
	r := ScoreAttempt(ScoreInput{PassingScore: 50})
	if r.Percentage != 0 || r.TotalQuestions != 0 || r.GradeLetter != "F" || r.Passed {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestGradeLetter(t *testing.T) {
	for pct, want := range map[int]string{100: "A", 90: "A", 89: "B", 80: "B", 75: "C", 60: "D", 59: "F", 0: "F"} {
		if got := GradeLetter(pct, DefaultGradeBands); got != want {
			t.Errorf("GradeLetter(%d) = %s, want %s", pct, got, want)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	if got := NormalizeText("  ÉCOLE\tIS  Long "); got != "école is long" {
		t.Fatalf("NormalizeText() = %q", got)
	}
}
