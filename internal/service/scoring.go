package service

import (
	"math"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// GradeBand maps a minimum percentage to a letter.
type GradeBand struct {
	Min    int
	Letter string
}

// DefaultGradeBands is ordered from the highest band down.
var DefaultGradeBands = []GradeBand{
	{Min: 90, Letter: "A"},
	{Min: 80, Letter: "B"},
	{Min: 70, Letter: "C"},
	{Min: 60, Letter: "D"},
	{Min: 0, Letter: "F"},
}

// GradeLetter returns the first band whose minimum pct reaches.
func GradeLetter(pct int, bands []GradeBand) string {
	for _, b := range bands {
		if pct >= b.Min {
			return b.Letter
		}
	}
	if len(bands) == 0 {
		return ""
	}
	return bands[len(bands)-1].Letter
}

// GradeQuestion reports whether ans is a correct answer to q. A missing
// answer, or one of the wrong variant, is incorrect.
func GradeQuestion(q *model.Question, ans *model.AnswerPayload) bool {
	if ans == nil || !ans.MatchesType(q.Type) {
		return false
	}

	if q.Type == model.QuestionTypeShortAnswer {
		return gradeShortAnswer(q, *ans.Text)
	}

	key, err := model.DecodeAnswer(q.Type, q.CorrectAnswer)
	if err != nil || key == nil {
		return false
	}

	switch q.Type {
	case model.QuestionTypeMCQSingle:
		return *ans.Option == *key.Option
	case model.QuestionTypeMCQMulti:
		// Both sides are sorted and de-duplicated by OptionsAnswer.
		return slices.Equal(ans.Options, key.Options)
	case model.QuestionTypeTrueFalse:
		return *ans.Bool == *key.Bool
	}
	return false
}

func gradeShortAnswer(q *model.Question, raw string) bool {
	answer := NormalizeText(raw)
	if answer == "" {
		return false
	}

	rules := q.ShortAnswerRules
	exact := []string(nil)
	if rules != nil {
		exact = rules.ExactMatches
	}
	// A plain string answer key behaves as a single exact match.
	if key, err := model.DecodeAnswer(model.QuestionTypeShortAnswer, q.CorrectAnswer); err == nil && key != nil {
		exact = append(slices.Clone(exact), *key.Text)
	}

	for _, candidate := range exact {
		if NormalizeText(candidate) == answer {
			return true
		}
	}

	if !rules.HasKeywords() {
		return false
	}

	padded := " " + keywordForm(answer) + " "
	contains := func(kw string) bool {
		k := keywordForm(NormalizeText(kw))
		return k != "" && strings.Contains(padded, " "+k+" ")
	}

	for _, kw := range rules.AllKeywords {
		if !contains(kw) {
			return false
		}
	}
	if len(rules.AnyKeywords) == 0 {
		return true
	}
	for _, kw := range rules.AnyKeywords {
		if contains(kw) {
			return true
		}
	}
	return false
}

// NormalizeText applies NFKC, full Unicode case folding, trimming and
// whitespace collapsing.
func NormalizeText(s string) string {
	folded := cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}

// keywordForm splits on anything that is not a letter or digit so keywords
// match whole words regardless of punctuation.
func keywordForm(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}), " ")
}

// ScoreInput is everything the scoring engine needs for one attempt.
type ScoreInput struct {
	AttemptID      uuid.UUID
	ExamID         uuid.UUID
	Questions      []model.Question
	Answers        map[uuid.UUID]*model.AnswerPayload
	PassingScore   int
	IntegrityScore int
	Bands          []GradeBand
	Now            time.Time
}

// ScoreAttempt grades every question of the exam. Unanswered questions stay in
// the denominator and count as incorrect.
func ScoreAttempt(in ScoreInput) model.ExamResult {
	total := len(in.Questions)
	correct, answered := 0, 0

	for i := range in.Questions {
		q := &in.Questions[i]
		ans := in.Answers[q.ID]
		if ans != nil {
			answered++
		}
		if GradeQuestion(q, ans) {
			correct++
		}
	}

	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(correct) / float64(total) * 100))
	}

	bands := in.Bands
	if len(bands) == 0 {
		bands = DefaultGradeBands
	}

	return model.ExamResult{
		AttemptID:      in.AttemptID,
		ExamID:         in.ExamID,
		CorrectCount:   correct,
		IncorrectCount: total - correct,
		AnsweredCount:  answered,
		TotalQuestions: total,
		Percentage:     pct,
		GradeLetter:    GradeLetter(pct, bands),
		Passed:         pct >= in.PassingScore,
		IntegrityScore: in.IntegrityScore,
		GradedAt:       in.Now,
	}
}
