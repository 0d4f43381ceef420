package service

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// finishAttempt seeds an attempt, answers question i with answers[i] (nil
// skips it) and submits.
func (f *fixture) finishAttempt(t *testing.T, answers []any) uuid.UUID {
	t.Helper()
	a := f.seedAttempt("Candidate", time.Now().Add(time.Hour))
	for i, v := range answers {
		if v == nil {
			continue
		}
		if _, err := f.answers.SaveAnswer(t.Context(), a.ID, model.SaveAnswerRequest{
			ExamID: f.exam.ExamID, QuestionID: f.questions[i].ID, AnswerPayload: answerRaw(v),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.submission.Submit(t.Context(), a.ID); err != nil {
		t.Fatal(err)
	}
	return a.ID
}

func TestDiscriminationSeparatesStrongFromWeak(t *testing.T) {
	f := newFixture(t)
	// Correct option is 1. Strong candidates get everything right, weak ones
	// everything wrong, so question 0 discriminates perfectly.
	for range 4 {
		f.finishAttempt(t, []any{1, 1, 1, 1})
	}
	for range 4 {
		f.finishAttempt(t, []any{0, 0, 0, nil})
	}

	report, err := f.analytics.ExamReport(t.Context(), f.exam.ExamID)
	if err != nil {
		t.Fatal(err)
	}
	if report.AttemptCount != 8 || len(report.Questions) != 4 {
		t.Fatalf("unexpected report shape: %d attempts, %d questions", report.AttemptCount, len(report.Questions))
	}

	q0 := report.Questions[0]
	if q0.DiscriminationIndex == nil || math.Abs(*q0.DiscriminationIndex-1.0) > 1e-9 {
		t.Fatalf("discrimination = %v, want 1.0", q0.DiscriminationIndex)
	}
	if q0.DifficultyIndex == nil || *q0.DifficultyIndex != 0.5 {
		t.Fatalf("difficulty = %v, want 0.5", q0.DifficultyIndex)
	}
	if q0.OptionHistogram["1"] != 4 || q0.OptionHistogram["0"] != 4 {
		t.Fatalf("histogram = %v", q0.OptionHistogram)
	}

	q3 := report.Questions[3]
	if q3.Answered != 4 || *q3.BlankRate != 0.5 {
		t.Fatalf("q3 answered = %d blank = %v", q3.Answered, *q3.BlankRate)
	}
	if !slices.Contains(q3.Flags, model.FlagHighBlankRate) {
		t.Fatalf("q3 flags = %v, want high_blank_rate", q3.Flags)
	}
}

func TestDiscriminationNeedsFourAttempts(t *testing.T) {
	ranked := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	if d := DiscriminationIndex(ranked, map[uuid.UUID]bool{ranked[0]: true}); d != nil {
		t.Fatalf("discrimination = %v, want nil", *d)
	}
}

func TestDifficultyAndBlankRateNil(t *testing.T) {
	if DifficultyIndex(0, 0) != nil {
		t.Fatal("difficulty with no answers should be nil")
	}
	if BlankRate(0, 0) != nil {
		t.Fatal("blank rate with no attempts should be nil")
	}
}

func TestQuestionFlags(t *testing.T) {
	f64 := func(v float64) *float64 { return &v }

	r := model.QuestionReport{
		AttemptsSeen:        100,
		Answered:            10,
		DifficultyIndex:     f64(0.95),
		DiscriminationIndex: f64(-0.2),
		BlankRate:           f64(0.9),
	}
	want := []string{
		model.FlagLowDiscrimination,
		model.FlagNegativeDiscrimination,
		model.FlagTooEasy,
		model.FlagHighBlankRate,
		model.FlagLowSample,
	}
	if got := QuestionFlags(&r); !slices.Equal(got, want) {
		t.Fatalf("flags = %v, want %v", got, want)
	}

	healthy := model.QuestionReport{AttemptsSeen: 20, Answered: 20, DifficultyIndex: f64(0.6), DiscriminationIndex: f64(0.4), BlankRate: f64(0)}
	if got := QuestionFlags(&healthy); len(got) != 0 {
		t.Fatalf("healthy question flagged %v", got)
	}
}

func TestOptionKey(t *testing.T) {
	long := ""
	for range 100 {
		long += "é"
	}
	tests := []struct {
		in   *model.AnswerPayload
		want string
	}{
		{nil, ""},
		{model.OptionAnswer(3), "3"},
		{model.OptionsAnswer(4, 1, 4), "1,4"},
		{model.BoolAnswer(false), "false"},
		{model.TextAnswer("  Jakarta "), "jakarta"},
	}
	for _, tt := range tests {
		if got := OptionKey(tt.in); got != tt.want {
			t.Errorf("OptionKey() = %q, want %q", got, tt.want)
		}
	}
	if got := OptionKey(model.TextAnswer(long)); len([]rune(got)) != 64 {
		t.Fatalf("long key has %d runes, want 64", len([]rune(got)))
	}
}

func TestApplyAttemptCountsOnce(t *testing.T) {
	f := newFixture(t)
	id := f.finishAttempt(t, []any{1, 0, nil, 1})

	for i, want := range []bool{true, false} {
		applied, err := f.analytics.ApplyAttempt(t.Context(), id)
		if err != nil {
			t.Fatal(err)
		}
		if applied != want {
			t.Fatalf("apply %d = %v, want %v", i+1, applied, want)
		}
	}

	rolling, err := f.db.Analytics.ListByExam(t.Context(), f.exam.ExamID)
	if err != nil {
		t.Fatal(err)
	}
	q0 := rolling[f.questions[0].ID]
	if q0.ExposureCount != 1 || q0.AnswerCount != 1 || q0.CorrectCount != 1 || q0.OptionCounts["1"] != 1 {
		t.Fatalf("unexpected rolling counters %+v", q0)
	}
	q2 := rolling[f.questions[2].ID]
	if q2.ExposureCount != 1 || q2.AnswerCount != 0 {
		t.Fatalf("blank question counters %+v", q2)
	}
}
