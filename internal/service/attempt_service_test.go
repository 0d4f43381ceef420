package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempts/internal/model"
)

func TestResumeOutcomes(t *testing.T) {
	f := newFixture(t)
	future := time.Now().Add(30 * time.Minute)

	open := f.seedAttempt("Alan Turing", future)
	done := f.seedAttempt("Kurt Godel", future)
	if _, err := f.submission.Submit(t.Context(), done.ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  model.ResumeAttemptRequest
		err  error
	}{
		{"open match", model.ResumeAttemptRequest{CandidateName: "alan turing"}, nil},
		{"no identity", model.ResumeAttemptRequest{}, ErrCandidateMatchRequired},
		{"unknown", model.ResumeAttemptRequest{CandidateName: "Nobody"}, ErrResumeNotFound},
		{"finished", model.ResumeAttemptRequest{CandidateName: "Kurt Godel"}, ErrAttemptNotResumable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ExamID = f.exam.ExamID
			a, err := f.attempts.Resume(t.Context(), tt.req)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if tt.err == nil && a.ID != open.ID {
				t.Fatalf("resumed %s, want %s", a.ID, open.ID)
			}
		})
	}
}

func TestResumeAmbiguousUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	future := time.Now().Add(30 * time.Minute)
	f.seedAttempt("Budi Santoso", future)
	f.seedAttempt("Budi Santoso", future)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.attempts.Resume(t.Context(), model.ResumeAttemptRequest{ExamID: f.exam.ExamID, CandidateName: "Budi Santoso"})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrResumeAmbiguous) {
			t.Fatalf("call %d: err = %v, want ErrResumeAmbiguous", i, err)
		}
	}
}

func TestResumeByIdentifierDisambiguates(t *testing.T) {
	f := newFixture(t)
	future := time.Now().Add(30 * time.Minute)
	a := f.seedAttempt("Budi Santoso", future)
	id := "S-100"
	a.CandidateIdentifier = &id
	f.db.PutAttempt(a)
	f.seedAttempt("Budi Santoso", future)

	got, err := f.attempts.Resume(t.Context(), model.ResumeAttemptRequest{ExamID: f.exam.ExamID, CandidateName: "Budi Santoso", CandidateIdentifier: "S-100"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID {
		t.Fatalf("resumed %s, want %s", got.ID, a.ID)
	}
}

func TestResumeExpiredAutoSubmits(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Late Larry", time.Now().Add(-time.Minute))

	_, err := f.attempts.Resume(t.Context(), model.ResumeAttemptRequest{ExamID: f.exam.ExamID, CandidateName: "Late Larry"})
	if !errors.Is(err, ErrAttemptExpired) {
		t.Fatalf("err = %v, want ErrAttemptExpired", err)
	}

	stored, _ := f.db.Attempts.Get(t.Context(), a.ID)
	if stored.Status != model.AttemptAutoSubmitted {
		t.Fatalf("status = %s, want auto_submitted", stored.Status)
	}
	if f.db.ResultCount(a.ID) != 1 {
		t.Fatal("expired attempt was not scored")
	}
}

func TestStateReturnsSavedAnswers(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(30*time.Minute))

	_, err := f.answers.SaveAnswer(t.Context(), a.ID, model.SaveAnswerRequest{
		ExamID: f.exam.ExamID, QuestionID: f.questions[2].ID, AnswerPayload: answerRaw(3), CurrentQuestionIndex: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	state, err := f.attempts.State(t.Context(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state.CurrentQuestionIndex != 2 || state.Status != model.AttemptInProgress {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.RemainingSeconds <= 0 || state.RemainingSeconds > 1800 {
		t.Fatalf("remainingSeconds = %d", state.RemainingSeconds)
	}
	if got := string(state.Answers[f.questions[2].ID.String()]); got != "3" {
		t.Fatalf("answer = %s, want 3", got)
	}
}

func TestStateOfExpiredAttemptAutoSubmits(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(-time.Second))

	state, err := f.attempts.State(t.Context(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != model.AttemptAutoSubmitted || state.RemainingSeconds != 0 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestPaperShuffleIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.exam.ShuffleQuestions = true
	f.exam.ShuffleOptions = true
	f.db.PutExam(f.exam, f.questions)

	cand := &model.Candidate{Name: "Ada"}
	attempt, err := f.attempts.Start(t.Context(), &f.exam, cand, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempt.QuestionOrder) != len(f.questions) {
		t.Fatalf("question order has %d entries", len(attempt.QuestionOrder))
	}

	first, err := f.attempts.Paper(t.Context(), attempt.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.attempts.Paper(t.Context(), attempt.ID)
	if err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for i, q := range first.Questions {
		if q.ID != second.Questions[i].ID {
			t.Fatal("question order changed between reads")
		}
		if q.ID != attempt.QuestionOrder[i] {
			t.Fatal("paper does not follow the stored order")
		}
		seen[q.ID.String()] = true
		for j, o := range q.Options {
			if o != second.Questions[i].Options[j] {
				t.Fatal("option order changed between reads")
			}
			if f.questions[0].Options[o.Index] != o.Text {
				t.Fatalf("option %d carries wrong text %q", o.Index, o.Text)
			}
		}
	}
	if len(seen) != len(f.questions) {
		t.Fatal("paper is missing questions")
	}
}

func TestUpdateProgress(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Minute))

	if err := f.attempts.UpdateProgress(t.Context(), a.ID, 3); err != nil {
		t.Fatal(err)
	}
	got, _ := f.db.Attempts.Get(t.Context(), a.ID)
	if got.CurrentQuestionIndex != 3 {
		t.Fatalf("index = %d, want 3", got.CurrentQuestionIndex)
	}

	expired := f.seedAttempt("Bob", time.Now().Add(-time.Minute))
	if err := f.attempts.UpdateProgress(t.Context(), expired.ID, 1); !errors.Is(err, ErrAttemptNotEditable) {
		t.Fatalf("err = %v, want ErrAttemptNotEditable", err)
	}
}

func TestStartGuardsMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.exam.MaxAttempts = 2

	for i := range 2 {
		if _, err := f.attempts.Start(t.Context(), &f.exam, &model.Candidate{Name: "Ada"}, nil); err != nil {
			t.Fatalf("start %d: %v", i+1, err)
		}
	}
	_, err := f.attempts.Start(t.Context(), &f.exam, &model.Candidate{Name: "ada"}, nil)
	if !errors.Is(err, ErrMaxAttemptsReached) {
		t.Fatalf("err = %v, want ErrMaxAttemptsReached", err)
	}

	id := "S-9"
	if _, err := f.attempts.Start(t.Context(), &f.exam, &model.Candidate{Name: "Ada", ExternalID: &id}, nil); err != nil {
		t.Fatalf("identified candidate is counted separately: %v", err)
	}
}
