package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempts/internal/model"
)

func TestConcurrentSubmitScoresOnce(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.submission.Submit(t.Context(), a.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSubmitInProgress), errors.Is(err, ErrAttemptNotEditable):
				rejected++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || rejected != n-1 {
		t.Fatalf("wins = %d rejected = %d, want 1 and %d", wins, rejected, n-1)
	}
	if f.db.ResultCount(a.ID) != 1 {
		t.Fatal("expected exactly one result row")
	}
}

func TestSubmitAfterFinishIsNotEditable(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))
	if _, err := f.submission.Submit(t.Context(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.submission.Submit(t.Context(), a.ID); !errors.Is(err, ErrAttemptNotEditable) {
		t.Fatalf("err = %v, want ErrAttemptNotEditable", err)
	}
}

func TestSubmitWhileSiblingScoresIsInProgress(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))
	// Simulate a sibling that won the transition but has not written the result.
	if _, ok, _ := f.db.Attempts.Transition(t.Context(), a.ID, model.AttemptSubmitted, time.Now()); !ok {
		t.Fatal("transition failed")
	}
	if _, err := f.submission.Submit(t.Context(), a.ID); !errors.Is(err, ErrSubmitInProgress) {
		t.Fatalf("err = %v, want ErrSubmitInProgress", err)
	}
}

func TestAutoSubmitScoresUnansweredAsIncorrect(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))
	for _, q := range f.questions[:3] {
		if _, err := f.answers.SaveAnswer(t.Context(), a.ID, model.SaveAnswerRequest{
			ExamID: f.exam.ExamID, QuestionID: q.ID, AnswerPayload: answerRaw(1),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Timer reaches zero.
	expired, _ := f.db.Attempts.Get(t.Context(), a.ID)
	expired.ExpiresAt = time.Now().Add(-time.Second)
	f.db.PutAttempt(*expired)

	res, err := f.submission.AutoSubmit(t.Context(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.AttemptAutoSubmitted {
		t.Fatalf("status = %s", res.Status)
	}
	r := res.Result
	if r.AnsweredCount != 3 || r.CorrectCount != 3 || r.TotalQuestions != 4 || r.Percentage != 75 {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestSubmitOverdueBecomesAutoSubmitted(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(-time.Minute))

	res, err := f.submission.Submit(t.Context(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.AttemptAutoSubmitted {
		t.Fatalf("status = %s, want auto_submitted", res.Status)
	}
}

func TestReprocessOverwritesResult(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))
	if _, err := f.answers.SaveAnswer(t.Context(), a.ID, model.SaveAnswerRequest{
		ExamID: f.exam.ExamID, QuestionID: f.questions[0].ID, AnswerPayload: answerRaw(2),
	}); err != nil {
		t.Fatal(err)
	}
	first, err := f.submission.Submit(t.Context(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Result.CorrectCount != 0 {
		t.Fatalf("correct = %d, want 0", first.Result.CorrectCount)
	}

	// The answer key is corrected after the exam.
	f.questions[0].CorrectAnswer = answerRaw(2)
	f.db.PutExam(f.exam, f.questions)

	for range 2 {
		r, err := f.submission.Reprocess(t.Context(), a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if r.CorrectCount != 1 || r.Percentage != 25 {
			t.Fatalf("unexpected reprocessed result %+v", r)
		}
	}
	if f.db.ResultCount(a.ID) != 1 {
		t.Fatal("reprocess duplicated the result")
	}
	stored, _ := f.db.Attempts.Get(t.Context(), a.ID)
	if stored.Status != model.AttemptSubmitted {
		t.Fatalf("reprocess changed status to %s", stored.Status)
	}
}

func TestReprocessRequiresFinishedAttempt(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))
	if _, err := f.submission.Reprocess(t.Context(), a.ID); !errors.Is(err, ErrAttemptNotSubmitted) {
		t.Fatalf("err = %v, want ErrAttemptNotSubmitted", err)
	}
}

func TestRepairScoresOrphanedAttempt(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))
	if _, ok, _ := f.db.Attempts.Transition(t.Context(), a.ID, model.AttemptAutoSubmitted, time.Now().Add(-time.Hour)); !ok {
		t.Fatal("transition failed")
	}

	ids, err := f.db.Attempts.ListUnscored(t.Context(), time.Now(), 10)
	if err != nil || len(ids) != 1 {
		t.Fatalf("ListUnscored() = %v, %v", ids, err)
	}
	if err := f.submission.Repair(t.Context(), ids[0]); err != nil {
		t.Fatal(err)
	}
	if f.db.ResultCount(a.ID) != 1 {
		t.Fatal("repair did not score attempt")
	}
}
