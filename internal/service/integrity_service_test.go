package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

func events(sev ...model.Severity) model.IntegrityBatchRequest {
	req := model.IntegrityBatchRequest{}
	for _, s := range sev {
		req.Events = append(req.Events, model.IntegrityEventInput{Type: model.EventWindowBlur, Severity: s, OccurredAt: time.Now()})
	}
	return req
}

func TestRecordDeductsBySeverity(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))

	sum, err := f.integrity.Record(t.Context(), a.ID, events(model.SeverityInfo, model.SeverityWarning, model.SeverityCritical))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Accepted != 3 || sum.IntegrityEventsCount != 3 || sum.IntegrityScore != 80 || sum.Flagged {
		t.Fatalf("unexpected summary %+v", sum)
	}

	sum, err = f.integrity.Record(t.Context(), a.ID, events(model.SeverityWarning))
	if err != nil {
		t.Fatal(err)
	}
	if sum.IntegrityScore != 75 || sum.Flagged {
		t.Fatalf("score 75 should not be flagged: %+v", sum)
	}

	sum, err = f.integrity.Record(t.Context(), a.ID, events(model.SeverityWarning))
	if err != nil {
		t.Fatal(err)
	}
	if sum.IntegrityScore != 70 || !sum.Flagged {
		t.Fatalf("score under threshold should flag: %+v", sum)
	}

	stored, _ := f.db.Attempts.Get(t.Context(), a.ID)
	if stored.Metadata.ReviewStatus != model.ReviewNeedsReview {
		t.Fatalf("review status = %q, want needs_review", stored.Metadata.ReviewStatus)
	}
	if n := len(f.db.Events(a.ID)); n != 5 {
		t.Fatalf("%d events stored, want 5", n)
	}
}

func TestRecordAcceptsLateEventsForFinishedAttempt(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))
	if _, err := f.submission.Submit(t.Context(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.integrity.Record(t.Context(), a.ID, events(model.SeverityInfo)); err != nil {
		t.Fatalf("late batch rejected: %v", err)
	}
	if _, err := f.integrity.Record(t.Context(), uuid.New(), events(model.SeverityInfo)); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("err = %v, want ErrAttemptNotFound", err)
	}
}

func TestScoreClampsAtZero(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))
	crit := make([]model.Severity, 10)
	for i := range crit {
		crit[i] = model.SeverityCritical
	}
	sum, err := f.integrity.Record(t.Context(), a.ID, events(crit...))
	if err != nil {
		t.Fatal(err)
	}
	if sum.IntegrityScore != 0 {
		t.Fatalf("score = %d, want 0", sum.IntegrityScore)
	}
}

func TestReviewStateMachine(t *testing.T) {
	f := newFixture(t)
	a := f.seedAttempt("Ada", time.Now().Add(time.Hour))

	if _, err := f.integrity.Review(t.Context(), a.ID, model.UpdateReviewRequest{Status: model.ReviewNeedsReview}, "admin-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.integrity.Review(t.Context(), a.ID, model.UpdateReviewRequest{Status: model.ReviewNeedsReview}, "admin-1"); !errors.Is(err, ErrInvalidReviewTransition) {
		t.Fatalf("needs_review twice: err = %v", err)
	}

	got, err := f.integrity.Review(t.Context(), a.ID, model.UpdateReviewRequest{Status: model.ReviewFlagged, Note: "phone visible"}, "admin-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.ReviewStatus != model.ReviewFlagged || got.Metadata.ReviewedBy != "admin-2" || got.Metadata.ReviewNote != "phone visible" {
		t.Fatalf("unexpected metadata %+v", got.Metadata)
	}
	if !IsFlagged(got, 75) {
		t.Fatal("explicit flag should count as flagged with a full score")
	}

	if _, err := f.integrity.Review(t.Context(), a.ID, model.UpdateReviewRequest{Status: model.ReviewCleared}, "admin-1"); !errors.Is(err, ErrInvalidReviewTransition) {
		t.Fatalf("flagged to cleared: err = %v", err)
	}
	if _, err := f.integrity.Review(t.Context(), a.ID, model.UpdateReviewRequest{Status: "bogus"}, "admin-1"); !errors.Is(err, ErrInvalidReviewTransition) {
		t.Fatalf("unknown status: err = %v", err)
	}
}
