package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository/memstore"
	"github.com/stemsi/exstem-attempts/internal/service"
)

func sweepFixture(t *testing.T) (*memstore.DB, model.ExamConfig, *service.SubmissionService) {
	t.Helper()
	db := memstore.New()
	exam := model.ExamConfig{ExamID: uuid.New(), Title: "Chemistry", DurationMinutes: 45, PassingScore: 60}
	db.PutExam(exam, []model.Question{{
		ID:            uuid.New(),
		ExamID:        exam.ExamID,
		Type:          model.QuestionTypeTrueFalse,
		CorrectAnswer: json.RawMessage(`false`),
	}})
	sub := service.NewSubmissionService(db.Attempts, db.Answers, db.Results, db.Questions, db.Exams, nil, nil, zerolog.Nop())
	return db, exam, sub
}

func putAttempt(db *memstore.DB, exam model.ExamConfig, status model.AttemptStatus, expiresAt time.Time, submittedAt *time.Time) uuid.UUID {
	a := model.ExamAttempt{
		ID:             uuid.New(),
		ExamID:         exam.ExamID,
		CandidateID:    uuid.New(),
		CandidateName:  "Marie",
		Status:         status,
		StartedAt:      expiresAt.Add(-45 * time.Minute),
		ExpiresAt:      expiresAt,
		SubmittedAt:    submittedAt,
		IntegrityScore: 100,
	}
	db.PutAttempt(a)
	return a.ID
}

func TestSweepAutoSubmitsOverdue(t *testing.T) {
	db, exam, sub := sweepFixture(t)
	now := time.Now()
	overdue := putAttempt(db, exam, model.AttemptInProgress, now.Add(-time.Minute), nil)
	open := putAttempt(db, exam, model.AttemptInProgress, now.Add(time.Minute), nil)

	w := NewExpiryWorker(db.Attempts, sub, time.Minute, 100, zerolog.Nop())
	stats, err := w.Sweep(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Expired != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want one expired", stats)
	}

	a, _ := db.Attempts.Get(t.Context(), overdue)
	if a.Status != model.AttemptAutoSubmitted {
		t.Fatalf("overdue status = %s, want auto_submitted", a.Status)
	}
	if db.ResultCount(overdue) != 1 {
		t.Fatal("overdue attempt was not scored")
	}
	if b, _ := db.Attempts.Get(t.Context(), open); b.Status != model.AttemptInProgress {
		t.Fatalf("open attempt status = %s", b.Status)
	}

	stats, err = w.Sweep(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if stats != (SweepStats{}) {
		t.Fatalf("second sweep stats = %+v, want zero", stats)
	}
}

func TestSweepRepairsUnscored(t *testing.T) {
	db, exam, sub := sweepFixture(t)
	now := time.Now()
	old := now.Add(-10 * time.Minute)
	fresh := now.Add(-5 * time.Second)
	stale := putAttempt(db, exam, model.AttemptSubmitted, now.Add(time.Hour), &old)
	scoring := putAttempt(db, exam, model.AttemptSubmitted, now.Add(time.Hour), &fresh)

	w := NewExpiryWorker(db.Attempts, sub, time.Minute, 100, zerolog.Nop())
	stats, err := w.Sweep(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Repaired != 1 {
		t.Fatalf("stats = %+v, want one repaired", stats)
	}
	if db.ResultCount(stale) != 1 {
		t.Fatal("stale attempt was not repaired")
	}
	if db.ResultCount(scoring) != 0 {
		t.Fatal("attempt inside the grace period was touched")
	}
}

type fakeLister struct{ overdue []uuid.UUID }

func (f fakeLister) ListOverdue(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return f.overdue, nil
}

func (f fakeLister) ListUnscored(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeFinalizer struct{ err error }

func (f fakeFinalizer) AutoSubmit(context.Context, uuid.UUID) (*model.SubmitResult, error) {
	return nil, f.err
}

func (f fakeFinalizer) Repair(context.Context, uuid.UUID) error { return nil }

func TestSweepLostRaceIsNotFailure(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	for _, err := range []error{service.ErrAttemptNotEditable, service.ErrSubmitInProgress} {
		w := NewExpiryWorker(fakeLister{ids}, fakeFinalizer{err}, time.Minute, 10, zerolog.Nop())
		stats, sweepErr := w.Sweep(t.Context())
		if sweepErr != nil {
			t.Fatal(sweepErr)
		}
		if stats != (SweepStats{}) {
			t.Fatalf("%v: stats = %+v, want zero", err, stats)
		}
	}

	w := NewExpiryWorker(fakeLister{ids}, fakeFinalizer{errors.New("db down")}, time.Minute, 10, zerolog.Nop())
	stats, _ := w.Sweep(t.Context())
	if stats.Failed != 2 {
		t.Fatalf("stats = %+v, want two failures", stats)
	}
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []uuid.UUID
	errs    map[uuid.UUID]error
	done    chan struct{}
}

func (f *fakeApplier) ApplyAttempt(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return false, err
	}
	f.applied = append(f.applied, id)
	if f.done != nil {
		select {
		case f.done <- struct{}{}:
		default:
		}
	}
	return true, nil
}

func newQueue(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestAnalyticsFlushRequeuesFailures(t *testing.T) {
	rdb := newQueue(t)
	ok, broken, unscored := uuid.New(), uuid.New(), uuid.New()
	applier := &fakeApplier{errs: map[uuid.UUID]error{
		broken:   errors.New("deadlock"),
		unscored: service.ErrAttemptNotSubmitted,
	}}

	w := NewAnalyticsWorker(rdb, applier, zerolog.Nop())
	w.flushSafe(t.Context(), []uuid.UUID{ok, broken, unscored})

	if len(applier.applied) != 1 || applier.applied[0] != ok {
		t.Fatalf("applied = %v", applier.applied)
	}
	queued, err := rdb.LRange(t.Context(), config.WorkerKey.ApplyAnalyticsQueue, 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 || queued[0] != broken.String() {
		t.Fatalf("queue = %v, want only the failed attempt", queued)
	}
}

func TestAnalyticsWorkerDrainsQueue(t *testing.T) {
	rdb := newQueue(t)
	id := uuid.New()
	if err := service.NewRedisAnalyticsQueue(rdb).Enqueue(t.Context(), id); err != nil {
		t.Fatal(err)
	}

	applier := &fakeApplier{done: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(t.Context())
	stopped := make(chan struct{})
	go func() {
		NewAnalyticsWorker(rdb, applier, zerolog.Nop()).Start(ctx)
		close(stopped)
	}()

	select {
	case <-applier.done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued attempt was never applied")
	}
	cancel()
	<-stopped

	applier.mu.Lock()
	defer applier.mu.Unlock()
	if len(applier.applied) != 1 || applier.applied[0] != id {
		t.Fatalf("applied = %v", applier.applied)
	}
}
