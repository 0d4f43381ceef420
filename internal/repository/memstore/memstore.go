// Package memstore is an in-memory implementation of the service store
// interfaces. Every conditional write checks and mutates under one lock, which
// gives the same single-winner behaviour as the guarded SQL statements.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

type answerKey struct {
	attempt  uuid.UUID
	question uuid.UUID
}

// DB holds all tables. Use the typed store fields to access them.
type DB struct {
	mu sync.Mutex

	batches    map[uuid.UUID]model.PinBatch
	pins       map[uuid.UUID]model.Pin
	allowList  map[uuid.UUID]map[string]bool
	candidates map[uuid.UUID]model.Candidate
	attempts   map[uuid.UUID]model.ExamAttempt
	answers    map[answerKey]model.AttemptAnswer
	events     []model.IntegrityEvent
	results    map[uuid.UUID]model.ExamResult
	applied    map[uuid.UUID]bool
	analytics  map[uuid.UUID]model.QuestionAnalytics
	questions  map[uuid.UUID][]model.Question
	exams      map[uuid.UUID]model.ExamConfig

	Pins       *PinStore
	Candidates *CandidateStore
	Attempts   *AttemptStore
	Answers    *AnswerStore
	Results    *ResultStore
	Integrity  *IntegrityStore
	Analytics  *AnalyticsStore
	Questions  *QuestionBank
	Exams      *ExamConfigs
}

// New returns an empty database.
func New() *DB {
	db := &DB{
		batches:    map[uuid.UUID]model.PinBatch{},
		pins:       map[uuid.UUID]model.Pin{},
		allowList:  map[uuid.UUID]map[string]bool{},
		candidates: map[uuid.UUID]model.Candidate{},
		attempts:   map[uuid.UUID]model.ExamAttempt{},
		answers:    map[answerKey]model.AttemptAnswer{},
		results:    map[uuid.UUID]model.ExamResult{},
		applied:    map[uuid.UUID]bool{},
		analytics:  map[uuid.UUID]model.QuestionAnalytics{},
		questions:  map[uuid.UUID][]model.Question{},
		exams:      map[uuid.UUID]model.ExamConfig{},
	}
	db.Pins = &PinStore{db}
	db.Candidates = &CandidateStore{db}
	db.Attempts = &AttemptStore{db}
	db.Answers = &AnswerStore{db}
	db.Results = &ResultStore{db}
	db.Integrity = &IntegrityStore{db}
	db.Analytics = &AnalyticsStore{db}
	db.Questions = &QuestionBank{db}
	db.Exams = &ExamConfigs{db}
	return db
}

// PutExam registers an exam configuration and its questions.
func (db *DB) PutExam(cfg model.ExamConfig, questions []model.Question) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.exams[cfg.ExamID] = cfg
	qs := make([]model.Question, len(questions))
	copy(qs, questions)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Position < qs[j].Position })
	db.questions[cfg.ExamID] = qs
}

// PutAttempt stores an attempt as-is. Tests use it to seed expired attempts.
func (db *DB) PutAttempt(a model.ExamAttempt) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.attempts[a.ID] = cloneAttempt(a)
}

// Events returns the integrity log of an attempt.
func (db *DB) Events(attemptID uuid.UUID) []model.IntegrityEvent {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.IntegrityEvent
	for _, e := range db.events {
		if e.AttemptID == attemptID {
			out = append(out, e)
		}
	}
	return out
}

// ResultCount returns the number of stored results for an attempt.
func (db *DB) ResultCount(attemptID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.results[attemptID]; ok {
		return 1
	}
	return 0
}

// PinHashes returns every stored PIN hash and hint.
func (db *DB) PinHashes() map[string]string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make(map[string]string, len(db.pins))
	for _, p := range db.pins {
		out[p.PinHash] = p.Hint
	}
	return out
}

func cloneAttempt(a model.ExamAttempt) model.ExamAttempt {
	if a.QuestionOrder != nil {
		a.QuestionOrder = append([]uuid.UUID(nil), a.QuestionOrder...)
	}
	if a.Metadata.Flags != nil {
		a.Metadata.Flags = append([]string(nil), a.Metadata.Flags...)
	}
	return a
}

// ─── PINs ────────────────────────────────────────────────────────────────────

// PinStore implements service.PinStore.
type PinStore struct{ db *DB }

func (s *PinStore) CreateBatch(_ context.Context, batch *model.PinBatch, pins []model.Pin) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.batches[batch.ID] = *batch
	for _, p := range pins {
		s.db.pins[p.ID] = p
	}
	return nil
}

func (s *PinStore) ExistingHashes(_ context.Context, examID uuid.UUID, hashes []string) (map[string]bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	want := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		want[h] = true
	}
	out := map[string]bool{}
	for _, p := range s.db.pins {
		if p.ExamID == examID && want[p.PinHash] {
			out[p.PinHash] = true
		}
	}
	return out, nil
}

func (s *PinStore) FindByHash(_ context.Context, examID uuid.UUID, hash string) (*model.Pin, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.pins {
		if p.ExamID == examID && p.PinHash == hash {
			return &p, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *PinStore) GetPin(_ context.Context, pinID uuid.UUID) (*model.Pin, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.pins[pinID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func (s *PinStore) IsAllowListed(_ context.Context, pinID uuid.UUID, identifier string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.allowList[pinID][identifier], nil
}

func (s *PinStore) IncrementUse(_ context.Context, pinID uuid.UUID, now time.Time) (int, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.pins[pinID]
	if !ok || !p.Redeemable(now) {
		return 0, false, nil
	}
	p.UsesCount++
	s.db.pins[pinID] = p
	return p.UsesCount, true, nil
}

func (s *PinStore) ReleaseUse(_ context.Context, pinID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if p, ok := s.db.pins[pinID]; ok && p.UsesCount > 0 {
		p.UsesCount--
		s.db.pins[pinID] = p
	}
	return nil
}

func (s *PinStore) RevokeBatch(_ context.Context, batchID uuid.UUID) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.batches[batchID]; !ok {
		return 0, model.ErrNotFound
	}
	var n int64
	for id, p := range s.db.pins {
		if p.BatchID == batchID && p.Status == model.PinStatusActive {
			p.Status = model.PinStatusRevoked
			s.db.pins[id] = p
			n++
		}
	}
	return n, nil
}

func (s *PinStore) AddAllowList(_ context.Context, pinID uuid.UUID, identifiers []string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	set := s.db.allowList[pinID]
	if set == nil {
		set = map[string]bool{}
		s.db.allowList[pinID] = set
	}
	var n int64
	for _, id := range identifiers {
		if !set[id] {
			set[id] = true
			n++
		}
	}
	return n, nil
}

func (s *PinStore) CountByExam(_ context.Context, examID uuid.UUID) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, p := range s.db.pins {
		if p.ExamID == examID {
			n++
		}
	}
	return n, nil
}

// ─── Candidates ──────────────────────────────────────────────────────────────

// CandidateStore implements service.CandidateStore.
type CandidateStore struct{ db *DB }

func (s *CandidateStore) Upsert(_ context.Context, c *model.Candidate) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if c.ExternalID != nil {
		for id, existing := range s.db.candidates {
			if existing.ExternalID != nil && *existing.ExternalID == *c.ExternalID {
				existing.Name = c.Name
				s.db.candidates[id] = existing
				c.ID = existing.ID
				c.CreatedAt = existing.CreatedAt
				return nil
			}
		}
	}
	s.db.candidates[c.ID] = *c
	return nil
}

// ─── Attempts ────────────────────────────────────────────────────────────────

// AttemptStore implements service.AttemptStore.
type AttemptStore struct{ db *DB }

func (s *AttemptStore) Create(_ context.Context, a *model.ExamAttempt, maxAttempts int) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if maxAttempts > 0 {
		identifier := ""
		if a.CandidateIdentifier != nil {
			identifier = *a.CandidateIdentifier
		}
		if s.countLocked(a.ExamID, a.CandidateName, identifier) >= maxAttempts {
			return false, nil
		}
	}
	s.db.attempts[a.ID] = cloneAttempt(*a)
	return true, nil
}

func (s *AttemptStore) Get(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.attempts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	a = cloneAttempt(a)
	return &a, nil
}

func (s *AttemptStore) FindByIdentity(_ context.Context, examID uuid.UUID, name, identifier string) ([]model.ExamAttempt, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.ExamAttempt
	for _, a := range s.db.attempts {
		if a.ExamID != examID {
			continue
		}
		if name != "" && !strings.EqualFold(model.NormalizeName(a.CandidateName), name) {
			continue
		}
		if identifier != "" && (a.CandidateIdentifier == nil || *a.CandidateIdentifier != identifier) {
			continue
		}
		out = append(out, cloneAttempt(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *AttemptStore) CountByCandidate(_ context.Context, examID uuid.UUID, name, identifier string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.countLocked(examID, name, identifier), nil
}

func (s *AttemptStore) countLocked(examID uuid.UUID, name, identifier string) int {
	n := 0
	for _, a := range s.db.attempts {
		if a.ExamID != examID {
			continue
		}
		if identifier != "" {
			if a.CandidateIdentifier != nil && *a.CandidateIdentifier == identifier {
				n++
			}
			continue
		}
		if strings.EqualFold(a.CandidateName, name) {
			n++
		}
	}
	return n
}

func (s *AttemptStore) UpdateProgress(_ context.Context, id uuid.UUID, index int, now time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.attempts[id]
	if !ok || !a.Editable(now) {
		return false, nil
	}
	a.CurrentQuestionIndex = index
	s.db.attempts[id] = a
	return true, nil
}

func (s *AttemptStore) Transition(_ context.Context, id uuid.UUID, to model.AttemptStatus, now time.Time) (*model.ExamAttempt, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.attempts[id]
	if !ok || a.Status != model.AttemptInProgress {
		return nil, false, nil
	}
	a.Status = to
	submitted := now.UTC()
	a.SubmittedAt = &submitted
	s.db.attempts[id] = a
	a = cloneAttempt(a)
	return &a, true, nil
}

func (s *AttemptStore) UpdateReview(_ context.Context, id uuid.UUID, from []model.ReviewStatus, meta model.AttemptMetadata) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.attempts[id]
	if !ok {
		return false, model.ErrNotFound
	}
	for _, f := range from {
		if a.Metadata.ReviewStatus == f {
			a.Metadata = meta
			s.db.attempts[id] = a
			return true, nil
		}
	}
	return false, nil
}

func (s *AttemptStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []uuid.UUID
	for _, a := range s.db.attempts {
		if a.Overdue(now) {
			out = append(out, a.ID)
		}
	}
	return capIDs(out, limit), nil
}

func (s *AttemptStore) ListUnscored(_ context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []uuid.UUID
	for _, a := range s.db.attempts {
		if !a.Status.Terminal() || a.SubmittedAt == nil || !a.SubmittedAt.Before(olderThan) {
			continue
		}
		if _, scored := s.db.results[a.ID]; !scored {
			out = append(out, a.ID)
		}
	}
	return capIDs(out, limit), nil
}

func (s *AttemptStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.ExamAttempt
	for _, a := range s.db.attempts {
		if a.ExamID == examID {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func capIDs(ids []uuid.UUID, limit int) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

// ─── Answers ─────────────────────────────────────────────────────────────────

// AnswerStore implements service.AnswerStore.
type AnswerStore struct{ db *DB }

func (s *AnswerStore) Save(_ context.Context, ans *model.AttemptAnswer, currentIndex int, now time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.attempts[ans.AttemptID]
	if !ok || !a.Editable(now) {
		return false, nil
	}
	a.CurrentQuestionIndex = currentIndex
	s.db.attempts[a.ID] = a
	s.db.answers[answerKey{ans.AttemptID, ans.QuestionID}] = *ans
	return true, nil
}

func (s *AnswerStore) ListByAttempt(_ context.Context, attemptID uuid.UUID) (map[uuid.UUID]*model.AnswerPayload, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := map[uuid.UUID]*model.AnswerPayload{}
	for k, v := range s.db.answers {
		if k.attempt == attemptID && v.Answer != nil {
			out[k.question] = clonePayload(v.Answer)
		}
	}
	return out, nil
}

func (s *AnswerStore) ListByExam(_ context.Context, examID uuid.UUID) (map[uuid.UUID]map[uuid.UUID]*model.AnswerPayload, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := map[uuid.UUID]map[uuid.UUID]*model.AnswerPayload{}
	for k, v := range s.db.answers {
		a := s.db.attempts[k.attempt]
		if a.ExamID != examID || v.Answer == nil {
			continue
		}
		if _, scored := s.db.results[k.attempt]; !scored {
			continue
		}
		if out[k.attempt] == nil {
			out[k.attempt] = map[uuid.UUID]*model.AnswerPayload{}
		}
		out[k.attempt][k.question] = clonePayload(v.Answer)
	}
	return out, nil
}

func (s *AnswerStore) AnsweredCounts(_ context.Context, examID uuid.UUID) (map[uuid.UUID]int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := map[uuid.UUID]int{}
	for k, v := range s.db.answers {
		if s.db.attempts[k.attempt].ExamID == examID && v.Answer != nil {
			out[k.attempt]++
		}
	}
	return out, nil
}

// Answer returns the stored answer row, for assertions.
func (s *AnswerStore) Answer(attemptID, questionID uuid.UUID) (model.AttemptAnswer, bool) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	v, ok := s.db.answers[answerKey{attemptID, questionID}]
	return v, ok
}

func clonePayload(p *model.AnswerPayload) *model.AnswerPayload {
	c := *p
	if p.Options != nil {
		c.Options = append([]int(nil), p.Options...)
	}
	return &c
}

// ─── Results ─────────────────────────────────────────────────────────────────

// ResultStore implements service.ResultStore.
type ResultStore struct{ db *DB }

func (s *ResultStore) Upsert(_ context.Context, r *model.ExamResult) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.results[r.AttemptID] = *r
	return nil
}

func (s *ResultStore) Get(_ context.Context, attemptID uuid.UUID) (*model.ExamResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.results[attemptID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (s *ResultStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.ExamResult
	for _, r := range s.db.results {
		if r.ExamID == examID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ─── Integrity ───────────────────────────────────────────────────────────────

// IntegrityStore implements service.IntegrityStore.
type IntegrityStore struct{ db *DB }

func (s *IntegrityStore) Append(_ context.Context, attemptID uuid.UUID, events []model.IntegrityEvent, deduction, threshold int) (*model.IntegrityTally, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.attempts[attemptID]
	if !ok {
		return nil, model.ErrNotFound
	}
	for _, e := range events {
		e.ID = int64(len(s.db.events) + 1)
		s.db.events = append(s.db.events, e)
	}
	a.IntegrityDeduction += deduction
	a.IntegrityEventsCount += len(events)
	a.IntegrityScore = model.ScoreFromDeduction(a.IntegrityDeduction)
	if a.IntegrityScore < threshold && a.Metadata.ReviewStatus == model.ReviewNone {
		a.Metadata.ReviewStatus = model.ReviewNeedsReview
	}
	s.db.attempts[attemptID] = a
	return &model.IntegrityTally{
		IntegrityScore:       a.IntegrityScore,
		IntegrityEventsCount: a.IntegrityEventsCount,
		ReviewStatus:         a.Metadata.ReviewStatus,
	}, nil
}

// ─── Analytics ───────────────────────────────────────────────────────────────

// AnalyticsStore implements service.AnalyticsStore.
type AnalyticsStore struct{ db *DB }

func (s *AnalyticsStore) ApplyAttempt(_ context.Context, attemptID, examID uuid.UUID, deltas []model.QuestionDelta, now time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.results[attemptID]; !ok {
		return false, model.ErrNotFound
	}
	if s.db.applied[attemptID] {
		return false, nil
	}
	for _, d := range deltas {
		qa, ok := s.db.analytics[d.QuestionID]
		if !ok {
			qa = model.QuestionAnalytics{QuestionID: d.QuestionID, ExamID: examID, OptionCounts: map[string]int64{}}
		}
		qa.ExposureCount++
		if d.Answered {
			qa.AnswerCount++
			qa.OptionCounts[d.OptionKey]++
		}
		if d.Correct {
			qa.CorrectCount++
		}
		qa.UpdatedAt = now
		s.db.analytics[d.QuestionID] = qa
	}
	s.db.applied[attemptID] = true
	return true, nil
}

func (s *AnalyticsStore) ListByExam(_ context.Context, examID uuid.UUID) (map[uuid.UUID]*model.QuestionAnalytics, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := map[uuid.UUID]*model.QuestionAnalytics{}
	for id, qa := range s.db.analytics {
		if qa.ExamID != examID {
			continue
		}
		c := qa
		c.OptionCounts = make(map[string]int64, len(qa.OptionCounts))
		for k, v := range qa.OptionCounts {
			c.OptionCounts[k] = v
		}
		out[id] = &c
	}
	return out, nil
}

// ─── Collaborators ───────────────────────────────────────────────────────────

// QuestionBank implements service.QuestionBank.
type QuestionBank struct{ db *DB }

func (s *QuestionBank) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	qs := s.db.questions[examID]
	out := make([]model.Question, len(qs))
	for i, q := range qs {
		q.CorrectAnswer = append(json.RawMessage(nil), q.CorrectAnswer...)
		out[i] = q
	}
	return out, nil
}

// ExamConfigs implements service.ExamConfigProvider.
type ExamConfigs struct{ db *DB }

func (s *ExamConfigs) GetConfig(_ context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cfg, ok := s.db.exams[examID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &cfg, nil
}
