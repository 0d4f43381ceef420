package candidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionClosed is returned once the server has refused further writes or
// the session has submitted.
var ErrSessionClosed = errors.New("session closed")

// AttemptAPI is the subset of AttemptClient a Session drives.
type AttemptAPI interface {
	SaveAnswer(ctx context.Context, req SaveAnswerRequest) (*SaveAnswerResult, error)
	Submit(ctx context.Context) (*SubmitResult, error)
}

// SessionConfig tunes the autosave and countdown schedules.
type SessionConfig struct {
	AutosaveInterval time.Duration
	CountdownTick    time.Duration
	// OnTick, if set, receives the advisory remaining time on every tick.
	OnTick func(remaining time.Duration)
}

func (c *SessionConfig) withDefaults() {
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = 30 * time.Second
	}
	if c.CountdownTick <= 0 {
		c.CountdownTick = time.Second
	}
}

type pendingAnswer struct {
	value json.RawMessage
	seq   uint64
}

// Session keeps local answers in sync with the server while an attempt is
// open. Answers are saved on change and on a fixed interval; when the
// countdown reaches zero pending answers are flushed and the attempt is
// submitted. The countdown is advisory: the server remains the authority and
// will refuse late writes regardless.
type Session struct {
	api    AttemptAPI
	examID uuid.UUID
	cfg    SessionConfig
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	pending   map[uuid.UUID]pendingAnswer
	seq       uint64
	index     int
	expiresAt time.Time
	closed    bool
	result    *SubmitResult

	changed chan struct{}
	saveMu  sync.Mutex
}

// NewSession creates a session for an attempt expiring at expiresAt.
func NewSession(api AttemptAPI, examID uuid.UUID, expiresAt time.Time, cfg SessionConfig, log zerolog.Logger) *Session {
	cfg.withDefaults()
	return &Session{
		api:       api,
		examID:    examID,
		cfg:       cfg,
		log:       log.With().Str("component", "candidate_session").Logger(),
		now:       time.Now,
		pending:   make(map[uuid.UUID]pendingAnswer),
		expiresAt: expiresAt,
		changed:   make(chan struct{}, 1),
	}
}

// SetAnswer records a local answer and schedules a save. value is the wire
// value for the question type; nil clears the answer.
func (s *Session) SetAnswer(questionID uuid.UUID, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.seq++
	s.pending[questionID] = pendingAnswer{value: raw, seq: s.seq}
	s.mu.Unlock()

	s.notify()
	return nil
}

// SetIndex moves the cursor sent with the next save.
func (s *Session) SetIndex(index int) {
	s.mu.Lock()
	s.index = max(0, index)
	s.mu.Unlock()
}

// Remaining is the advisory time left, never negative.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(0, s.expiresAt.Sub(s.now()))
}

// Pending returns the number of answers not yet acknowledged by the server.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Run drives autosave and the countdown until the attempt is submitted, the
// server closes it, or ctx is cancelled. It returns the submit result when the
// countdown submitted the attempt.
func (s *Session) Run(ctx context.Context) (*SubmitResult, error) {
	autosave := time.NewTicker(s.cfg.AutosaveInterval)
	defer autosave.Stop()
	countdown := time.NewTicker(s.cfg.CountdownTick)
	defer countdown.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-s.changed:
			if err := s.Flush(ctx); errors.Is(err, ErrSessionClosed) {
				return s.closedResult()
			}

		case <-autosave.C:
			if err := s.Flush(ctx); errors.Is(err, ErrSessionClosed) {
				return s.closedResult()
			}

		case <-countdown.C:
			remaining := s.Remaining()
			if s.cfg.OnTick != nil {
				s.cfg.OnTick(remaining)
			}
			if remaining <= 0 {
				s.log.Info().Msg("Countdown reached zero, submitting")
				return s.Submit(ctx)
			}
		}
	}
}

func (s *Session) closedResult() (*SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return s.result, nil
	}
	return nil, ErrSessionClosed
}

// Flush saves every pending answer. A failed save stays pending unless a newer
// local value replaced it in the meantime.
func (s *Session) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	batch := make(map[uuid.UUID]pendingAnswer, len(s.pending))
	for id, p := range s.pending {
		batch[id] = p
	}
	index := s.index
	s.mu.Unlock()

	var firstErr error
	for qid, p := range batch {
		res, err := s.api.SaveAnswer(ctx, SaveAnswerRequest{
			ExamID:               s.examID,
			QuestionID:           qid,
			AnswerPayload:        p.value,
			CurrentQuestionIndex: index,
		})
		if err != nil {
			if Closed(err) {
				s.markClosed()
				return ErrSessionClosed
			}
			s.log.Warn().Err(err).Str("question_id", qid.String()).Msg("Autosave failed, will retry")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		s.mu.Lock()
		if cur, ok := s.pending[qid]; ok && cur.seq == p.seq {
			delete(s.pending, qid)
		}
		s.expiresAt = s.now().Add(time.Duration(res.RemainingSeconds) * time.Second)
		s.mu.Unlock()
	}
	return firstErr
}

// Submit flushes pending answers and submits the attempt. A flush failure does
// not prevent the submit.
func (s *Session) Submit(ctx context.Context) (*SubmitResult, error) {
	if err := s.Flush(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.Warn().Err(err).Int("pending", s.Pending()).Msg("Submitting with unsaved answers")
	}

	res, err := s.api.Submit(ctx)
	if err != nil {
		if Closed(err) {
			s.markClosed()
		}
		return nil, err
	}

	s.mu.Lock()
	s.closed = true
	s.result = res
	s.mu.Unlock()
	return res, nil
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
