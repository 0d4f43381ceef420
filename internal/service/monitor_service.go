package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
	"golang.org/x/sync/errgroup"
)

// Monitor event types pushed to admin dashboards.
const (
	MonitorAttemptStarted   = "attempt_started"
	MonitorAttemptSubmitted = "attempt_submitted"
	MonitorIntegrityFlagged = "integrity_flagged"
)

// MonitorEvent is one live update for an exam's monitor channel.
type MonitorEvent struct {
	Type           string              `json:"type"`
	ExamID         uuid.UUID           `json:"examId"`
	AttemptID      uuid.UUID           `json:"attemptId"`
	CandidateName  string              `json:"candidateName,omitempty"`
	Status         model.AttemptStatus `json:"status,omitempty"`
	IntegrityScore *int                `json:"integrityScore,omitempty"`
	Percentage     *int                `json:"percentage,omitempty"`
	At             time.Time           `json:"at"`
}

// EventPublisher fans monitor events out to listening dashboards.
type EventPublisher interface {
	Publish(ctx context.Context, ev MonitorEvent) error
}

// MonitorAttempt is one row of the monitor snapshot.
type MonitorAttempt struct {
	AttemptID            uuid.UUID           `json:"attemptId"`
	CandidateName        string              `json:"candidateName"`
	CandidateIdentifier  *string             `json:"candidateIdentifier,omitempty"`
	Status               model.AttemptStatus `json:"status"`
	StartedAt            time.Time           `json:"startedAt"`
	ExpiresAt            time.Time           `json:"expiresAt"`
	RemainingSeconds     int64               `json:"remainingSeconds"`
	AnsweredCount        int                 `json:"answeredCount"`
	IntegrityScore       int                 `json:"integrityScore"`
	IntegrityEventsCount int                 `json:"integrityEventsCount"`
	Flagged              bool                `json:"flagged"`
	ReviewStatus         model.ReviewStatus  `json:"reviewStatus,omitempty"`
}

// MonitorSnapshot is the full monitor view of one exam.
type MonitorSnapshot struct {
	ExamID     uuid.UUID        `json:"examId"`
	InProgress int              `json:"inProgress"`
	Finished   int              `json:"finished"`
	Flagged    int              `json:"flagged"`
	Attempts   []MonitorAttempt `json:"attempts"`
	At         time.Time        `json:"at"`
}

// MonitorService builds monitor snapshots and relays live events over Redis PubSub.
type MonitorService struct {
	attempts  AttemptStore
	answers   AnswerStore
	rdb       *redis.Client
	threshold int
	log       zerolog.Logger
}

// NewMonitorService creates a new MonitorService. rdb may be nil, in which
// case events are dropped and Subscribe is unavailable.
func NewMonitorService(attempts AttemptStore, answers AnswerStore, rdb *redis.Client, threshold int, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		attempts:  attempts,
		answers:   answers,
		rdb:       rdb,
		threshold: threshold,
		log:       log.With().Str("component", "monitor_service").Logger(),
	}
}

// Snapshot loads attempts and answered counts in parallel.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID) (*MonitorSnapshot, error) {
	var (
		attempts []model.ExamAttempt
		answered map[uuid.UUID]int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attempts, err = s.attempts.ListByExam(gctx, examID)
		return err
	})
	g.Go(func() error {
		var err error
		answered, err = s.answers.AnsweredCounts(gctx, examID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load monitor snapshot: %w", err)
	}

	now := time.Now()
	snap := &MonitorSnapshot{ExamID: examID, Attempts: make([]MonitorAttempt, 0, len(attempts)), At: now}
	for i := range attempts {
		a := &attempts[i]
		flagged := IsFlagged(a, s.threshold)
		snap.Attempts = append(snap.Attempts, MonitorAttempt{
			AttemptID:            a.ID,
			CandidateName:        a.CandidateName,
			CandidateIdentifier:  a.CandidateIdentifier,
			Status:               a.Status,
			StartedAt:            a.StartedAt,
			ExpiresAt:            a.ExpiresAt,
			RemainingSeconds:     a.RemainingSeconds(now),
			AnsweredCount:        answered[a.ID],
			IntegrityScore:       a.IntegrityScore,
			IntegrityEventsCount: a.IntegrityEventsCount,
			Flagged:              flagged,
			ReviewStatus:         a.Metadata.ReviewStatus,
		})
		if a.Status.Terminal() {
			snap.Finished++
		} else {
			snap.InProgress++
		}
		if flagged {
			snap.Flagged++
		}
	}
	return snap, nil
}

// Publish sends ev to the exam's monitor channel.
func (s *MonitorService) Publish(ctx context.Context, ev MonitorEvent) error {
	if s.rdb == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), data).Err()
}

// Subscribe returns the exam's monitor channel subscription. The caller must Close it.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) (*redis.PubSub, error) {
	if s.rdb == nil {
		return nil, fmt.Errorf("monitor pubsub unavailable")
	}
	sub := s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe monitor channel: %w", err)
	}
	return sub, nil
}

// publish is the best-effort helper used by other services.
func publish(ctx context.Context, p EventPublisher, log zerolog.Logger, ev MonitorEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("attempt_id", ev.AttemptID.String()).Str("type", ev.Type).Msg("Failed to publish monitor event")
	}
}
