package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// IntegrityWeights are the score deductions per severity.
type IntegrityWeights struct {
	Info     int
	Warning  int
	Critical int
}

// Deduction returns the points one event of sev costs.
func (w IntegrityWeights) Deduction(sev model.Severity) int {
	switch sev {
	case model.SeverityWarning:
		return w.Warning
	case model.SeverityCritical:
		return w.Critical
	}
	return w.Info
}

// IsFlagged reports whether the attempt needs attention: its score is under
// threshold or an admin flagged it explicitly.
func IsFlagged(a *model.ExamAttempt, threshold int) bool {
	return a.IntegrityScore < threshold || a.Metadata.ReviewStatus == model.ReviewFlagged
}

// reviewTransitions lists the review statuses each target may be reached from.
var reviewTransitions = map[model.ReviewStatus][]model.ReviewStatus{
	model.ReviewNeedsReview: {model.ReviewNone},
	model.ReviewReviewed:    {model.ReviewNone, model.ReviewNeedsReview},
	model.ReviewCleared:     {model.ReviewNone, model.ReviewNeedsReview},
	model.ReviewFlagged:     {model.ReviewNone, model.ReviewNeedsReview},
}

// IntegrityService ingests integrity events and runs the admin review
// state machine.
type IntegrityService struct {
	attempts  AttemptStore
	store     IntegrityStore
	publisher EventPublisher
	weights   IntegrityWeights
	threshold int
	log       zerolog.Logger
	now       func() time.Time
}

// NewIntegrityService creates a new IntegrityService.
func NewIntegrityService(
	attempts AttemptStore,
	store IntegrityStore,
	publisher EventPublisher,
	weights IntegrityWeights,
	threshold int,
	log zerolog.Logger,
) *IntegrityService {
	return &IntegrityService{
		attempts:  attempts,
		store:     store,
		publisher: publisher,
		weights:   weights,
		threshold: threshold,
		log:       log.With().Str("component", "integrity_service").Logger(),
		now:       time.Now,
	}
}

// Record appends a client batch. Events are accepted for any existing attempt,
// including finished ones, since batches flushed at unload arrive late.
func (s *IntegrityService) Record(ctx context.Context, attemptID uuid.UUID, req model.IntegrityBatchRequest) (*model.IntegritySummary, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	received := s.now().UTC()
	events := make([]model.IntegrityEvent, 0, len(req.Events))
	deduction := 0
	for _, in := range req.Events {
		sev := in.Severity
		if sev != model.SeverityWarning && sev != model.SeverityCritical {
			sev = model.SeverityInfo
		}
		occurred := in.OccurredAt
		if occurred.IsZero() {
			occurred = received
		}
		events = append(events, model.IntegrityEvent{
			AttemptID:  attemptID,
			Type:       in.Type,
			Severity:   sev,
			OccurredAt: occurred.UTC(),
			ReceivedAt: received,
			Metadata:   in.Metadata,
		})
		deduction += s.weights.Deduction(sev)
	}

	tally, err := s.store.Append(ctx, attemptID, events, deduction, s.threshold)
	if err != nil {
		return nil, fmt.Errorf("append integrity events: %w", err)
	}

	flagged := tally.IntegrityScore < s.threshold || tally.ReviewStatus == model.ReviewFlagged
	wasFlagged := IsFlagged(attempt, s.threshold)
	if flagged && !wasFlagged {
		score := tally.IntegrityScore
		publish(ctx, s.publisher, s.log, MonitorEvent{
			Type:           MonitorIntegrityFlagged,
			ExamID:         attempt.ExamID,
			AttemptID:      attemptID,
			CandidateName:  attempt.CandidateName,
			Status:         attempt.Status,
			IntegrityScore: &score,
			At:             received,
		})
		s.log.Warn().
			Str("attempt_id", attemptID.String()).
			Int("integrity_score", score).
			Msg("Attempt crossed integrity threshold")
	}

	return &model.IntegritySummary{
		AttemptID:            attemptID,
		Accepted:             len(events),
		IntegrityScore:       tally.IntegrityScore,
		IntegrityEventsCount: tally.IntegrityEventsCount,
		Flagged:              flagged,
	}, nil
}

// Review moves the admin review state machine. Only needs_review (or an
// unreviewed attempt) may move to a final review status.
func (s *IntegrityService) Review(ctx context.Context, attemptID uuid.UUID, req model.UpdateReviewRequest, reviewer string) (*model.ExamAttempt, error) {
	from, ok := reviewTransitions[req.Status]
	if !ok {
		return nil, ErrInvalidReviewTransition
	}

	attempt, err := s.attempts.Get(ctx, attemptID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if !slices.Contains(from, attempt.Metadata.ReviewStatus) {
		return nil, ErrInvalidReviewTransition
	}

	now := s.now().UTC()
	meta := attempt.Metadata
	meta.ReviewStatus = req.Status
	meta.ReviewNote = req.Note
	meta.ReviewedBy = reviewer
	meta.ReviewedAt = &now

	updated, err := s.attempts.UpdateReview(ctx, attemptID, from, meta)
	if err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}
	if !updated {
		// A concurrent review won.
		return nil, ErrInvalidReviewTransition
	}

	attempt.Metadata = meta
	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("review_status", string(req.Status)).
		Str("reviewer", reviewer).
		Msg("Attempt review updated")
	return attempt, nil
}
