package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// AccessService is the candidate entry point: PIN validation, attempt start
// and resume, each returning an attempt-scoped token.
type AccessService struct {
	pins       *PinService
	attempts   *AttemptService
	store      AttemptStore
	candidates CandidateStore
	configs    ExamConfigProvider
	tokens     *TokenService
	log        zerolog.Logger
	now        func() time.Time
}

// NewAccessService creates a new AccessService.
func NewAccessService(
	pins *PinService,
	attempts *AttemptService,
	store AttemptStore,
	candidates CandidateStore,
	configs ExamConfigProvider,
	tokens *TokenService,
	log zerolog.Logger,
) *AccessService {
	return &AccessService{
		pins:       pins,
		attempts:   attempts,
		store:      store,
		candidates: candidates,
		configs:    configs,
		tokens:     tokens,
		log:        log.With().Str("component", "access_service").Logger(),
		now:        time.Now,
	}
}

// ValidatePin redeems a PIN. With StartAttempt false it only reports whether
// the PIN is usable and spends nothing. Otherwise the attempt limit is checked
// before a use is spent, and the new attempt is returned with its token.
func (s *AccessService) ValidatePin(ctx context.Context, req model.ValidatePinRequest, caller string) (*model.ValidatePinResult, error) {
	name := model.NormalizeName(req.CandidateName)
	if req.WantsAttempt() && name == "" {
		return nil, ErrCandidateNameRequired
	}

	pin, err := s.pins.Verify(ctx, req.ExamID, req.Pin, req.CandidateIdentifier, caller)
	if err != nil {
		return nil, err
	}

	if !req.WantsAttempt() {
		return &model.ValidatePinResult{
			ExamID:        req.ExamID,
			PinID:         pin.ID,
			RemainingUses: pin.RemainingUses(),
		}, nil
	}

	cfg, err := loadConfig(ctx, s.configs, req.ExamID)
	if err != nil {
		return nil, err
	}

	candidate := &model.Candidate{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if id := model.NormalizeIdentifier(req.CandidateIdentifier); id != "" {
		candidate.ExternalID = &id
	}
	if err := s.candidates.Upsert(ctx, candidate); err != nil {
		return nil, fmt.Errorf("upsert candidate: %w", err)
	}

	identifier := ""
	if candidate.ExternalID != nil {
		identifier = *candidate.ExternalID
	}
	if cfg.MaxAttempts > 0 {
		n, err := s.store.CountByCandidate(ctx, req.ExamID, candidate.Name, identifier)
		if err != nil {
			return nil, fmt.Errorf("count candidate attempts: %w", err)
		}
		if n >= cfg.MaxAttempts {
			return nil, ErrMaxAttemptsReached
		}
	}

	spent, err := s.pins.Spend(ctx, pin)
	if err != nil {
		return nil, err
	}

	attempt, err := s.attempts.Start(ctx, cfg, candidate, &spent.ID)
	if errors.Is(err, ErrMaxAttemptsReached) {
		// A concurrent start for the same candidate took the last slot.
		if rerr := s.pins.Release(ctx, spent); rerr != nil {
			s.log.Error().Err(rerr).Str("pin_id", spent.ID.String()).Msg("Release PIN use failed")
		}
		return nil, err
	}
	if err != nil {
		s.log.Error().Err(err).
			Str("pin_id", spent.ID.String()).
			Str("exam_id", req.ExamID.String()).
			Msg("PIN use spent but attempt creation failed")
		return nil, err
	}

	token, err := s.tokens.IssueAttemptToken(attempt.ID, attempt.ExamID, attempt.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return &model.ValidatePinResult{
		ExamID:        req.ExamID,
		PinID:         spent.ID,
		RemainingUses: spent.RemainingUses(),
		AttemptID:     &attempt.ID,
		AttemptToken:  token,
		ExpiresAt:     &attempt.ExpiresAt,
	}, nil
}

// Resume returns the candidate's single open attempt with a fresh token.
func (s *AccessService) Resume(ctx context.Context, req model.ResumeAttemptRequest) (*model.ResumeResult, error) {
	attempt, err := s.attempts.Resume(ctx, req)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.IssueAttemptToken(attempt.ID, attempt.ExamID, attempt.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return &model.ResumeResult{
		ExamID:       attempt.ExamID,
		AttemptID:    attempt.ID,
		AttemptToken: token,
		ExpiresAt:    attempt.ExpiresAt,
	}, nil
}
