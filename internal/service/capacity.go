package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CapacityGuard is the plan-limit collaborator consulted before PIN generation.
type CapacityGuard interface {
	AssertAllowed(ctx context.Context, examID uuid.UUID, requested int) error
}

// PinCapacityGuard caps the number of PINs an exam may hold. A limit of zero
// disables the guard.
type PinCapacityGuard struct {
	pins  PinStore
	limit int
}

// NewPinCapacityGuard creates a new PinCapacityGuard.
func NewPinCapacityGuard(pins PinStore, limit int) *PinCapacityGuard {
	return &PinCapacityGuard{pins: pins, limit: limit}
}

// AssertAllowed returns ErrCapacityExceeded when requested more PINs would
// take the exam over its limit.
func (g *PinCapacityGuard) AssertAllowed(ctx context.Context, examID uuid.UUID, requested int) error {
	if g.limit <= 0 {
		return nil
	}
	current, err := g.pins.CountByExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("count exam pins: %w", err)
	}
	if current+requested > g.limit {
		return fmt.Errorf("%w: %d existing + %d requested > %d", ErrCapacityExceeded, current, requested, g.limit)
	}
	return nil
}
