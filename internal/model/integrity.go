package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity ranks an integrity signal.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Integrity event types emitted by the bundled client collector. The server
// accepts any type string; these are the well-known ones.
const (
	EventVisibilityHidden  = "visibility_hidden"
	EventVisibilityVisible = "visibility_visible"
	EventFullscreenExit    = "fullscreen_exit"
	EventFullscreenEnter   = "fullscreen_enter"
	EventWindowBlur        = "window_blur"
	EventWindowFocus       = "window_focus"
	EventTimerDrift        = "timer_drift"
	EventPageHide          = "page_hide"
)

// IntegrityEvent is one append-only row of an attempt's integrity log.
type IntegrityEvent struct {
	ID         int64           `json:"id"`
	AttemptID  uuid.UUID       `json:"attemptId"`
	Type       string          `json:"type"`
	Severity   Severity        `json:"severity"`
	OccurredAt time.Time       `json:"occurredAt"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// IntegrityEventInput is one client-reported event.
type IntegrityEventInput struct {
	Type       string          `json:"type" binding:"required,max=64"`
	Severity   Severity        `json:"severity" binding:"omitempty,max=16"`
	OccurredAt time.Time       `json:"occurredAt"`
	Metadata   json.RawMessage `json:"metadata"`
}

// IntegrityBatchRequest is a flushed client batch.
type IntegrityBatchRequest struct {
	Events []IntegrityEventInput `json:"events" binding:"required,min=1,max=200,dive"`
}

// IntegrityTally is the attempt's integrity counters after an append.
type IntegrityTally struct {
	IntegrityScore       int          `json:"integrityScore"`
	IntegrityEventsCount int          `json:"integrityEventsCount"`
	ReviewStatus         ReviewStatus `json:"reviewStatus,omitempty"`
}

// IntegritySummary is returned after ingesting a batch.
type IntegritySummary struct {
	AttemptID            uuid.UUID `json:"attemptId"`
	Accepted             int       `json:"accepted"`
	IntegrityScore       int       `json:"integrityScore"`
	IntegrityEventsCount int       `json:"integrityEventsCount"`
	Flagged              bool      `json:"flagged"`
}

// ScoreFromDeduction is 100 minus the cumulative deduction, clamped to [0, 100].
func ScoreFromDeduction(deduction int) int {
	return min(100, max(0, 100-deduction))
}
