package model

import (
	"time"

	"github.com/google/uuid"
)

// PinStatus enumerates PIN lifecycle states.
type PinStatus string

const (
	PinStatusActive  PinStatus = "active"
	PinStatusRevoked PinStatus = "revoked"
)

// PinCharset selects the alphabet PINs are drawn from.
type PinCharset string

const (
	PinCharsetNumeric      PinCharset = "numeric"
	PinCharsetAlphanumeric PinCharset = "alphanumeric"
)

// Alphabet returns the characters for the charset.
func (c PinCharset) Alphabet() string {
	if c == PinCharsetAlphanumeric {
		return "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	}
	return "0123456789"
}

// Pin is an access code bound to one exam. Only the keyed hash of the code is
// stored; Hint holds the last few characters for admin display.
type Pin struct {
	ID               uuid.UUID  `json:"id"`
	ExamID           uuid.UUID  `json:"examId"`
	BatchID          uuid.UUID  `json:"batchId"`
	PinHash          string     `json:"-"`
	Hint             string     `json:"hint"`
	Status           PinStatus  `json:"status"`
	MaxUses          int        `json:"maxUses"`
	UsesCount        int        `json:"usesCount"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	AllowListEnabled bool       `json:"allowListEnabled"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Redeemable reports whether the PIN may be spent at now.
func (p *Pin) Redeemable(now time.Time) bool {
	if p.Status != PinStatusActive || p.UsesCount >= p.MaxUses {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// RemainingUses never goes negative.
func (p *Pin) RemainingUses() int {
	if p.UsesCount >= p.MaxUses {
		return 0
	}
	return p.MaxUses - p.UsesCount
}

// PinBatch groups PINs created by one generation request.
type PinBatch struct {
	ID               uuid.UUID  `json:"id"`
	ExamID           uuid.UUID  `json:"examId"`
	Prefix           string     `json:"prefix"`
	Length           int        `json:"length"`
	Charset          PinCharset `json:"charset"`
	Quantity         int        `json:"quantity"`
	MaxUses          int        `json:"maxUses"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	AllowListEnabled bool       `json:"allowListEnabled"`
	CreatedBy        string     `json:"createdBy"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// AllowListEntry restricts redemption of a PIN to a candidate identifier.
type AllowListEntry struct {
	PinID               uuid.UUID `json:"pinId"`
	CandidateIdentifier string    `json:"candidateIdentifier"`
}

// GeneratePinBatchRequest is the admin payload for PIN generation.
type GeneratePinBatchRequest struct {
	Quantity         int        `json:"quantity" binding:"required,min=1,max=10000"`
	Length           int        `json:"length" binding:"required,min=4,max=32"`
	Charset          PinCharset `json:"charset" binding:"required,oneof=numeric alphanumeric"`
	Prefix           string     `json:"prefix" binding:"omitempty,max=16,alphanum"`
	MaxUses          int        `json:"maxUses" binding:"required,min=1,max=100000"`
	ExpiresAt        *time.Time `json:"expiresAt" binding:"omitempty"`
	AllowListEnabled bool       `json:"allowListEnabled"`
}

// GeneratedPin carries a raw PIN. It is returned exactly once, at generation.
type GeneratedPin struct {
	ID   uuid.UUID `json:"id"`
	Pin  string    `json:"pin"`
	Hint string    `json:"hint"`
}

// GeneratedBatch is the generation response.
type GeneratedBatch struct {
	Batch PinBatch       `json:"batch"`
	Pins  []GeneratedPin `json:"pins"`
}

// AllowListRequest adds candidate identifiers to a PIN's allow-list.
type AllowListRequest struct {
	CandidateIdentifiers []string `json:"candidateIdentifiers" binding:"required,min=1,max=1000,dive,required,max=128,printable"`
}

// ValidatePinRequest is the candidate entry payload. StartAttempt defaults to
// true; false validates without spending a use.
type ValidatePinRequest struct {
	ExamID              uuid.UUID `json:"examId" binding:"required"`
	Pin                 string    `json:"pin" binding:"required,max=64"`
	CandidateIdentifier string    `json:"candidateIdentifier" binding:"max=128,printable"`
	CandidateName       string    `json:"candidateName" binding:"max=255,printable"`
	StartAttempt        *bool     `json:"startAttempt"`
}

// WantsAttempt resolves the StartAttempt default.
func (r *ValidatePinRequest) WantsAttempt() bool {
	return r.StartAttempt == nil || *r.StartAttempt
}

// ValidatePinResult is the entry response.
type ValidatePinResult struct {
	ExamID        uuid.UUID  `json:"examId"`
	PinID         uuid.UUID  `json:"pinId"`
	RemainingUses int        `json:"remainingUses"`
	AttemptID     *uuid.UUID `json:"attemptId,omitempty"`
	AttemptToken  string     `json:"attemptToken,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}
