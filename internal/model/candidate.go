package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Candidate is the person taking an exam. ExternalID is an institution-issued
// identifier (student number, email) used for allow-listing and resume.
type Candidate struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	ExternalID *string   `json:"externalId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NormalizeName trims and collapses whitespace so resume matching is not
// defeated by stray spaces.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeIdentifier trims an external identifier; identifiers are compared
// exactly after trimming.
func NormalizeIdentifier(s string) string {
	return strings.TrimSpace(s)
}
