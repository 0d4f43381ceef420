package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes candidate attempt tokens from admin tokens.
type TokenType string

const (
	TokenTypeAttempt TokenType = "attempt"
	TokenTypeAdmin   TokenType = "admin"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	AttemptID uuid.UUID `json:"attempt_id,omitempty"`
	ExamID    uuid.UUID `json:"exam_id,omitempty"`
	AdminID   string    `json:"admin_id,omitempty"`

	// Permissions is set on admin tokens by the institution console.
	Permissions []string `json:"permissions,omitempty"`
}

// TokenService issues attempt-scoped candidate tokens and verifies admin
// tokens minted by the institution console with the same shared secret.
type TokenService struct {
	secret []byte
	grace  time.Duration
}

// NewTokenService creates a new TokenService.
func NewTokenService(secret string, grace time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), grace: grace}
}

// IssueAttemptToken signs a token valid until the attempt expires plus the
// grace window, so a late submit can still authenticate.
func (s *TokenService) IssueAttemptToken(attemptID, examID uuid.UUID, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   attemptID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt.Add(s.grace)),
		},
		TokenType: TokenTypeAttempt,
		AttemptID: attemptID,
		ExamID:    examID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign attempt token: %w", err)
	}
	return signed, nil
}

// IssueAdminToken signs an admin token. Used by operator tooling and tests;
// production admin tokens come from the institution console.
func (s *TokenService) IssueAdminToken(adminID string, ttl time.Duration, permissions ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType:   TokenTypeAdmin,
		AdminID:     adminID,
		Permissions: permissions,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *TokenService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAttemptToken additionally requires the token to be scoped to attemptID.
func (s *TokenService) ValidateAttemptToken(tokenStr string, attemptID uuid.UUID) (*Claims, error) {
	claims, err := s.ValidateToken(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAttempt || claims.AttemptID != attemptID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
