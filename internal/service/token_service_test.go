package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAttemptTokenIsScoped(t *testing.T) {
	s := NewTokenService("secret", time.Minute)
	attemptID, examID := uuid.New(), uuid.New()

	token, err := s.IssueAttemptToken(attemptID, examID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	claims, err := s.ValidateAttemptToken(token, attemptID)
	if err != nil {
		t.Fatal(err)
	}
	if claims.ExamID != examID || claims.TokenType != TokenTypeAttempt {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := s.ValidateAttemptToken(token, uuid.New()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("other attempt: err = %v", err)
	}
	if _, err := NewTokenService("other", time.Minute).ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: err = %v", err)
	}
}

func TestAttemptTokenHonoursGrace(t *testing.T) {
	s := NewTokenService("secret", time.Minute)
	attemptID := uuid.New()

	withinGrace, _ := s.IssueAttemptToken(attemptID, uuid.New(), time.Now().Add(-30*time.Second))
	if _, err := s.ValidateAttemptToken(withinGrace, attemptID); err != nil {
		t.Fatalf("token inside grace rejected: %v", err)
	}

	pastGrace, _ := s.IssueAttemptToken(attemptID, uuid.New(), time.Now().Add(-2*time.Minute))
	if _, err := s.ValidateAttemptToken(pastGrace, attemptID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: err = %v", err)
	}
}

func TestAdminTokenIsNotAnAttemptToken(t *testing.T) {
	s := NewTokenService("secret", time.Minute)
	token, err := s.IssueAdminToken("admin-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.TokenType != TokenTypeAdmin || claims.AdminID != "admin-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := s.ValidateAttemptToken(token, claims.AttemptID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("admin token accepted as attempt token: %v", err)
	}
}
