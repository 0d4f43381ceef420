package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

type countingProvider struct {
	calls int
	cfg   *model.ExamConfig
}

func (p *countingProvider) GetConfig(_ context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	p.calls++
	if p.cfg == nil || p.cfg.ExamID != examID {
		return nil, model.ErrNotFound
	}
	c := *p.cfg
	return &c, nil
}

func TestCachedExamConfigProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	src := &countingProvider{cfg: &model.ExamConfig{ExamID: uuid.New(), DurationMinutes: 45, Title: "Biology"}}
	p := NewCachedExamConfigProvider(src, rdb, time.Minute, zerolog.Nop())

	for range 3 {
		cfg, err := p.GetConfig(t.Context(), src.cfg.ExamID)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.DurationMinutes != 45 {
			t.Fatalf("duration = %d", cfg.DurationMinutes)
		}
	}
	if src.calls != 1 {
		t.Fatalf("source called %d times, want 1", src.calls)
	}

	if err := p.Invalidate(t.Context(), src.cfg.ExamID); err != nil {
		t.Fatal(err)
	}
	if _, err := p.GetConfig(t.Context(), src.cfg.ExamID); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Fatalf("source called %d times after invalidate, want 2", src.calls)
	}

	if _, err := p.GetConfig(t.Context(), uuid.New()); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestCachedExamConfigProviderSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	src := &countingProvider{cfg: &model.ExamConfig{ExamID: uuid.New(), DurationMinutes: 30}}
	p := NewCachedExamConfigProvider(src, rdb, time.Minute, zerolog.Nop())
	mr.Close()

	cfg, err := p.GetConfig(t.Context(), src.cfg.ExamID)
	if err != nil {
		t.Fatalf("cache outage should fall through: %v", err)
	}
	if cfg.DurationMinutes != 30 {
		t.Fatalf("duration = %d", cfg.DurationMinutes)
	}
}
