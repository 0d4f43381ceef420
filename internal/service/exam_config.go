package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// CachedExamConfigProvider reads exam configuration through a Redis cache.
// Cache errors fall through to the source.
type CachedExamConfigProvider struct {
	source ExamConfigProvider
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedExamConfigProvider creates a new CachedExamConfigProvider.
func NewCachedExamConfigProvider(source ExamConfigProvider, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedExamConfigProvider {
	return &CachedExamConfigProvider{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "exam_config_cache").Logger(),
	}
}

// GetConfig returns the exam configuration, or ErrExamNotFound.
func (p *CachedExamConfigProvider) GetConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	key := config.CacheKey.ExamConfigKey(examID.String())

	cached, err := p.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cfg model.ExamConfig
		if err := json.Unmarshal(cached, &cfg); err == nil {
			return &cfg, nil
		}
		p.log.Warn().Str("exam_id", examID.String()).Msg("Discarding malformed cached exam config")
	} else if !errors.Is(err, redis.Nil) {
		p.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam config cache read failed")
	}

	cfg, err := p.source.GetConfig(ctx, examID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load exam config: %w", err)
	}

	if data, err := json.Marshal(cfg); err == nil {
		if err := p.rdb.Set(ctx, key, data, p.ttl).Err(); err != nil {
			p.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam config cache write failed")
		}
	}
	return cfg, nil
}

// Invalidate drops the cached configuration.
func (p *CachedExamConfigProvider) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return p.rdb.Del(ctx, config.CacheKey.ExamConfigKey(examID.String())).Err()
}

// loadConfig maps a missing exam to ErrExamNotFound for uncached providers.
func loadConfig(ctx context.Context, p ExamConfigProvider, examID uuid.UUID) (*model.ExamConfig, error) {
	cfg, err := p.GetConfig(ctx, examID)
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, ErrExamNotFound) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam config: %w", err)
	}
	return cfg, nil
}
