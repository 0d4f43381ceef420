package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/database"
	"github.com/stemsi/exstem-attempts/internal/handler"
	"github.com/stemsi/exstem-attempts/internal/logger"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/repository"
	"github.com/stemsi/exstem-attempts/internal/router"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
	"github.com/stemsi/exstem-attempts/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "exstem-attempts")
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Attempts")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	pinRepo := repository.NewPinRepository(pool)
	candidateRepo := repository.NewCandidateRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	integrityRepo := repository.NewIntegrityRepository(pool)
	analyticsRepo := repository.NewAnalyticsRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examRepo := repository.NewExamRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	examConfigs := service.NewCachedExamConfigProvider(examRepo, rdb, cfg.ExamConfigCacheTTL, log)
	tokenService := service.NewTokenService(cfg.JWTSecret, cfg.AttemptTokenGrace)
	monitorService := service.NewMonitorService(attemptRepo, answerRepo, rdb, cfg.IntegrityThreshold, log)

	pinService := service.NewPinService(
		pinRepo,
		service.NewPinCapacityGuard(pinRepo, cfg.MaxPinsPerExam),
		service.NewRedisRedemptionThrottle(rdb, cfg.PinMaxFailures, cfg.PinFailureWindow),
		cfg.PinPepper,
		cfg.PinHintLength,
		log,
	)
	submissionService := service.NewSubmissionService(
		attemptRepo, answerRepo, resultRepo, questionRepo, examConfigs,
		service.NewRedisAnalyticsQueue(rdb), monitorService, log,
	)
	attemptService := service.NewAttemptService(
		attemptRepo, answerRepo, questionRepo, examConfigs, submissionService, monitorService, log,
	)
	answerService := service.NewAnswerService(attemptService, answerRepo, questionRepo, log)
	integrityService := service.NewIntegrityService(
		attemptRepo, integrityRepo, monitorService,
		service.IntegrityWeights{Warning: cfg.IntegrityWarning, Critical: cfg.IntegrityCritical},
		cfg.IntegrityThreshold,
		log,
	)
	analyticsService := service.NewAnalyticsService(answerRepo, resultRepo, questionRepo, analyticsRepo, log)
	accessService := service.NewAccessService(
		pinService, attemptService, attemptRepo, candidateRepo, examConfigs, tokenService, log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Access:  handler.NewAccessHandler(accessService, log),
		Attempt: handler.NewAttemptHandler(attemptService, answerService, submissionService, integrityService, log),
		Admin:   handler.NewAdminHandler(pinService, integrityService, submissionService, analyticsService, examConfigs, log),
		Monitor: handler.NewMonitorHandler(monitorService, examConfigs, log),
		WS:      handler.NewWSHandler(attemptService, answerService, submissionService, integrityService, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(pool, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	expiryWorker := worker.NewExpiryWorker(attemptRepo, submissionService, cfg.SweepInterval, cfg.SweepBatchSize, log)
	analyticsWorker := worker.NewAnalyticsWorker(rdb, analyticsService, log)

	workers.Go(func() { expiryWorker.Start(workerCtx) })
	workers.Go(func() { analyticsWorker.Start(workerCtx) })

	// ─── Setup Router ──────────────────────────────────────────────────
	publicLimiter := middleware.NewRateLimiter(rdb, "public", cfg.PublicRateLimit, time.Minute, log)
	r := router.SetupRouter(tokenService, publicLimiter, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the analytics batch to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
