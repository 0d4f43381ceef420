package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/handler"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Access  *handler.AccessHandler
	Attempt *handler.AttemptHandler
	Admin   *handler.AdminHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// publicLimiter may be nil to disable rate limiting of the public group.
func SetupRouter(
	tokens *service.TokenService,
	publicLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	if handlers.System != nil {
		router.GET("/ready", handlers.System.Ready)
	}

	// ─── 1. Public Group (Rate Limited) ────────────────────────────────
	publicAPI := router.Group("/api/v1")
	publicAPI.Use(middleware.NoStore())
	if publicLimiter != nil {
		publicAPI.Use(publicLimiter.Middleware())
	}
	{
		publicAPI.POST("/pins/validate", handlers.Access.ValidatePin)
		publicAPI.POST("/attempts/resume", handlers.Access.ResumeAttempt)
	}

	// ─── 2. Attempt Group (Attempt Token) ──────────────────────────────
	attemptAPI := router.Group("/api/v1/attempts/:id")
	attemptAPI.Use(middleware.NoStore(), middleware.RequireAttemptToken(tokens))
	{
		attemptAPI.POST("/answers", handlers.Attempt.SaveAnswer)
		attemptAPI.POST("/submit", handlers.Attempt.Submit)
		attemptAPI.POST("/integrity", handlers.Attempt.RecordIntegrity)
		attemptAPI.PUT("/progress", handlers.Attempt.UpdateProgress)
		attemptAPI.GET("/state", handlers.Attempt.GetState)
		attemptAPI.GET("/paper", handlers.Attempt.GetPaper)
		attemptAPI.GET("/result", handlers.Attempt.GetResult)
	}

	// ─── 3. WebSocket Group (Attempt Token via ?token=) ────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/attempts/:id/stream", middleware.RequireAttemptToken(tokens), handlers.WS.AttemptStream)
	}

	// ─── 4. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.NoStore(), middleware.RequireAdminJWT(tokens))
	{
		// PIN registry
		adminAPI.POST("/exams/:id/pin-batches",
			middleware.RequirePermission(model.PermissionPinsManage),
			handlers.Admin.GeneratePinBatch,
		)
		adminAPI.POST("/pin-batches/:id/revoke",
			middleware.RequirePermission(model.PermissionPinsManage),
			handlers.Admin.RevokePinBatch,
		)
		adminAPI.POST("/pins/:id/allow-list",
			middleware.RequirePermission(model.PermissionPinsManage),
			handlers.Admin.AddAllowList,
		)

		// Attempt review
		adminAPI.PUT("/attempts/:id/review",
			middleware.RequirePermission(model.PermissionAttemptsReview),
			handlers.Admin.ReviewAttempt,
		)
		adminAPI.POST("/attempts/:id/reprocess",
			middleware.RequirePermission(model.PermissionAttemptsReview),
			handlers.Admin.ReprocessAttempt,
		)
		adminAPI.GET("/attempts/:id/result",
			middleware.RequirePermission(model.PermissionAttemptsReview),
			handlers.Admin.GetAttemptResult,
		)

		// Exam level
		adminAPI.GET("/exams/:id/analytics",
			middleware.RequirePermission(model.PermissionAnalyticsRead),
			handlers.Admin.GetExamAnalytics,
		)
		adminAPI.GET("/exams/:id/monitor",
			middleware.RequirePermission(model.PermissionAttemptsMonitor),
			handlers.Monitor.MonitorExamSSE,
		)
		adminAPI.DELETE("/exams/:id/config-cache",
			middleware.RequirePermission(model.PermissionExamsCache),
			handlers.Admin.InvalidateExamConfig,
		)

		// Operations
		if handlers.System != nil {
			adminAPI.GET("/system/metrics",
				middleware.RequirePermission(model.PermissionSystemRead),
				handlers.System.SystemMetricsSSE,
			)
		}
	}

	return router
}
