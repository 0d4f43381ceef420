package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
)

// AdminHandler handles admin-only PIN, review and reporting endpoints.
type AdminHandler struct {
	pinService        *service.PinService
	integrityService  *service.IntegrityService
	submissionService *service.SubmissionService
	analyticsService  *service.AnalyticsService
	examConfigs       *service.CachedExamConfigProvider
	log               zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	pinService *service.PinService,
	integrityService *service.IntegrityService,
	submissionService *service.SubmissionService,
	analyticsService *service.AnalyticsService,
	examConfigs *service.CachedExamConfigProvider,
	log zerolog.Logger,
) *AdminHandler {
	return &AdminHandler{
		pinService:        pinService,
		integrityService:  integrityService,
		submissionService: submissionService,
		analyticsService:  analyticsService,
		examConfigs:       examConfigs,
		log:               log.With().Str("component", "admin_handler").Logger(),
	}
}

func adminID(c *gin.Context) string {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return ""
	}
	if claims.AdminID != "" {
		return claims.AdminID
	}
	return claims.Subject
}

// GeneratePinBatch godoc
// POST /api/v1/admin/exams/:id/pin-batches
// Generates a batch of PINs. Raw PINs are only ever returned here.
func (h *AdminHandler) GeneratePinBatch(c *gin.Context) {
	examID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req model.GeneratePinBatchRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	batch, err := h.pinService.GenerateBatch(c.Request.Context(), examID, req, adminID(c))
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, batch)
}

// RevokePinBatch godoc
// POST /api/v1/admin/pin-batches/:id/revoke
func (h *AdminHandler) RevokePinBatch(c *gin.Context) {
	batchID, ok := pathID(c, "id")
	if !ok {
		return
	}

	n, err := h.pinService.RevokeBatch(c.Request.Context(), batchID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"batchId": batchID, "revoked": n})
}

// AddAllowList godoc
// POST /api/v1/admin/pins/:id/allow-list
func (h *AdminHandler) AddAllowList(c *gin.Context) {
	pinID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req model.AllowListRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	n, err := h.pinService.AddAllowList(c.Request.Context(), pinID, req.CandidateIdentifiers)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"pinId": pinID, "added": n})
}

// ReviewAttempt godoc
// PUT /api/v1/admin/attempts/:id/review
func (h *AdminHandler) ReviewAttempt(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateReviewRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.integrityService.Review(c.Request.Context(), attemptID, req, adminID(c))
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, attempt)
}

// ReprocessAttempt godoc
// POST /api/v1/admin/attempts/:id/reprocess
// Recomputes the result of a finished attempt from its stored answers.
func (h *AdminHandler) ReprocessAttempt(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.submissionService.Reprocess(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	h.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("admin_id", adminID(c)).
		Int("percentage", result.Percentage).
		Msg("Attempt reprocessed")

	response.Success(c, http.StatusOK, result)
}

// GetAttemptResult godoc
// GET /api/v1/admin/attempts/:id/result
func (h *AdminHandler) GetAttemptResult(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.submissionService.Result(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetExamAnalytics godoc
// GET /api/v1/admin/exams/:id/analytics
func (h *AdminHandler) GetExamAnalytics(c *gin.Context) {
	examID, ok := pathID(c, "id")
	if !ok {
		return
	}

	report, err := h.analyticsService.ExamReport(c.Request.Context(), examID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// InvalidateExamConfig godoc
// DELETE /api/v1/admin/exams/:id/config-cache
// Drops the cached exam configuration after the exam was edited upstream.
func (h *AdminHandler) InvalidateExamConfig(c *gin.Context) {
	examID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.examConfigs.Invalidate(c.Request.Context(), examID); err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"examId": examID, "invalidated": true})
}
