package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
)

// AccessHandler handles the public candidate entry points.
type AccessHandler struct {
	accessService *service.AccessService
	log           zerolog.Logger
}

// NewAccessHandler creates a new AccessHandler.
func NewAccessHandler(accessService *service.AccessService, log zerolog.Logger) *AccessHandler {
	return &AccessHandler{
		accessService: accessService,
		log:           log.With().Str("component", "access_handler").Logger(),
	}
}

// ValidatePin godoc
// POST /api/v1/pins/validate
// Redeems a PIN and, unless startAttempt is false, starts an attempt.
func (h *AccessHandler) ValidatePin(c *gin.Context) {
	var req model.ValidatePinRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.accessService.ValidatePin(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	status := http.StatusOK
	if result.AttemptID != nil {
		status = http.StatusCreated
	}
	response.Success(c, status, result)
}

// ResumeAttempt godoc
// POST /api/v1/attempts/resume
// Finds the candidate's open attempt and reissues its token.
func (h *AccessHandler) ResumeAttempt(c *gin.Context) {
	var req model.ResumeAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.accessService.Resume(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}
