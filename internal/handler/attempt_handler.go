package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
)

// AttemptHandler handles candidate endpoints scoped to one attempt. Every
// route sits behind RequireAttemptToken.
type AttemptHandler struct {
	attemptService    *service.AttemptService
	answerService     *service.AnswerService
	submissionService *service.SubmissionService
	integrityService  *service.IntegrityService
	log               zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	attemptService *service.AttemptService,
	answerService *service.AnswerService,
	submissionService *service.SubmissionService,
	integrityService *service.IntegrityService,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		attemptService:    attemptService,
		answerService:     answerService,
		submissionService: submissionService,
		integrityService:  integrityService,
		log:               log.With().Str("component", "attempt_handler").Logger(),
	}
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// SaveAnswer godoc
// POST /api/v1/attempts/:id/answers
// Autosaves one answer; last write wins.
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.answerService.SaveAnswer(c.Request.Context(), attemptID, req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// Submit godoc
// POST /api/v1/attempts/:id/submit
// Finalizes and scores the attempt. Exactly one concurrent caller wins.
func (h *AttemptHandler) Submit(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.submissionService.Submit(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// RecordIntegrity godoc
// POST /api/v1/attempts/:id/integrity
// Ingests a batch of integrity events. Accepted for any existing attempt.
func (h *AttemptHandler) RecordIntegrity(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req model.IntegrityBatchRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	summary, err := h.integrityService.Record(c.Request.Context(), attemptID, req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// GetState godoc
// GET /api/v1/attempts/:id/state
// Returns status, remaining time, cursor and saved answers for page reloads.
func (h *AttemptHandler) GetState(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetPaper godoc
// GET /api/v1/attempts/:id/paper
// Returns the questions in this attempt's order, without answer keys.
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	paper, err := h.attemptService.Paper(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// UpdateProgress godoc
// PUT /api/v1/attempts/:id/progress
// Moves the resume cursor without touching answers.
func (h *AttemptHandler) UpdateProgress(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req model.ProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.UpdateProgress(c.Request.Context(), attemptID, req.CurrentQuestionIndex); err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"currentQuestionIndex": req.CurrentQuestionIndex})
}

// GetResult godoc
// GET /api/v1/attempts/:id/result
// Returns the scored result of a finished attempt.
func (h *AttemptHandler) GetResult(c *gin.Context) {
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
