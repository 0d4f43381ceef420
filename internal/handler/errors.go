package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
)

type errMapping struct {
	err    error
	status int
	code   response.ErrCode
}

// domainErrors maps service sentinels to HTTP status and response code.
// The first match wins.
var domainErrors = []errMapping{
	{service.ErrInvalidPin, http.StatusBadRequest, response.ErrInvalidPin},
	{service.ErrRateLimited, http.StatusTooManyRequests, response.ErrRateLimited},
	{service.ErrCandidateNameRequired, http.StatusBadRequest, response.ErrNameRequired},
	{service.ErrCandidateMatchRequired, http.StatusBadRequest, response.ErrMatchRequired},
	{service.ErrGenerationFailed, http.StatusConflict, response.ErrGenerationFailed},
	{service.ErrCapacityExceeded, http.StatusConflict, response.ErrCapacityExceeded},
	{service.ErrPinNotFound, http.StatusNotFound, response.ErrPinNotFound},
	{service.ErrPinBatchNotFound, http.StatusNotFound, response.ErrPinBatchNotFound},
	{service.ErrExamNotFound, http.StatusNotFound, response.ErrExamNotFound},
	{service.ErrMaxAttemptsReached, http.StatusConflict, response.ErrMaxAttempts},
	{service.ErrResumeNotFound, http.StatusNotFound, response.ErrResumeNotFound},
	{service.ErrResumeAmbiguous, http.StatusConflict, response.ErrResumeAmbiguous},
	{service.ErrAttemptNotResumable, http.StatusConflict, response.ErrNotResumable},
	{service.ErrAttemptExpired, http.StatusGone, response.ErrAttemptExpired},
	{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrAttemptNotFound},
	{service.ErrAttemptNotEditable, http.StatusBadRequest, response.ErrNotEditable},
	{service.ErrAttemptNotSubmitted, http.StatusConflict, response.ErrNotSubmitted},
	{service.ErrSubmitInProgress, http.StatusConflict, response.ErrSubmitInProgress},
	{service.ErrQuestionNotInExam, http.StatusBadRequest, response.ErrQuestionNotInExam},
	{service.ErrExamMismatch, http.StatusBadRequest, response.ErrExamMismatch},
	{service.ErrInvalidReviewTransition, http.StatusConflict, response.ErrInvalidReview},
	{model.ErrInvalidAnswerPayload, http.StatusBadRequest, response.ErrInvalidAnswer},
	{model.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
}

// classify returns the status and code for err. Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the error response for err. Internal errors are logged
// with the request id; the client only sees INTERNAL_ERROR.
func failWith(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if code == response.ErrInternal {
		reqID, _ := c.Get(response.ContextKeyRequestID)
		log.Error().Err(err).
			Interface("request_id", reqID).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
