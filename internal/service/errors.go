package service

import "errors"

// Domain errors. Handlers map these to response codes with errors.Is.
var (
	ErrInvalidPin             = errors.New("pin is invalid, inactive, expired or exhausted")
	ErrRateLimited            = errors.New("too many failed redemption attempts")
	ErrCandidateNameRequired  = errors.New("candidate name is required")
	ErrCandidateMatchRequired = errors.New("candidate name or identifier is required")
	ErrGenerationFailed       = errors.New("could not generate enough unique pins")
	ErrCapacityExceeded       = errors.New("pin capacity exceeded for exam")
	ErrPinNotFound            = errors.New("pin not found")
	ErrPinBatchNotFound       = errors.New("pin batch not found")

	ErrExamNotFound        = errors.New("exam not found")
	ErrMaxAttemptsReached  = errors.New("maximum attempts reached for candidate")
	ErrResumeNotFound      = errors.New("no attempt matches the candidate")
	ErrResumeAmbiguous     = errors.New("more than one open attempt matches the candidate")
	ErrAttemptNotResumable = errors.New("attempt is already finished")
	ErrAttemptExpired      = errors.New("attempt time has elapsed")
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrAttemptNotEditable  = errors.New("attempt is not editable")
	ErrAttemptNotSubmitted = errors.New("attempt has not been submitted")
	ErrSubmitInProgress    = errors.New("submission is already in progress")
	ErrQuestionNotInExam   = errors.New("question does not belong to exam")
	ErrExamMismatch        = errors.New("exam does not match attempt")

	ErrInvalidReviewTransition = errors.New("review status transition not allowed")
)
