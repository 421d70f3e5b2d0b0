package services

import (
	"errors"

	"github.com/SAP-F-2025/attempt-service/internal/grading"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

// Conflict errors
var (
	ErrAttemptLimitExceeded = errors.New("maximum number of attempts reached")
	ErrAttemptTerminal      = errors.New("attempt is already finished")
	ErrAttemptNotTerminal   = errors.New("attempt has not been finished yet")
	ErrAttemptVoided        = errors.New("attempt was voided")
	ErrRestartNotAllowed    = errors.New("assessment does not allow restarting an attempt")
)

// Not found errors
var (
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrQuestionNotFound   = errors.New("question not found in assessment")
)

// Forbidden errors
var (
	ErrAttemptAccessDenied = errors.New("attempt access denied")
	ErrNotEntitled         = errors.New("student is not entitled to this assessment")
)

// Validation errors
var (
	ErrInvalidConsumedTime = errors.New("consumed_time must be an integer number of seconds")
)

// ErrStorageUnavailable marks failures the caller may retry
var ErrStorageUnavailable = errors.New("storage unavailable")

// ValidationErrors is the field-level validation error type returned by services
type ValidationErrors = validator.ValidationErrors

func IsValidation(err error) bool {
	var verrs ValidationErrors
	return errors.As(err, &verrs) ||
		errors.Is(err, ErrInvalidConsumedTime) ||
		errors.Is(err, grading.ErrUnknownAnswerKind)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
