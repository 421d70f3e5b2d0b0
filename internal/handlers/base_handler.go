package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/services"
	"github.com/SAP-F-2025/attempt-service/internal/utils"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	args = append(args, "method", c.Request.Method, "path", c.FullPath())
	utils.FromContext(c, h.logger).Info(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	args = append(args, "error", err)
	utils.FromContext(c, h.logger).Error(msg, args...)
}

func (h *BaseHandler) RespondWithError(c *gin.Context, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	c.JSON(status, resp)
}

// errorMapping binds a service error to its HTTP status and client-facing code
type errorMapping struct {
	err    error
	status int
	code   string
}

var serviceErrorMappings = []errorMapping{
	{services.ErrStorageUnavailable, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
	{services.ErrInvalidConsumedTime, http.StatusBadRequest, "INVALID_CONSUMED_TIME"},
	{services.ErrAttemptLimitExceeded, http.StatusConflict, "ATTEMPT_LIMIT_EXCEEDED"},
	{services.ErrAttemptTerminal, http.StatusConflict, "ATTEMPT_TERMINAL"},
	{services.ErrAttemptNotTerminal, http.StatusConflict, "ATTEMPT_NOT_TERMINAL"},
	{services.ErrAttemptVoided, http.StatusConflict, "ATTEMPT_VOIDED"},
	{services.ErrRestartNotAllowed, http.StatusConflict, "RESTART_NOT_ALLOWED"},
	{services.ErrAttemptNotFound, http.StatusNotFound, "ATTEMPT_NOT_FOUND"},
	{services.ErrAssessmentNotFound, http.StatusNotFound, "ASSESSMENT_NOT_FOUND"},
	{services.ErrQuestionNotFound, http.StatusNotFound, "QUESTION_NOT_FOUND"},
	{services.ErrAttemptAccessDenied, http.StatusForbidden, "ACCESS_DENIED"},
	{services.ErrNotEntitled, http.StatusForbidden, "NOT_ENTITLED"},
}

// handleServiceError maps service errors to HTTP responses
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrs services.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Code:    "VALIDATION_FAILED",
			Details: validationErrs,
		})
		return
	}

	for _, m := range serviceErrorMappings {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				h.LogError(c, err, "Service unavailable")
			}
			c.JSON(m.status, ErrorResponse{Message: m.err.Error(), Code: m.code})
			return
		}
	}

	if services.IsValidation(err) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Code:    "VALIDATION_FAILED",
			Details: err.Error(),
		})
		return
	}

	h.LogError(c, err, "Unhandled service error")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Message: "Internal server error",
		Code:    "INTERNAL_ERROR",
	})
}

// parseIDParam reads a positive numeric path parameter, writing a 400 and returning 0 otherwise
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name,
			Code:    "INVALID_ID",
		})
		return 0
	}
	return uint(id)
}

// currentUser returns the authenticated caller, writing a 401 when absent
func (h *BaseHandler) currentUser(c *gin.Context) (string, models.UserRole, bool) {
	userID, err := GetUserIDFromContext(c)
	if err != nil || userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
		return "", "", false
	}

	role, err := GetUserRoleFromContext(c)
	if err != nil {
		role = models.RoleStudent
	}
	return userID, role, true
}
