package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/attempt-service/internal/services"
	"github.com/SAP-F-2025/attempt-service/internal/utils"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

const defaultVoidReason = "admin"

type AdminHandler struct {
	BaseHandler
	attemptService services.AttemptService
	resultService  services.ResultService
	validator      *validator.Validator
}

func NewAdminHandler(
	attemptService services.AttemptService,
	resultService services.ResultService,
	validator *validator.Validator,
	logger utils.Logger,
) *AdminHandler {
	return &AdminHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		resultService:  resultService,
		validator:      validator,
	}
}

// VoidAttempt administratively voids an in-progress attempt
// @Summary Void attempt
// @Tags admin
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param body body validator.VoidAttemptRequest false "Void reason"
// @Success 200 {object} models.Attempt
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/attempts/{id}/void [post]
func (h *AdminHandler) VoidAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req validator.VoidAttemptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err)
			return
		}
	}
	if err := h.validator.Validate(&req); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if req.Reason == "" {
		req.Reason = defaultVoidReason
	}

	h.LogRequest(c, "Voiding attempt", "attempt_id", id, "reason", req.Reason)

	attempt, err := h.attemptService.Void(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// SweepStale closes in-progress attempts idle for longer than the given minutes
// @Summary Sweep stale attempts
// @Tags admin
// @Accept json
// @Produce json
// @Param body body services.SweepRequest true "Idle threshold"
// @Success 200 {object} services.SweepResult
// @Failure 400 {object} ErrorResponse
// @Router /admin/attempts/sweep [post]
func (h *AdminHandler) SweepStale(c *gin.Context) {
	var req services.SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogRequest(c, "Sweeping stale attempts", "older_than_minutes", req.OlderThanMinutes)

	result, err := h.attemptService.SweepStale(c.Request.Context(), time.Duration(req.OlderThanMinutes)*time.Minute)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// InvalidateAssessmentCache drops the cached catalog and cohort of an assessment after its content was edited
// @Summary Invalidate assessment cache
// @Tags admin
// @Param id path uint true "Assessment ID"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/assessments/{id}/cache/invalidate [post]
func (h *AdminHandler) InvalidateAssessmentCache(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Invalidating assessment cache", "assessment_id", id)

	if err := h.resultService.InvalidateAssessmentCache(c.Request.Context(), id); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
