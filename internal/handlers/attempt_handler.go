package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/attempt-service/internal/services"
	"github.com/SAP-F-2025/attempt-service/internal/utils"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService  services.AttemptService
	progressService services.ProgressService
	resultService   services.ResultService
	validator       *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	progressService services.ProgressService,
	resultService services.ResultService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:     NewBaseHandler(logger),
		attemptService:  attemptService,
		progressService: progressService,
		resultService:   resultService,
		validator:       validator,
	}
}

// StartAttempt starts a new attempt or resumes the one in progress
// @Summary Start or resume assessment attempt
// @Description Returns the in-progress attempt of the caller, creating one when none exists
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.StartAttemptRequest true "Start attempt data"
// @Success 200 {object} services.AttemptResponse
// @Success 201 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	userID, _, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogRequest(c, "Starting assessment attempt", "assessment_id", req.AssessmentID, "force_new", req.ForceNew)

	attempt, err := h.attemptService.StartOrResume(c.Request.Context(), userID, req.AssessmentID, req.ForceNew)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if attempt.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, attempt)
}

// GetAttempt gets an attempt of the caller
// @Summary Get attempt
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, _, ok := h.currentUser(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// SaveProgress records an autosave tick and optionally finalizes the attempt
// @Summary Save attempt progress
// @Description Merges answers and consumed time into the attempt. finalize=true scores it.
// @Tags attempts
// @Accept json
// @Produce json
// @Param progress body services.SaveProgressRequest true "Progress data"
// @Success 200 {object} services.ProgressResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /attempts/progress [put]
func (h *AttemptHandler) SaveProgress(c *gin.Context) {
	userID, _, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req services.SaveProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "consumed_time" {
			h.handleServiceError(c, services.ErrInvalidConsumedTime)
			return
		}
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	resp, err := h.progressService.SaveProgress(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetResult gets the scored result of an attempt with its cohort comparison
// @Summary Get attempt result
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.ResultResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /attempts/{id}/result [get]
func (h *AttemptHandler) GetResult(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, role, ok := h.currentUser(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Getting attempt result", "attempt_id", id)

	result, err := h.resultService.GetResult(c.Request.Context(), id, userID, role)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
