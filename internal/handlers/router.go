package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/attempt-service/internal/config"
	"github.com/SAP-F-2025/attempt-service/internal/metrics"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
	"github.com/SAP-F-2025/attempt-service/internal/services"
	"github.com/SAP-F-2025/attempt-service/internal/utils"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

const (
	healthCheckTimeout           = 5 * time.Second
	defaultAutosaveRatePerMinute = 120
)

type HandlerOptions struct {
	// AutosaveRatePerMinute caps progress saves per user
	AutosaveRatePerMinute int
}

type HandlerManager struct {
	attemptHandler  *AttemptHandler
	resultHandler   *ResultHandler
	adminHandler    *AdminHandler
	authMiddleware  *CasdoorAuthMiddleware
	autosaveLimiter *RateLimiter
	serviceManager  services.ServiceManager
	logger          utils.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
	opts HandlerOptions,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)
	return newHandlerManager(serviceManager, validator, logger, authMiddleware, opts)
}

func newHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	authMiddleware *CasdoorAuthMiddleware,
	opts HandlerOptions,
) *HandlerManager {
	if opts.AutosaveRatePerMinute <= 0 {
		opts.AutosaveRatePerMinute = defaultAutosaveRatePerMinute
	}

	hm := &HandlerManager{
		attemptHandler: NewAttemptHandler(
			serviceManager.Attempt(),
			serviceManager.Progress(),
			serviceManager.Result(),
			validator,
			logger,
		),
		resultHandler:   NewResultHandler(serviceManager.Result(), serviceManager.Export(), logger),
		adminHandler:    NewAdminHandler(serviceManager.Attempt(), serviceManager.Result(), validator, logger),
		authMiddleware:  authMiddleware,
		autosaveLimiter: NewRateLimiter(opts.AutosaveRatePerMinute, time.Minute),
		serviceManager:  serviceManager,
		logger:          logger,
		stop:            make(chan struct{}),
	}
	go hm.autosaveLimiter.Run(hm.stop)
	return hm
}

// Close stops background housekeeping of the handlers
func (hm *HandlerManager) Close() {
	hm.stopOnce.Do(func() { close(hm.stop) })
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.healthCheck)
	router.GET("/metrics", metrics.PrometheusHandler())

	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		attempts := v1.Group("/attempts")
		{
			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.PUT("/progress", hm.autosaveLimiter.Middleware(), hm.attemptHandler.SaveProgress)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.GET("/:id/result", hm.attemptHandler.GetResult)
		}

		// Cohort views - Teachers and Admins only
		assessments := v1.Group("/assessments")
		assessments.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher))
		{
			assessments.GET("/:id/leaderboard", hm.resultHandler.GetLeaderboard)
			assessments.GET("/:id/leaderboard/export", hm.resultHandler.ExportLeaderboard)
		}

		admin := v1.Group("/admin")
		admin.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin))
		{
			admin.POST("/attempts/:id/void", hm.adminHandler.VoidAttempt)
			admin.POST("/attempts/sweep", hm.adminHandler.SweepStale)
			admin.POST("/assessments/:id/cache/invalidate", hm.adminHandler.InvalidateAssessmentCache)
		}
	}
}

func (hm *HandlerManager) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := hm.serviceManager.HealthCheck(ctx); err != nil {
		utils.FromContext(c, hm.logger).Warn("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "attempt-service",
	})
}
