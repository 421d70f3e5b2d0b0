package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/attempt-service/internal/grading"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

type StartAttemptRequest = validator.StartAttemptRequest
type SaveProgressRequest = validator.SaveProgressRequest
type SweepRequest = validator.SweepRequest

type AttemptResponse struct {
	AttemptID     uint                `json:"attempt_id"`
	AssessmentID  uint                `json:"assessment_id"`
	State         models.AttemptState `json:"state"`
	ConsumedTime  int                 `json:"consumed_time"`
	TimeBudget    int                 `json:"time_budget"`
	TimeRemaining int                 `json:"time_remaining"`
	Answers       map[string]string   `json:"answers"`
	StartedAt     time.Time           `json:"started_at"`
	SubmittedAt   *time.Time          `json:"submitted_at,omitempty"`
	EndReason     *string             `json:"end_reason,omitempty"`
	Resumed       bool                `json:"resumed"`
}

type ProgressResponse struct {
	AttemptID uint                `json:"attempt_id"`
	State     models.AttemptState `json:"state"`
}

type RankingInfo struct {
	Rank          int `json:"rank"`
	Percentile    int `json:"percentile"`
	TotalAttempts int `json:"total_attempts"`
}

type ResultResponse struct {
	AttemptID     uint                      `json:"attempt_id"`
	AssessmentID  uint                      `json:"assessment_id"`
	State         models.AttemptState       `json:"state"`
	Summary       grading.Summary           `json:"summary"`
	Questions     []grading.QuestionOutcome `json:"questions"`
	QuestionStats []grading.QuestionStats   `json:"question_stats"`
	Ranking       RankingInfo               `json:"ranking"`
	Comparison    grading.Comparison        `json:"comparison"`
}

type LeaderboardEntry struct {
	grading.RankedAttempt
	StudentName string `json:"student_name"`
}

type LeaderboardResponse struct {
	AssessmentID  uint               `json:"assessment_id"`
	Title         string             `json:"title"`
	TotalAttempts int                `json:"total_attempts"`
	Entries       []LeaderboardEntry `json:"entries"`
}

type SweepResult struct {
	Expired int `json:"expired"`
	Voided  int `json:"voided"`
}

// ===== COLLABORATORS =====

// EntitlementChecker gates whether a student may start an attempt on an assessment
type EntitlementChecker interface {
	CanStart(ctx context.Context, studentID string, assessmentID uint) error
}

// AllowAllEntitlements is the default checker
type AllowAllEntitlements struct{}

func (AllowAllEntitlements) CanStart(ctx context.Context, studentID string, assessmentID uint) error {
	return nil
}

// ===== SERVICES =====

type AttemptService interface {
	// StartOrResume returns the in-progress attempt of the student or creates one.
	// forceNew supersedes the in-progress attempt when the assessment allows restarts.
	StartOrResume(ctx context.Context, studentID string, assessmentID uint, forceNew bool) (*AttemptResponse, error)
	GetByID(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error)

	// State transitions
	Autosave(ctx context.Context, attemptID uint, answers map[string]string, consumedTime int) (*models.Attempt, error)
	Finalize(ctx context.Context, attemptID uint, consumedTime int, reason string) (*models.Attempt, error)
	Expire(ctx context.Context, attemptID uint) (*models.Attempt, error)
	Void(ctx context.Context, attemptID uint, reason string) (*models.Attempt, error)

	// Administrative
	SweepStale(ctx context.Context, olderThan time.Duration) (*SweepResult, error)
}

type ProgressService interface {
	SaveProgress(ctx context.Context, studentID string, req *SaveProgressRequest) (*ProgressResponse, error)
}

type ResultService interface {
	// GetResult is visible to the attempt owner and to teachers and admins
	GetResult(ctx context.Context, attemptID uint, userID string, role models.UserRole) (*ResultResponse, error)
	GetLeaderboard(ctx context.Context, assessmentID uint) (*LeaderboardResponse, error)
	// InvalidateAssessmentCache drops cached catalog and results after the assessment content changed
	InvalidateAssessmentCache(ctx context.Context, assessmentID uint) error
}

type ExportService interface {
	// ExportLeaderboard renders the leaderboard as an xlsx workbook
	ExportLeaderboard(ctx context.Context, assessmentID uint) ([]byte, string, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Attempt() AttemptService
	Progress() ProgressService
	Result() ResultService
	Export() ExportService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
