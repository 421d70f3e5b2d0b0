package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/attempt-service/internal/models"
)

// CatalogRepository reads assessments and their ordered questions
type CatalogRepository interface {
	GetAssessment(ctx context.Context, id uint) (*models.Assessment, error)
	// GetAssessmentWithQuestions preloads questions ordered by position
	GetAssessmentWithQuestions(ctx context.Context, id uint) (*models.Assessment, error)
	InvalidateAssessment(ctx context.Context, id uint)
}

// AttemptFilters narrows attempt listings
type AttemptFilters struct {
	AssessmentID *uint
	StudentID    *string
	States       []models.AttemptState
	UpdatedTo    *time.Time
	Limit        int
}

type AttemptRepository interface {
	// Create inserts a new attempt. A second in-progress attempt for the
	// same (student, assessment) fails with ErrDuplicate.
	Create(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, id uint) (*models.Attempt, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends
	GetByIDForUpdate(ctx context.Context, id uint) (*models.Attempt, error)
	GetActive(ctx context.Context, studentID string, assessmentID uint) (*models.Attempt, error)
	GetLatestTerminal(ctx context.Context, studentID string, assessmentID uint) (*models.Attempt, error)
	Update(ctx context.Context, attempt *models.Attempt) error
	CountByStates(ctx context.Context, studentID string, assessmentID uint, states []models.AttemptState) (int64, error)
	List(ctx context.Context, filters AttemptFilters) ([]*models.Attempt, error)
}

type AnswerRepository interface {
	// CreatePlaceholders inserts empty records, skipping pairs that already exist
	CreatePlaceholders(ctx context.Context, records []*models.AnswerRecord) error
	// UpsertBatch writes records keyed by (attempt, question)
	UpsertBatch(ctx context.Context, records []*models.AnswerRecord) error
	GetByAttempt(ctx context.Context, attemptID uint) ([]*models.AnswerRecord, error)
	GetByAttempts(ctx context.Context, attemptIDs []uint) ([]*models.AnswerRecord, error)
}

// UserRepository is the read-only user directory of the identity provider
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)
}
