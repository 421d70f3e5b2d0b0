package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

// Create inserts the attempt. The partial unique index on (student_id, assessment_id)
// rejects a second EN_PROGRESO attempt.
func (a *AttemptPostgreSQL) Create(ctx context.Context, attempt *models.Attempt) error {
	if err := a.db.WithContext(ctx).Omit(clause.Associations).Create(attempt).Error; err != nil {
		if repositories.IsDuplicateError(err) {
			return fmt.Errorf("%w: in-progress attempt for student %s on assessment %d",
				repositories.ErrDuplicate, attempt.StudentID, attempt.AssessmentID)
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, wrapNotFound(err, "attempt", id)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDForUpdate(ctx context.Context, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&attempt, id).Error; err != nil {
		return nil, wrapNotFound(err, "attempt", id)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetActive(ctx context.Context, studentID string, assessmentID uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).
		Where("student_id = ? AND assessment_id = ? AND state = ?", studentID, assessmentID, models.AttemptInProgress).
		First(&attempt).Error; err != nil {
		return nil, wrapNotFound(err, "active attempt", assessmentID)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetLatestTerminal(ctx context.Context, studentID string, assessmentID uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).
		Where("student_id = ? AND assessment_id = ? AND state IN ?", studentID, assessmentID, models.TerminalStates).
		Order("id DESC").
		First(&attempt).Error; err != nil {
		return nil, wrapNotFound(err, "terminal attempt", assessmentID)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, attempt *models.Attempt) error {
	if err := a.db.WithContext(ctx).Omit(clause.Associations).Save(attempt).Error; err != nil {
		return fmt.Errorf("failed to update attempt %d: %w", attempt.ID, err)
	}
	return nil
}

func (a *AttemptPostgreSQL) CountByStates(ctx context.Context, studentID string, assessmentID uint, states []models.AttemptState) (int64, error) {
	var count int64
	if err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("student_id = ? AND assessment_id = ? AND state IN ?", studentID, assessmentID, states).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	query := applyAttemptFilters(a.db.WithContext(ctx).Model(&models.Attempt{}), filters)
	if err := query.Order("id ASC").Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

// ===== ANSWER RECORDS =====

type AnswerPostgreSQL struct {
	db *gorm.DB
}

// NewAnswerPostgreSQL creates a new answer record repository instance
func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

// CreatePlaceholders inserts empty records in batches; existing (attempt, question) pairs are left alone
func (ar *AnswerPostgreSQL) CreatePlaceholders(ctx context.Context, records []*models.AnswerRecord) error {
	if len(records) == 0 {
		return nil
	}

	if err := ar.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, 100).Error; err != nil {
		return fmt.Errorf("failed to create answer placeholders: %w", err)
	}
	return nil
}

// UpsertBatch writes evaluated records keyed by (attempt_id, question_id)
func (ar *AnswerPostgreSQL) UpsertBatch(ctx context.Context, records []*models.AnswerRecord) error {
	if len(records) == 0 {
		return nil
	}

	if err := ar.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"position", "raw_answer", "is_correct", "points", "max_points", "evaluated_at", "updated_at",
			}),
		}).
		CreateInBatches(records, 100).Error; err != nil {
		return fmt.Errorf("failed to upsert answer records: %w", err)
	}
	return nil
}

func (ar *AnswerPostgreSQL) GetByAttempt(ctx context.Context, attemptID uint) ([]*models.AnswerRecord, error) {
	var records []*models.AnswerRecord
	if err := ar.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("position ASC, question_id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get answer records for attempt %d: %w", attemptID, err)
	}
	return records, nil
}

func (ar *AnswerPostgreSQL) GetByAttempts(ctx context.Context, attemptIDs []uint) ([]*models.AnswerRecord, error) {
	if len(attemptIDs) == 0 {
		return nil, nil
	}

	var records []*models.AnswerRecord
	if err := ar.db.WithContext(ctx).
		Where("attempt_id IN ?", attemptIDs).
		Order("attempt_id ASC, position ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get answer records: %w", err)
	}
	return records, nil
}

// wrapNotFound maps gorm's not-found error onto the repository sentinel
func wrapNotFound(err error, entity string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", repositories.ErrNotFound, entity, id)
	}
	return fmt.Errorf("failed to get %s %d: %w", entity, id, err)
}
