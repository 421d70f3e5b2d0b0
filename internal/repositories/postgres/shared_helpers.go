package postgres

import (
	"gorm.io/gorm"

	"github.com/SAP-F-2025/attempt-service/internal/repositories"
)

// applyAttemptFilters applies common filters to attempt queries
func applyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.AssessmentID != nil {
		query = query.Where("assessment_id = ?", *filters.AssessmentID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if len(filters.States) > 0 {
		query = query.Where("state IN ?", filters.States)
	}
	if filters.UpdatedTo != nil {
		query = query.Where("updated_at < ?", *filters.UpdatedTo)
	}
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	return query
}
