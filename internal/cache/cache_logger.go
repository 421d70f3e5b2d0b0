package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern invalidates a pattern and logs instead of failing
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete deletes keys and logs instead of failing
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// CohortKey is the result-cache key of the cohort aggregate of one assessment
func CohortKey(assessmentID uint) string {
	return fmt.Sprintf("assessment:%d:cohort", assessmentID)
}

// CohortGenerationKey counts the invalidations of the aggregates of one assessment.
// It lives outside the "assessment:%d:*" pattern so invalidation keeps it.
func CohortGenerationKey(assessmentID uint) string {
	return fmt.Sprintf("generation:assessment:%d", assessmentID)
}

// InvalidateAssessmentResults drops every cached aggregate of one assessment and
// bumps its generation so in-flight computations do not write back.
func InvalidateAssessmentResults(ctx context.Context, cm *CacheManager, assessmentID uint) {
	if err := cm.Result.Incr(ctx, CohortGenerationKey(assessmentID)); err != nil {
		slog.ErrorContext(ctx, "Failed to bump cohort generation",
			"error", err,
			"assessment_id", assessmentID)
	}
	SafeInvalidatePattern(ctx, cm.Result, fmt.Sprintf("assessment:%d:*", assessmentID))
}

// InvalidateCatalog drops the cached definition of one assessment
func InvalidateCatalog(ctx context.Context, cm *CacheManager, assessmentID uint) {
	SafeDelete(ctx, cm.Catalog,
		fmt.Sprintf("assessment:%d", assessmentID),
		fmt.Sprintf("assessment:%d:questions", assessmentID))
}
