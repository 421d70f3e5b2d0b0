package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/attempt-service/internal/cache"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
)

// CatalogPostgreSQL reads assessment definitions. Results are cached since attempts only read them.
type CatalogPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewCatalogPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.CatalogRepository {
	return &CatalogPostgreSQL{
		db:           db,
		cacheManager: cacheManager,
	}
}

func (c *CatalogPostgreSQL) GetAssessment(ctx context.Context, id uint) (*models.Assessment, error) {
	cacheKey := fmt.Sprintf("assessment:%d", id)
	var assessment models.Assessment

	err := c.cacheManager.Catalog.CacheOrExecute(ctx, cacheKey, &assessment, cache.CatalogCacheConfig.TTL, func() (interface{}, error) {
		var dbAssessment models.Assessment
		if err := c.db.WithContext(ctx).First(&dbAssessment, id).Error; err != nil {
			return nil, wrapNotFound(err, "assessment", id)
		}
		return &dbAssessment, nil
	})
	if err != nil {
		return nil, err
	}

	return &assessment, nil
}

func (c *CatalogPostgreSQL) GetAssessmentWithQuestions(ctx context.Context, id uint) (*models.Assessment, error) {
	cacheKey := fmt.Sprintf("assessment:%d:questions", id)
	var assessment models.Assessment

	err := c.cacheManager.Catalog.CacheOrExecute(ctx, cacheKey, &assessment, cache.CatalogCacheConfig.TTL, func() (interface{}, error) {
		var dbAssessment models.Assessment
		if err := c.db.WithContext(ctx).
			Preload("Questions", func(db *gorm.DB) *gorm.DB {
				return db.Order("position ASC, id ASC")
			}).
			Preload("Questions.Question").
			First(&dbAssessment, id).Error; err != nil {
			return nil, wrapNotFound(err, "assessment", id)
		}
		return &dbAssessment, nil
	})
	if err != nil {
		return nil, err
	}

	return &assessment, nil
}

func (c *CatalogPostgreSQL) InvalidateAssessment(ctx context.Context, id uint) {
	cache.InvalidateCatalog(ctx, c.cacheManager, id)
}
