package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/labguard/labguard-api/internal/models"
)

// TestCaseRepository reads the activity test cases consumed by the pipeline.
type TestCaseRepository interface {
	ListByActivity(ctx context.Context, activityID uint) ([]models.TestCase, error)
}

// NewTestCaseRepository constructs a test case repository.
func NewTestCaseRepository(db *gorm.DB) TestCaseRepository {
	return &testCaseRepository{db: db}
}

type testCaseRepository struct {
	db *gorm.DB
}

func (r *testCaseRepository) ListByActivity(ctx context.Context, activityID uint) ([]models.TestCase, error) {
	var cases []models.TestCase
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("ordinal_index asc").
		Find(&cases).Error
	if err != nil {
		return nil, err
	}
	return cases, nil
}
