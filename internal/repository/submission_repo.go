package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/labguard/labguard-api/internal/models"
)

// ErrValidationConflict indicates the atomic validation write lost against a
// concurrent status change; the record was left untouched.
var ErrValidationConflict = errors.New("validation status conflict")

// SubmissionRepository exposes persistence helpers for submissions.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	// FinalizeValidation atomically writes the validation and analysis
	// records, guarded on the current validation status still being pending.
	FinalizeValidation(ctx context.Context, id uint, validation models.ValidationRecord, analysis models.AnalysisRecord) error
	// MarkValidationSkipped sets the skipped status without touching analysis.
	MarkValidationSkipped(ctx context.Context, id uint) error
	// ResetValidation returns the validation record to pending for a
	// force-revalidate generation.
	ResetValidation(ctx context.Context, id uint) error
	// ListPendingValidation returns ids of passed submissions whose
	// validation is still pending within the recovery window, oldest first.
	ListPendingValidation(ctx context.Context, window time.Duration, limit int) ([]uint, error)
	// ListPassedByActivity loads all passed submissions of one activity for
	// plagiarism reporting.
	ListPassedByActivity(ctx context.Context, activityID uint) ([]models.Submission, error)
}

// NewSubmissionRepository constructs a submission repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

type submissionRepository struct {
	db *gorm.DB
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).
		Preload("Activity").
		First(&submission, id).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) FinalizeValidation(ctx context.Context, id uint, validation models.ValidationRecord, analysis models.AnalysisRecord) error {
	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND validation_status = ?", id, models.ValidationStatusPending).
		Updates(map[string]interface{}{
			"validation_status":        validation.Status,
			"validation_source":        validation.Source,
			"validation_verdict":       validation.Verdict,
			"analysis_suspicion_score": analysis.SuspicionScore,
			"analysis_flags":           analysis.Flags,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrValidationConflict
	}
	return nil
}

func (r *submissionRepository) MarkValidationSkipped(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND validation_status = ?", id, models.ValidationStatusPending).
		Update("validation_status", models.ValidationStatusSkipped)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrValidationConflict
	}
	return nil
}

func (r *submissionRepository) ResetValidation(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"validation_status": models.ValidationStatusPending,
			"validation_source": "",
		}).Error
}

func (r *submissionRepository) ListPendingValidation(ctx context.Context, window time.Duration, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("status = ? AND validation_status = ? AND created_at > ?",
			models.SubmissionStatusPassed, models.ValidationStatusPending, time.Now().Add(-window)).
		Order("created_at asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *submissionRepository) ListPassedByActivity(ctx context.Context, activityID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND status = ?", activityID, models.SubmissionStatusPassed).
		Order("id asc").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}
