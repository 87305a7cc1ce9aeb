package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/labguard/labguard-api/internal/models"
)

// ProctoringRepository persists proctoring sessions and their event logs.
type ProctoringRepository interface {
	GetByID(ctx context.Context, id uint) (models.ProctoringSession, error)
	// GetOrCreate lazily creates a session on the first event of a
	// (student, activity) pair.
	GetOrCreate(ctx context.Context, studentID, activityID uint) (models.ProctoringSession, error)
	Save(ctx context.Context, session *models.ProctoringSession) error
	AppendEvent(ctx context.Context, event *models.ProctoringEvent) error
}

// NewProctoringRepository constructs a proctoring repository.
func NewProctoringRepository(db *gorm.DB) ProctoringRepository {
	return &proctoringRepository{db: db}
}

type proctoringRepository struct {
	db *gorm.DB
}

func (r *proctoringRepository) GetByID(ctx context.Context, id uint) (models.ProctoringSession, error) {
	var session models.ProctoringSession
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		return models.ProctoringSession{}, err
	}
	return session, nil
}

func (r *proctoringRepository) GetOrCreate(ctx context.Context, studentID, activityID uint) (models.ProctoringSession, error) {
	var session models.ProctoringSession
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND activity_id = ?", studentID, activityID).
		First(&session).Error
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ProctoringSession{}, err
	}

	session = models.ProctoringSession{
		StudentID:  studentID,
		ActivityID: activityID,
		Status:     models.ProctoringStatusActive,
	}
	if err := r.db.WithContext(ctx).Create(&session).Error; err != nil {
		// A concurrent first event may have won the unique-index race.
		var existing models.ProctoringSession
		if lookupErr := r.db.WithContext(ctx).
			Where("student_id = ? AND activity_id = ?", studentID, activityID).
			First(&existing).Error; lookupErr == nil {
			return existing, nil
		}
		return models.ProctoringSession{}, err
	}
	return session, nil
}

func (r *proctoringRepository) Save(ctx context.Context, session *models.ProctoringSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *proctoringRepository) AppendEvent(ctx context.Context, event *models.ProctoringEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
