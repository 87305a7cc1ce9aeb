package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission execution statuses reported by the external sandbox.
const (
	SubmissionStatusPending = "pending"
	SubmissionStatusRunning = "running"
	SubmissionStatusPassed  = "passed"
	SubmissionStatusFailed  = "failed"
	SubmissionStatusError   = "error"
)

// Validation statuses; the status progresses monotonically from pending and
// regresses only via an explicit force-revalidate request.
const (
	ValidationStatusPending   = "pending"
	ValidationStatusValidated = "validated"
	ValidationStatusFlagged   = "flagged"
	ValidationStatusSkipped   = "skipped"
)

// Validation sources describe which stage produced the final verdict.
const (
	ValidationSourceStaticOnly     = "static-only"
	ValidationSourceAI             = "ai"
	ValidationSourceStaticFallback = "static-fallback"
)

// Verdict is the structured outcome of validating a submission.
type Verdict struct {
	IsLegitimate        bool      `json:"is_legitimate"`
	FollowsInstructions bool      `json:"follows_instructions"`
	IsHardcoded         bool      `json:"is_hardcoded"`
	Confidence          int       `json:"confidence"`
	Issues              []string  `json:"issues,omitempty"`
	Explanation         string    `json:"explanation,omitempty"`
	ModelTag            string    `json:"model_tag"`
	FallbackLevel       int       `json:"fallback_level"`
	LatencyMs           int64     `json:"latency_ms"`
	DecidedAt           time.Time `json:"decided_at"`
}

// ValidationRecord is embedded in the submission row.
type ValidationRecord struct {
	Status  string                      `gorm:"size:16;not null;default:pending" json:"status"`
	Source  string                      `gorm:"size:32" json:"source,omitempty"`
	Verdict datatypes.JSONType[Verdict] `json:"verdict"`
}

// AnalysisRecord accumulates suspicion findings on a submission.
type AnalysisRecord struct {
	SuspicionScore int                       `gorm:"not null;default:0" json:"suspicion_score"`
	Flags          datatypes.JSONSlice[Flag] `json:"flags"`
}

// Submission is one attempt by one student on one activity.
type Submission struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	ActivityID uint             `gorm:"not null;index" json:"activity_id"`
	StudentID  uint             `gorm:"not null;index" json:"student_id"`
	SessionID  uint             `gorm:"index" json:"session_id"`
	Language   string           `gorm:"size:32;not null" json:"language"`
	Source     string           `gorm:"type:text" json:"source"`
	Status     string           `gorm:"size:16;not null;default:pending" json:"status"`
	Score      int              `gorm:"not null;default:0" json:"score"`
	Validation ValidationRecord `gorm:"embedded;embeddedPrefix:validation_" json:"validation"`
	Analysis   AnalysisRecord   `gorm:"embedded;embeddedPrefix:analysis_" json:"analysis"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Activity   Activity         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// NeedsValidation reports whether the pipeline still owes this submission a verdict.
func (s Submission) NeedsValidation() bool {
	return s.Validation.Status == ValidationStatusPending
}
