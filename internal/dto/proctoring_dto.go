package dto

import (
	"time"

	"github.com/labguard/labguard-api/internal/models"
)

// ProctoringEventRequest appends one telemetry event to a session. The
// session is created lazily on the first event for a (student, activity) pair.
type ProctoringEventRequest struct {
	StudentID  uint                   `json:"student_id" validate:"required,gt=0"`
	ActivityID uint                   `json:"activity_id" validate:"required,gt=0"`
	Type       string                 `json:"type" validate:"required,oneof=focus blur idle_start idle_end paste blocked_paste code_change"`
	CharCount  int                    `json:"char_count" validate:"gte=0"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// ProctoringSessionResponse is the session snapshot after an append.
type ProctoringSessionResponse struct {
	SessionID         uint          `json:"session_id"`
	Status            string        `json:"status"`
	TabSwitches       int           `json:"tab_switches"`
	PasteCount        int           `json:"paste_count"`
	LargePasteCount   int           `json:"large_paste_count"`
	TotalPastedChars  int           `json:"total_pasted_chars"`
	BlockedPasteCount int           `json:"blocked_paste_count"`
	IdleCount         int           `json:"idle_count"`
	TimeAwayPct       int           `json:"time_away_pct"`
	Flags             []models.Flag `json:"flags"`
}

// IntegrityDeduction is one entry of the score breakdown.
type IntegrityDeduction struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// IntegrityResponse is the derived integrity score with its breakdown.
type IntegrityResponse struct {
	SessionID      uint                 `json:"session_id"`
	IntegrityScore int                  `json:"integrity_score"`
	Classification string               `json:"classification"`
	TimeAwayPct    int                  `json:"time_away_pct"`
	Deductions     []IntegrityDeduction `json:"deductions"`
	Flags          []models.Flag        `json:"flags"`
}
