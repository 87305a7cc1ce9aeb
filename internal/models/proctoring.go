package models

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

// Proctoring session states.
const (
	ProctoringStatusActive = "active"
	ProctoringStatusAway   = "away"
	ProctoringStatusIdle   = "idle"
	ProctoringStatusFrozen = "frozen"
)

// Proctoring event types emitted by the editor telemetry.
const (
	ProctoringEventFocus        = "focus"
	ProctoringEventBlur         = "blur"
	ProctoringEventIdleStart    = "idle_start"
	ProctoringEventIdleEnd      = "idle_end"
	ProctoringEventPaste        = "paste"
	ProctoringEventBlockedPaste = "blocked_paste"
	ProctoringEventCodeChange   = "code_change"
)

// LargePasteChars is the character count above which a paste counts as large.
const LargePasteChars = 50

// ProctoringEvent is a single immutable telemetry record appended to a session log.
type ProctoringEvent struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	SessionID  uint              `gorm:"not null;index" json:"session_id"`
	Type       string            `gorm:"size:32;not null" json:"type"`
	CharCount  int               `gorm:"not null;default:0" json:"char_count"`
	Payload    datatypes.JSONMap `json:"payload,omitempty"`
	OccurredAt time.Time         `gorm:"not null" json:"occurred_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ProctoringSession aggregates behavioral telemetry per student and activity.
type ProctoringSession struct {
	ID                uint                      `gorm:"primaryKey" json:"id"`
	StudentID         uint                      `gorm:"not null;uniqueIndex:idx_proctoring_student_activity" json:"student_id"`
	ActivityID        uint                      `gorm:"not null;uniqueIndex:idx_proctoring_student_activity" json:"activity_id"`
	Status            string                    `gorm:"size:16;not null;default:active" json:"status"`
	TabSwitches       int                       `gorm:"not null;default:0" json:"tab_switches"`
	PasteCount        int                       `gorm:"not null;default:0" json:"paste_count"`
	LargePasteCount   int                       `gorm:"not null;default:0" json:"large_paste_count"`
	TotalPastedChars  int                       `gorm:"not null;default:0" json:"total_pasted_chars"`
	BlockedPasteCount int                       `gorm:"not null;default:0" json:"blocked_paste_count"`
	IdleCount         int                       `gorm:"not null;default:0" json:"idle_count"`
	TotalActiveMs     int64                     `gorm:"not null;default:0" json:"total_active_ms"`
	TotalAwayMs       int64                     `gorm:"not null;default:0" json:"total_away_ms"`
	LongestAwayMs     int64                     `gorm:"not null;default:0" json:"longest_away_ms"`
	LastTransitionAt  *time.Time                `json:"last_transition_at,omitempty"`
	Flags             datatypes.JSONSlice[Flag] `json:"flags"`
	Events            []ProctoringEvent         `gorm:"foreignKey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// TimeAwayPct derives the percentage of the observed session spent away.
func (s ProctoringSession) TimeAwayPct() int {
	total := s.TotalActiveMs + s.TotalAwayMs
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(s.TotalAwayMs) / float64(total)))
}

// Frozen reports whether the session stopped accepting events.
func (s ProctoringSession) Frozen() bool {
	return s.Status == ProctoringStatusFrozen
}
