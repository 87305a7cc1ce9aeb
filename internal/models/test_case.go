package models

import "time"

// TestCase is a read-only input/expected-output pair belonging to an activity.
type TestCase struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ActivityID     uint      `gorm:"not null;index" json:"activity_id"`
	Input          string    `gorm:"type:text" json:"input"`
	ExpectedOutput string    `gorm:"type:text" json:"expected_output"`
	Weight         float64   `gorm:"not null;default:1" json:"weight"`
	OrdinalIndex   int       `gorm:"not null;default:0" json:"ordinal_index"`
	Hidden         bool      `gorm:"not null;default:false" json:"hidden"`
	CreatedAt      time.Time `json:"created_at"`
}
