package models

import "time"

// Activity kinds distinguish graded exams from open practice work.
const (
	ActivityKindPractice = "practice"
	ActivityKindExam     = "exam"
)

// Activity represents a programming problem with test cases attached.
type Activity struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Kind        string    `gorm:"size:32;not null;default:practice" json:"kind"`
	Language    string    `gorm:"size:32;not null" json:"language"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
