package dto

import "time"

// Event types published by the integrity pipeline.
const (
	EventSubmissionFlagged = "submission-flagged"
	EventMonitoringFlag    = "monitoring-flag"
)

// IntegrityEvent is the envelope delivered to channel observers.
type IntegrityEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Channel   string                 `json:"channel"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}
