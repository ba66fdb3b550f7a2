package models

import "time"

const (
	EventTypeSessionCompleted         = "SESSION_COMPLETED"
	EventTypePatternAnalysisCompleted = "PATTERN_ANALYSIS_COMPLETED"
)

// CompletionSignal is the inbound message announcing a finished session.
type CompletionSignal struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	EventType   string    `json:"eventType"`
	CompletedAt time.Time `json:"completedAt"`
}

// CompletionOutcome is the payload handed to the notifier once both
// analyses are stored.
type CompletionOutcome struct {
	UserID            string
	SessionID         string
	SessionAnalysisID string
	RollingAnalysisID string
	CompletedAt       time.Time
	Metadata          map[string]any
}
