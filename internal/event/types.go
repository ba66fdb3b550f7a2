package event

import (
	"time"

	"pattern-analysis-service/internal/models"
)

const (
	// headers set on parked messages
	HeaderParkReason   = "x-park-reason"
	HeaderParkAttempts = "x-park-attempts"

	headerDeath = "x-death"
)

// PatternAnalysisCompletedEvent announces that both analyses of a session
// are stored.
type PatternAnalysisCompletedEvent struct {
	EventType         string         `json:"eventType"`
	UserID            string         `json:"userId"`
	SessionID         string         `json:"sessionId"`
	SessionAnalysisID string         `json:"sessionAnalysisId"`
	RollingAnalysisID string         `json:"rollingAnalysisId"`
	CompletedAt       time.Time      `json:"completedAt"`
	Timestamp         int64          `json:"timestamp"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func newPatternAnalysisCompletedEvent(outcome *models.CompletionOutcome, now time.Time) *PatternAnalysisCompletedEvent {
	return &PatternAnalysisCompletedEvent{
		EventType:         models.EventTypePatternAnalysisCompleted,
		UserID:            outcome.UserID,
		SessionID:         outcome.SessionID,
		SessionAnalysisID: outcome.SessionAnalysisID,
		RollingAnalysisID: outcome.RollingAnalysisID,
		CompletedAt:       outcome.CompletedAt,
		Timestamp:         now.Unix(),
		Metadata:          outcome.Metadata,
	}
}
