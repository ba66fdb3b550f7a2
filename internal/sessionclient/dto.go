package sessionclient

import "time"

// SessionResponse is the body of GET /sessions/{id} on the session service.
type SessionResponse struct {
	Session   SessionDTO    `json:"session"`
	Questions []QuestionDTO `json:"questions"`
	Events    []EventDTO    `json:"events"`
}

type SessionDTO struct {
	SessionID   string         `json:"sessionId"`
	UserID      string         `json:"userId"`
	SessionType string         `json:"sessionType"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type QuestionDTO struct {
	QuestionID       string    `json:"questionId"`
	QuestionType     string    `json:"questionType"`
	MajorCategory    string    `json:"majorCategory"`
	MinorCategory    string    `json:"minorCategory"`
	DifficultyLevel  string    `json:"difficultyLevel"`
	UserAnswer       string    `json:"userAnswer"`
	IsCorrect        bool      `json:"isCorrect"`
	TimeSpentSeconds *int      `json:"timeSpentSeconds,omitempty"`
	AnsweredAt       time.Time `json:"answeredAt"`
	SolveCount       int       `json:"solveCount"`
}

type EventDTO struct {
	EventType  string         `json:"eventType"`
	OccurredAt time.Time      `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
