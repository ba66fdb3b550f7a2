package models

import "time"

type SessionType string

const (
	SessionTypePractice       SessionType = "PRACTICE"
	SessionTypeReview         SessionType = "REVIEW"
	SessionTypeMockExam       SessionType = "MOCK_EXAM"
	SessionTypeDailyChallenge SessionType = "DAILY_CHALLENGE"
)

func (t SessionType) IsValid() bool {
	switch t {
	case SessionTypePractice, SessionTypeReview, SessionTypeMockExam, SessionTypeDailyChallenge:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusPaused     SessionStatus = "PAUSED"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusAbandoned  SessionStatus = "ABANDONED"
)

func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusInProgress, SessionStatusPaused, SessionStatusCompleted, SessionStatusAbandoned:
		return true
	}
	return false
}

// SessionSnapshot is a read-only copy of the session as held by the
// session-of-record service at fetch time.
type SessionSnapshot struct {
	SessionID   string         `json:"sessionId"`
	UserID      string         `json:"userId"`
	SessionType SessionType    `json:"sessionType"`
	Status      SessionStatus  `json:"status"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type QuestionAnswerRecord struct {
	QuestionID       string    `bson:"question_id" json:"questionId"`
	QuestionType     string    `bson:"question_type" json:"questionType"`
	MajorCategory    string    `bson:"major_category" json:"majorCategory"`
	MinorCategory    string    `bson:"minor_category" json:"minorCategory"`
	DifficultyLevel  string    `bson:"difficulty_level" json:"difficultyLevel"`
	UserAnswer       string    `bson:"user_answer" json:"userAnswer"`
	IsCorrect        bool      `bson:"is_correct" json:"isCorrect"`
	TimeSpentSeconds int       `bson:"time_spent_seconds" json:"timeSpentSeconds"`
	AnsweredAt       time.Time `bson:"answered_at" json:"answeredAt"`
	SolveCount       int       `bson:"solve_count" json:"solveCount"`
}

type SessionEvent struct {
	EventType  string    `json:"eventType"`
	OccurredAt time.Time `json:"occurredAt"`
	// Metadata is the event's metadata serialized as JSON.
	Metadata string `json:"metadata"`
}
