package sessionclient

import (
	"encoding/json"

	"pattern-analysis-service/internal/models"
)

// MappedSession holds the domain records derived from one SessionResponse.
type MappedSession struct {
	Snapshot models.SessionSnapshot
	Answers  []models.QuestionAnswerRecord
	Events   []models.SessionEvent
}

// MapSession converts the session service representation into domain
// records. It does no I/O.
func MapSession(resp *SessionResponse) (*MappedSession, error) {
	snapshot, err := mapSnapshot(resp.Session)
	if err != nil {
		return nil, err
	}

	answers := make([]models.QuestionAnswerRecord, 0, len(resp.Questions))
	for _, q := range resp.Questions {
		answers = append(answers, mapAnswer(q))
	}

	events := make([]models.SessionEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		event, err := mapEvent(e)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return &MappedSession{
		Snapshot: snapshot,
		Answers:  answers,
		Events:   events,
	}, nil
}

func mapSnapshot(s SessionDTO) (models.SessionSnapshot, error) {
	if s.SessionID == "" {
		return models.SessionSnapshot{}, &MappingError{Field: "session.sessionId", Value: s.SessionID}
	}
	if s.UserID == "" {
		return models.SessionSnapshot{}, &MappingError{Field: "session.userId", Value: s.UserID}
	}

	sessionType := models.SessionType(s.SessionType)
	if !sessionType.IsValid() {
		return models.SessionSnapshot{}, &MappingError{Field: "session.sessionType", Value: s.SessionType}
	}
	status := models.SessionStatus(s.Status)
	if !status.IsValid() {
		return models.SessionSnapshot{}, &MappingError{Field: "session.status", Value: s.Status}
	}

	return models.SessionSnapshot{
		SessionID:   s.SessionID,
		UserID:      s.UserID,
		SessionType: sessionType,
		Status:      status,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		Metadata:    s.Metadata,
	}, nil
}

func mapAnswer(q QuestionDTO) models.QuestionAnswerRecord {
	timeSpent := 0
	if q.TimeSpentSeconds != nil {
		timeSpent = *q.TimeSpentSeconds
	}
	return models.QuestionAnswerRecord{
		QuestionID:       q.QuestionID,
		QuestionType:     q.QuestionType,
		MajorCategory:    q.MajorCategory,
		MinorCategory:    q.MinorCategory,
		DifficultyLevel:  q.DifficultyLevel,
		UserAnswer:       q.UserAnswer,
		IsCorrect:        q.IsCorrect,
		TimeSpentSeconds: timeSpent,
		AnsweredAt:       q.AnsweredAt,
		SolveCount:       q.SolveCount,
	}
}

func mapEvent(e EventDTO) (models.SessionEvent, error) {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return models.SessionEvent{}, &MappingError{Field: "events.metadata", Err: err}
		}
		metadata = string(raw)
	}
	return models.SessionEvent{
		EventType:  e.EventType,
		OccurredAt: e.OccurredAt,
		Metadata:   metadata,
	}, nil
}
