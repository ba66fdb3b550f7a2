package models

import "time"

type AnalysisType string

const (
	AnalysisTypeSession AnalysisType = "SESSION"
	AnalysisTypeRolling AnalysisType = "ROLLING"
)

// Scope says what an analysis covers. It is implemented only by
// SessionScope and RollingScope.
type Scope interface {
	AnalysisType() AnalysisType
	// SourceSessionID is the session whose completion produced the analysis.
	SourceSessionID() string
}

// SessionScope covers the answers of exactly one session.
type SessionScope struct {
	SessionID string
}

func (SessionScope) AnalysisType() AnalysisType { return AnalysisTypeSession }
func (s SessionScope) SourceSessionID() string { return s.SessionID }

// RollingScope covers the user's accumulated window ending at AnalyzedAt.
type RollingScope struct {
	TriggeredBy        string
	Merged             bool
	PreviousAnalysisID string
}

func (RollingScope) AnalysisType() AnalysisType { return AnalysisTypeRolling }
func (s RollingScope) SourceSessionID() string { return s.TriggeredBy }

type StudyTimeSlot string

const (
	StudyTimeMorning   StudyTimeSlot = "MORNING"
	StudyTimeAfternoon StudyTimeSlot = "AFTERNOON"
	StudyTimeEvening   StudyTimeSlot = "EVENING"
	StudyTimeNight     StudyTimeSlot = "NIGHT"
)

// StudyTimeSlots is the tie-break order for the preferred study time.
var StudyTimeSlots = []StudyTimeSlot{StudyTimeMorning, StudyTimeAfternoon, StudyTimeEvening, StudyTimeNight}

func StudyTimeSlotForHour(hour int) StudyTimeSlot {
	switch {
	case hour >= 5 && hour < 12:
		return StudyTimeMorning
	case hour >= 12 && hour < 17:
		return StudyTimeAfternoon
	case hour >= 17 && hour < 22:
		return StudyTimeEvening
	default:
		return StudyTimeNight
	}
}

type QuestionTypePerformance struct {
	QuestionType       string  `bson:"question_type" json:"questionType"`
	TotalQuestions     int     `bson:"total_questions" json:"totalQuestions"`
	CorrectAnswers     int     `bson:"correct_answers" json:"correctAnswers"`
	AccuracyRate       float64 `bson:"accuracy_rate" json:"accuracyRate"`
	AverageTimeSeconds float64 `bson:"average_time_seconds" json:"averageTimeSeconds"`
}

// PatternAnalysisResult is never modified after it is built; a later
// analysis is a new value.
type PatternAnalysisResult struct {
	AnalysisID string
	Scope      Scope
	UserID     string

	QuestionTypePerformances map[string]QuestionTypePerformance
	ReviewRequiredTypes      []string
	ImprovementRequiredTypes []string
	StrengthTypes            []string
	RecentWrongQuestionIDs   []string
	SlowSolvingTypes         []string

	TotalQuestions            int
	CorrectAnswers            int
	TotalTimeSeconds          int
	OverallAccuracyRate       float64
	AverageSolvingTimeSeconds float64

	StudyFrequency        int
	PreferredStudyTime    StudyTimeSlot
	StudyDays             []time.Time
	StudyTimeDistribution map[StudyTimeSlot]int

	AnalyzedAt time.Time
}

func (r *PatternAnalysisResult) Type() AnalysisType {
	return r.Scope.AnalysisType()
}

// SessionID returns the analyzed session for SESSION results and false for
// ROLLING results.
func (r *PatternAnalysisResult) SessionID() (string, bool) {
	if s, ok := r.Scope.(SessionScope); ok {
		return s.SessionID, true
	}
	return "", false
}

// IdempotencyKey identifies the single result of a given type a session
// completion may produce.
func (r *PatternAnalysisResult) IdempotencyKey() string {
	return IdempotencyKey(r.Scope.SourceSessionID(), r.Type())
}

func IdempotencyKey(sessionID string, analysisType AnalysisType) string {
	return sessionID + ":" + string(analysisType)
}
