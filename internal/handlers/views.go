package handlers

import (
	"time"

	"pattern-analysis-service/internal/models"
)

type analysisView struct {
	AnalysisID         string `json:"analysisId"`
	AnalysisType       string `json:"analysisType"`
	UserID             string `json:"userId"`
	SessionID          string `json:"sessionId,omitempty"`
	SourceSessionID    string `json:"sourceSessionId"`
	Merged             bool   `json:"merged"`
	PreviousAnalysisID string `json:"previousAnalysisId,omitempty"`

	QuestionTypePerformances map[string]models.QuestionTypePerformance `json:"questionTypePerformances"`
	ReviewRequiredTypes      []string                                  `json:"reviewRequiredTypes"`
	ImprovementRequiredTypes []string                                  `json:"improvementRequiredTypes"`
	StrengthTypes            []string                                  `json:"strengthTypes"`
	RecentWrongQuestionIDs   []string                                  `json:"recentWrongQuestionIds"`
	SlowSolvingTypes         []string                                  `json:"slowSolvingTypes"`

	TotalQuestions            int     `json:"totalQuestions"`
	CorrectAnswers            int     `json:"correctAnswers"`
	OverallAccuracyRate       float64 `json:"overallAccuracyRate"`
	AverageSolvingTimeSeconds float64 `json:"averageSolvingTimeSeconds"`

	StudyFrequency        int                          `json:"studyFrequency"`
	PreferredStudyTime    models.StudyTimeSlot         `json:"preferredStudyTime,omitempty"`
	StudyTimeDistribution map[models.StudyTimeSlot]int `json:"studyTimeDistribution"`

	AnalyzedAt time.Time `json:"analyzedAt"`
}

func newAnalysisView(r *models.PatternAnalysisResult) *analysisView {
	if r == nil {
		return nil
	}

	view := &analysisView{
		AnalysisID:                r.AnalysisID,
		AnalysisType:              string(r.Type()),
		UserID:                    r.UserID,
		SourceSessionID:           r.Scope.SourceSessionID(),
		QuestionTypePerformances:  r.QuestionTypePerformances,
		ReviewRequiredTypes:       r.ReviewRequiredTypes,
		ImprovementRequiredTypes:  r.ImprovementRequiredTypes,
		StrengthTypes:             r.StrengthTypes,
		RecentWrongQuestionIDs:    r.RecentWrongQuestionIDs,
		SlowSolvingTypes:          r.SlowSolvingTypes,
		TotalQuestions:            r.TotalQuestions,
		CorrectAnswers:            r.CorrectAnswers,
		OverallAccuracyRate:       r.OverallAccuracyRate,
		AverageSolvingTimeSeconds: r.AverageSolvingTimeSeconds,
		StudyFrequency:            r.StudyFrequency,
		PreferredStudyTime:        r.PreferredStudyTime,
		StudyTimeDistribution:     r.StudyTimeDistribution,
		AnalyzedAt:                r.AnalyzedAt,
	}
	if sessionID, ok := r.SessionID(); ok {
		view.SessionID = sessionID
	}
	if rolling, ok := r.Scope.(models.RollingScope); ok {
		view.Merged = rolling.Merged
		view.PreviousAnalysisID = rolling.PreviousAnalysisID
	}
	return view
}
