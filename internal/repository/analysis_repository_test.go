package repository

import (
	"testing"
	"time"

	"pattern-analysis-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var analyzedAt = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func sampleResult(scope models.Scope) *models.PatternAnalysisResult {
	return &models.PatternAnalysisResult{
		Scope:  scope,
		UserID: "u-1",
		QuestionTypePerformances: map[string]models.QuestionTypePerformance{
			"FILL_IN_THE_BLANK": {QuestionType: "FILL_IN_THE_BLANK", TotalQuestions: 15, CorrectAnswers: 11, AccuracyRate: 73.33, AverageTimeSeconds: 16.67},
		},
		ReviewRequiredTypes:       []string{},
		ImprovementRequiredTypes:  []string{"FILL_IN_THE_BLANK"},
		StrengthTypes:             []string{},
		RecentWrongQuestionIDs:    []string{"q-9"},
		SlowSolvingTypes:          []string{},
		TotalQuestions:            15,
		CorrectAnswers:            11,
		TotalTimeSeconds:          250,
		OverallAccuracyRate:       73.33,
		AverageSolvingTimeSeconds: 16.67,
		StudyFrequency:            2,
		PreferredStudyTime:        models.StudyTimeEvening,
		StudyDays: []time.Time{
			time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		StudyTimeDistribution: map[models.StudyTimeSlot]int{models.StudyTimeEvening: 10, models.StudyTimeMorning: 5},
		AnalyzedAt:            analyzedAt,
	}
}

func TestToDocument_SessionScope(t *testing.T) {
	doc := toDocument(sampleResult(models.SessionScope{SessionID: "s-1"}), "a-1", analyzedAt)

	require.NotNil(t, doc.SessionID)
	assert.Equal(t, "s-1", *doc.SessionID)
	assert.Equal(t, "SESSION", doc.AnalysisType)
	assert.Equal(t, "s-1:SESSION", doc.IdempotencyKey)
	assert.Equal(t, "s-1", doc.SourceSessionID)
	assert.Equal(t, 10, doc.StudyTimeDistribution["EVENING"])
}

func TestToDocument_RollingScopeHasNullSessionID(t *testing.T) {
	scope := models.RollingScope{TriggeredBy: "s-2", Merged: true, PreviousAnalysisID: "a-0"}
	doc := toDocument(sampleResult(scope), "a-2", analyzedAt)

	assert.Nil(t, doc.SessionID)
	assert.Equal(t, "s-2:ROLLING", doc.IdempotencyKey)
	assert.True(t, doc.Merged)
	assert.Equal(t, "a-0", doc.PreviousAnalysisID)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	value, err := bson.Raw(raw).LookupErr("session_id")
	require.NoError(t, err)
	assert.Equal(t, bson.TypeNull, value.Type)
}

func TestDocumentRoundTrip(t *testing.T) {
	for _, scope := range []models.Scope{
		models.SessionScope{SessionID: "s-1"},
		models.RollingScope{TriggeredBy: "s-1", Merged: false},
	} {
		original := sampleResult(scope)

		raw, err := bson.Marshal(toDocument(original, "a-1", analyzedAt))
		require.NoError(t, err)
		var decoded analysisDocument
		require.NoError(t, bson.Unmarshal(raw, &decoded))

		result, err := fromDocument(&decoded)
		require.NoError(t, err)

		assert.Equal(t, "a-1", result.AnalysisID)
		assert.Equal(t, scope, result.Scope)
		assert.Equal(t, original.QuestionTypePerformances, result.QuestionTypePerformances)
		assert.Equal(t, original.ImprovementRequiredTypes, result.ImprovementRequiredTypes)
		assert.Equal(t, original.StudyTimeDistribution, result.StudyTimeDistribution)
		assert.Equal(t, original.PreferredStudyTime, result.PreferredStudyTime)
		assert.True(t, original.AnalyzedAt.Equal(result.AnalyzedAt))
		require.Len(t, result.StudyDays, 2)
		assert.True(t, original.StudyDays[1].Equal(result.StudyDays[1]))
	}
}

func TestFromDocument_RejectsBrokenRecords(t *testing.T) {
	_, err := fromDocument(&analysisDocument{AnalysisID: "a-1", AnalysisType: "SESSION"})
	assert.Error(t, err)

	_, err = fromDocument(&analysisDocument{AnalysisID: "a-1", AnalysisType: "WEEKLY"})
	assert.Error(t, err)
}

func TestFromDocument_NilListsBecomeEmpty(t *testing.T) {
	result, err := fromDocument(&analysisDocument{AnalysisID: "a-1", AnalysisType: "ROLLING", SourceSessionID: "s-1"})

	require.NoError(t, err)
	assert.NotNil(t, result.ReviewRequiredTypes)
	assert.NotNil(t, result.RecentWrongQuestionIDs)
	assert.NotNil(t, result.QuestionTypePerformances)
}
