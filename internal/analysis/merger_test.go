package analysis

import (
	"testing"
	"time"

	"pattern-analysis-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func previousRolling(table map[string]models.QuestionTypePerformance) *models.PatternAnalysisResult {
	total, correct := 0, 0
	weighted := 0.0
	for _, perf := range table {
		total += perf.TotalQuestions
		correct += perf.CorrectAnswers
		weighted += float64(perf.TotalQuestions) * perf.AverageTimeSeconds
	}
	return &models.PatternAnalysisResult{
		AnalysisID:               "rolling-prev",
		Scope:                    models.RollingScope{TriggeredBy: "session-0"},
		UserID:                   "user-1",
		QuestionTypePerformances: table,
		TotalQuestions:           total,
		CorrectAnswers:           correct,
		TotalTimeSeconds:         int(weighted),
		StudyDays:                []time.Time{time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		StudyTimeDistribution:    map[models.StudyTimeSlot]int{models.StudyTimeNight: 10},
		AnalyzedAt:               evalTime.Add(-48 * time.Hour),
	}
}

func TestMerge_WeightedExample(t *testing.T) {
	prev := previousRolling(map[string]models.QuestionTypePerformance{
		"FILL_IN_THE_BLANK": {QuestionType: "FILL_IN_THE_BLANK", TotalQuestions: 10, CorrectAnswers: 6, AccuracyRate: 60, AverageTimeSeconds: 20},
	})
	delta := answersFor("FILL_IN_THE_BLANK", 5, 5, 10, evalTime.Add(-time.Hour))

	merged := NewMerger(newTestAnalyzer()).Merge(prev, "session-1", delta)

	perf := merged.QuestionTypePerformances["FILL_IN_THE_BLANK"]
	assert.Equal(t, 15, perf.TotalQuestions)
	assert.Equal(t, 11, perf.CorrectAnswers)
	assert.InDelta(t, 73.33, perf.AccuracyRate, 0.01)
	assert.InDelta(t, 16.67, perf.AverageTimeSeconds, 0.01)
	assert.Equal(t, []string{"FILL_IN_THE_BLANK"}, merged.ImprovementRequiredTypes)
	assert.Empty(t, merged.StrengthTypes)
	assert.Empty(t, merged.ReviewRequiredTypes)

	assert.Equal(t, models.AnalysisTypeRolling, merged.Type())
	scope := merged.Scope.(models.RollingScope)
	assert.True(t, scope.Merged)
	assert.Equal(t, "rolling-prev", scope.PreviousAnalysisID)
	assert.Equal(t, "session-1", scope.TriggeredBy)
	assert.Equal(t, "user-1", merged.UserID)
	assert.Equal(t, evalTime, merged.AnalyzedAt)
}

func TestMerge_NoDeltaKeepsPerTypeStats(t *testing.T) {
	prev := previousRolling(map[string]models.QuestionTypePerformance{
		"A": {QuestionType: "A", TotalQuestions: 7, CorrectAnswers: 3, AccuracyRate: 300.0 / 7, AverageTimeSeconds: 100.0 / 3},
		"B": {QuestionType: "B", TotalQuestions: 2, CorrectAnswers: 2, AccuracyRate: 100, AverageTimeSeconds: 12.5},
	})

	merged := NewMerger(newTestAnalyzer()).Merge(prev, "session-1", nil)

	assert.Equal(t, prev.QuestionTypePerformances, merged.QuestionTypePerformances)
	assert.Equal(t, []string{"A"}, merged.ReviewRequiredTypes)
	assert.Equal(t, []string{"B"}, merged.StrengthTypes)
	assert.Empty(t, merged.RecentWrongQuestionIDs)
	assert.Equal(t, prev.TotalQuestions, merged.TotalQuestions)
	assert.Equal(t, prev.CorrectAnswers, merged.CorrectAnswers)
}

func TestMerge_TypeInOneSourceCarriesThrough(t *testing.T) {
	prev := previousRolling(map[string]models.QuestionTypePerformance{
		"OLD": {QuestionType: "OLD", TotalQuestions: 4, CorrectAnswers: 1, AccuracyRate: 25, AverageTimeSeconds: 70},
	})
	delta := answersFor("NEW", 2, 2, 5, evalTime)

	merged := NewMerger(newTestAnalyzer()).Merge(prev, "session-1", delta)

	assert.Equal(t, prev.QuestionTypePerformances["OLD"], merged.QuestionTypePerformances["OLD"])
	assert.Equal(t, models.QuestionTypePerformance{
		QuestionType: "NEW", TotalQuestions: 2, CorrectAnswers: 2, AccuracyRate: 100, AverageTimeSeconds: 5,
	}, merged.QuestionTypePerformances["NEW"])
	assert.Equal(t, []string{"OLD"}, merged.ReviewRequiredTypes)
	assert.Equal(t, []string{"NEW"}, merged.StrengthTypes)
	assert.Equal(t, []string{"OLD"}, merged.SlowSolvingTypes)
}

func TestMerge_BucketsRecomputedFromMergedTable(t *testing.T) {
	prev := previousRolling(map[string]models.QuestionTypePerformance{
		"T": {QuestionType: "T", TotalQuestions: 10, CorrectAnswers: 5, AccuracyRate: 50, AverageTimeSeconds: 90},
	})
	// 10 more correct answers: 15/20 = 75%, and (900+100)/20 = 50s.
	delta := answersFor("T", 10, 10, 10, evalTime)

	merged := NewMerger(newTestAnalyzer()).Merge(prev, "session-1", delta)

	assert.Equal(t, []string{"T"}, merged.ImprovementRequiredTypes)
	assert.Empty(t, merged.ReviewRequiredTypes)
	assert.Empty(t, merged.SlowSolvingTypes)
	assert.InDelta(t, 50.0, merged.QuestionTypePerformances["T"].AverageTimeSeconds, 1e-9)
}

func TestMerge_RecentWrongComesFromDeltaOnly(t *testing.T) {
	prev := previousRolling(map[string]models.QuestionTypePerformance{
		"T": {QuestionType: "T", TotalQuestions: 3, CorrectAnswers: 0, AccuracyRate: 0, AverageTimeSeconds: 10},
	})
	prev.RecentWrongQuestionIDs = []string{"stale-wrong"}
	delta := []models.QuestionAnswerRecord{
		answer("fresh-wrong", "T", false, 10, evalTime.Add(-time.Hour)),
		answer("too-old", "T", false, 10, evalTime.Add(-20*24*time.Hour)),
	}

	merged := NewMerger(newTestAnalyzer()).Merge(prev, "session-1", delta)

	assert.Equal(t, []string{"fresh-wrong"}, merged.RecentWrongQuestionIDs)
}

func TestMerge_StudyStatisticsAccumulate(t *testing.T) {
	prev := previousRolling(map[string]models.QuestionTypePerformance{})
	prev.StudyDays = []time.Time{
		time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), // outside the lookback
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	delta := []models.QuestionAnswerRecord{
		answer("q1", "T", true, 10, time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)),
		answer("q2", "T", true, 10, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
	}

	merged := NewMerger(newTestAnalyzer()).Merge(prev, "session-1", delta)

	assert.Equal(t, 2, merged.StudyFrequency)
	assert.Equal(t, 10, merged.StudyTimeDistribution[models.StudyTimeNight])
	assert.Equal(t, 2, merged.StudyTimeDistribution[models.StudyTimeMorning])
	assert.Equal(t, models.StudyTimeNight, merged.PreferredStudyTime)
}

func TestMerge_MatchesSinglePassAnalysis(t *testing.T) {
	a := newTestAnalyzer()
	base := append(answersFor("A", 6, 2, 30, evalTime), answersFor("B", 3, 3, 80, evalTime)...)
	d1 := append(answersFor("A", 4, 4, 10, evalTime), answersFor("C", 5, 1, 45, evalTime)...)
	d2 := append(answersFor("B", 7, 1, 20, evalTime), answersFor("C", 2, 2, 90, evalTime)...)

	m := NewMerger(a)
	step1 := m.Merge(a.AnalyzeWindow("u", "s0", base), "s1", d1)
	step2 := m.Merge(step1, "s2", d2)

	all := append(append(append([]models.QuestionAnswerRecord{}, base...), d1...), d2...)
	direct := a.AnalyzeWindow("u", "s2", all)

	require.Equal(t, len(direct.QuestionTypePerformances), len(step2.QuestionTypePerformances))
	for questionType, want := range direct.QuestionTypePerformances {
		got := step2.QuestionTypePerformances[questionType]
		assert.Equal(t, want.TotalQuestions, got.TotalQuestions, questionType)
		assert.Equal(t, want.CorrectAnswers, got.CorrectAnswers, questionType)
		assert.InDelta(t, want.AccuracyRate, got.AccuracyRate, 1e-9, questionType)
		assert.InDelta(t, want.AverageTimeSeconds, got.AverageTimeSeconds, 1e-9, questionType)
	}
	assert.Equal(t, direct.ReviewRequiredTypes, step2.ReviewRequiredTypes)
	assert.Equal(t, direct.ImprovementRequiredTypes, step2.ImprovementRequiredTypes)
	assert.Equal(t, direct.StrengthTypes, step2.StrengthTypes)
	assert.Equal(t, direct.SlowSolvingTypes, step2.SlowSolvingTypes)
	assert.Equal(t, direct.TotalQuestions, step2.TotalQuestions)
	assert.InDelta(t, direct.OverallAccuracyRate, step2.OverallAccuracyRate, 1e-9)
	assert.InDelta(t, direct.AverageSolvingTimeSeconds, step2.AverageSolvingTimeSeconds, 1e-9)
}

func TestMerge_LegacyRecordWithoutTotals(t *testing.T) {
	prev := previousRolling(map[string]models.QuestionTypePerformance{
		"T": {QuestionType: "T", TotalQuestions: 4, CorrectAnswers: 2, AccuracyRate: 50, AverageTimeSeconds: 15},
	})
	prev.TotalQuestions, prev.CorrectAnswers, prev.TotalTimeSeconds = 0, 0, 0

	merged := NewMerger(newTestAnalyzer()).Merge(prev, "s1", answersFor("T", 1, 1, 25, evalTime))

	assert.Equal(t, 5, merged.TotalQuestions)
	assert.Equal(t, 3, merged.CorrectAnswers)
	assert.Equal(t, 85, merged.TotalTimeSeconds)
	assert.InDelta(t, 60.0, merged.OverallAccuracyRate, 1e-9)
}
