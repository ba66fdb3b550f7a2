package analysis

import (
	"pattern-analysis-service/internal/models"
)

// Merger folds new answers into a previous rolling analysis without
// re-reading the user's history.
type Merger struct {
	analyzer *Analyzer
}

func NewMerger(analyzer *Analyzer) *Merger {
	return &Merger{analyzer: analyzer}
}

// Merge combines previous with delta. Totals and correct counts add, average
// time is weighted by question count, and every bucket is recomputed from
// the merged table. Recent wrong questions come from delta alone.
func (m *Merger) Merge(previous *models.PatternAnalysisResult, triggeredBy string, delta []models.QuestionAnswerRecord) *models.PatternAnalysisResult {
	a := m.analyzer
	now := a.now()
	loc := a.thresholds.location()

	table := make(map[string]models.QuestionTypePerformance, len(previous.QuestionTypePerformances))
	for questionType, perf := range previous.QuestionTypePerformances {
		table[questionType] = perf
	}
	for questionType, t := range tallyByType(delta) {
		prev, ok := table[questionType]
		if !ok {
			table[questionType] = t.performance(questionType)
			continue
		}
		table[questionType] = mergePerformance(prev, *t)
	}

	total, correct, timeSeconds := previousTotals(previous)
	d := tallyAll(delta)
	total += d.total
	correct += d.correct
	timeSeconds += d.timeSeconds

	return a.assemble(assembly{
		scope: models.RollingScope{
			TriggeredBy:        triggeredBy,
			Merged:             true,
			PreviousAnalysisID: previous.AnalysisID,
		},
		userID:      previous.UserID,
		table:       table,
		total:       total,
		correct:     correct,
		timeSeconds: timeSeconds,
		recentWrong: a.recentWrongQuestionIDs(delta, now),
		studyDays:   studyDays(previous.StudyDays, delta, now, a.thresholds.RollingLookback, loc),
		studyDist:   studyTimeDistribution(previous.StudyTimeDistribution, delta, loc),
		analyzedAt:  now,
	})
}

func mergePerformance(prev models.QuestionTypePerformance, delta typeTally) models.QuestionTypePerformance {
	total := prev.TotalQuestions + delta.total
	correct := prev.CorrectAnswers + delta.correct
	weightedTime := float64(prev.TotalQuestions)*prev.AverageTimeSeconds + float64(delta.timeSeconds)
	return models.QuestionTypePerformance{
		QuestionType:       prev.QuestionType,
		TotalQuestions:     total,
		CorrectAnswers:     correct,
		AccuracyRate:       rate(correct, total),
		AverageTimeSeconds: mean(weightedTime, total),
	}
}

// previousTotals reads the overall counters of a stored analysis, deriving
// them from the per-type table for records written without them.
func previousTotals(previous *models.PatternAnalysisResult) (total, correct, timeSeconds int) {
	if previous.TotalQuestions > 0 {
		return previous.TotalQuestions, previous.CorrectAnswers, previous.TotalTimeSeconds
	}
	var weighted float64
	for _, perf := range previous.QuestionTypePerformances {
		total += perf.TotalQuestions
		correct += perf.CorrectAnswers
		weighted += float64(perf.TotalQuestions) * perf.AverageTimeSeconds
	}
	return total, correct, int(weighted + 0.5)
}
