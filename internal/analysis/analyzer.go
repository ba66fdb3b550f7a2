// Package analysis derives per-question-type learning patterns from answer
// records and folds new answers into an existing rolling pattern.
package analysis

import (
	"slices"
	"time"

	"pattern-analysis-service/internal/models"
)

type Option func(*Analyzer)

// WithClock overrides the evaluation time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

type Analyzer struct {
	thresholds Thresholds
	now        func() time.Time
}

func NewAnalyzer(thresholds Thresholds, opts ...Option) *Analyzer {
	a := &Analyzer{
		thresholds: thresholds,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) Thresholds() Thresholds {
	return a.thresholds
}

func (a *Analyzer) Now() time.Time {
	return a.now()
}

// AnalyzeSession builds the SESSION analysis for one session's answers.
// An empty answer set yields an empty result, not an error.
func (a *Analyzer) AnalyzeSession(userID, sessionID string, answers []models.QuestionAnswerRecord) *models.PatternAnalysisResult {
	return a.analyze(models.SessionScope{SessionID: sessionID}, userID, answers)
}

// AnalyzeWindow builds a ROLLING analysis from every answer in the window,
// used when no previous rolling analysis can be merged.
func (a *Analyzer) AnalyzeWindow(userID, triggeredBy string, answers []models.QuestionAnswerRecord) *models.PatternAnalysisResult {
	return a.analyze(models.RollingScope{TriggeredBy: triggeredBy}, userID, answers)
}

func (a *Analyzer) analyze(scope models.Scope, userID string, answers []models.QuestionAnswerRecord) *models.PatternAnalysisResult {
	now := a.now()
	loc := a.thresholds.location()

	tallies := tallyByType(answers)
	table := make(map[string]models.QuestionTypePerformance, len(tallies))
	for questionType, t := range tallies {
		table[questionType] = t.performance(questionType)
	}

	overall := tallyAll(answers)
	dist := studyTimeDistribution(nil, answers, loc)

	return a.assemble(assembly{
		scope:       scope,
		userID:      userID,
		table:       table,
		total:       overall.total,
		correct:     overall.correct,
		timeSeconds: overall.timeSeconds,
		recentWrong: a.recentWrongQuestionIDs(answers, now),
		studyDays:   studyDays(nil, answers, now, a.thresholds.RollingLookback, loc),
		studyDist:   dist,
		analyzedAt:  now,
	})
}

type typeTally struct {
	total       int
	correct     int
	timeSeconds int
}

func (t typeTally) performance(questionType string) models.QuestionTypePerformance {
	return models.QuestionTypePerformance{
		QuestionType:       questionType,
		TotalQuestions:     t.total,
		CorrectAnswers:     t.correct,
		AccuracyRate:       rate(t.correct, t.total),
		AverageTimeSeconds: mean(float64(t.timeSeconds), t.total),
	}
}

func (t *typeTally) add(a models.QuestionAnswerRecord) {
	t.total++
	if a.IsCorrect {
		t.correct++
	}
	// negative durations from the upstream count as missing
	if a.TimeSpentSeconds > 0 {
		t.timeSeconds += a.TimeSpentSeconds
	}
}

func tallyByType(answers []models.QuestionAnswerRecord) map[string]*typeTally {
	tallies := make(map[string]*typeTally)
	for _, a := range answers {
		t, ok := tallies[a.QuestionType]
		if !ok {
			t = &typeTally{}
			tallies[a.QuestionType] = t
		}
		t.add(a)
	}
	return tallies
}

func tallyAll(answers []models.QuestionAnswerRecord) typeTally {
	var t typeTally
	for _, a := range answers {
		t.add(a)
	}
	return t
}

func rate(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(correct) * 100 / float64(total)
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// recentWrongQuestionIDs lists distinct wrongly answered question ids inside
// the recent-wrong window, in the order first seen.
func (a *Analyzer) recentWrongQuestionIDs(answers []models.QuestionAnswerRecord, now time.Time) []string {
	cutoff := now.Add(-a.thresholds.RecentWrongWindow)
	seen := make(map[string]struct{})
	ids := []string{}
	for _, ans := range answers {
		if ans.IsCorrect || ans.AnsweredAt.Before(cutoff) {
			continue
		}
		if _, dup := seen[ans.QuestionID]; dup {
			continue
		}
		seen[ans.QuestionID] = struct{}{}
		ids = append(ids, ans.QuestionID)
	}
	return ids
}

type assembly struct {
	scope       models.Scope
	userID      string
	table       map[string]models.QuestionTypePerformance
	total       int
	correct     int
	timeSeconds int
	recentWrong []string
	studyDays   []time.Time
	studyDist   map[models.StudyTimeSlot]int
	analyzedAt  time.Time
}

// assemble classifies the per-type table and fills in the aggregates. Both
// fresh analyses and merges end here so buckets always come from the table.
func (a *Analyzer) assemble(in assembly) *models.PatternAnalysisResult {
	review, improvement, strength, slow := []string{}, []string{}, []string{}, []string{}

	types := make([]string, 0, len(in.table))
	for questionType := range in.table {
		types = append(types, questionType)
	}
	slices.Sort(types)

	for _, questionType := range types {
		perf := in.table[questionType]
		switch a.thresholds.Classify(perf.AccuracyRate) {
		case BucketReviewRequired:
			review = append(review, questionType)
		case BucketImprovementRequired:
			improvement = append(improvement, questionType)
		case BucketStrength:
			strength = append(strength, questionType)
		}
		if a.thresholds.IsSlow(perf.AverageTimeSeconds) {
			slow = append(slow, questionType)
		}
	}

	return &models.PatternAnalysisResult{
		Scope:                     in.scope,
		UserID:                    in.userID,
		QuestionTypePerformances:  in.table,
		ReviewRequiredTypes:       review,
		ImprovementRequiredTypes:  improvement,
		StrengthTypes:             strength,
		RecentWrongQuestionIDs:    in.recentWrong,
		SlowSolvingTypes:          slow,
		TotalQuestions:            in.total,
		CorrectAnswers:            in.correct,
		TotalTimeSeconds:          in.timeSeconds,
		OverallAccuracyRate:       rate(in.correct, in.total),
		AverageSolvingTimeSeconds: mean(float64(in.timeSeconds), in.total),
		StudyFrequency:            len(in.studyDays),
		PreferredStudyTime:        preferredStudyTime(in.studyDist),
		StudyDays:                 in.studyDays,
		StudyTimeDistribution:     in.studyDist,
		AnalyzedAt:                in.analyzedAt,
	}
}
