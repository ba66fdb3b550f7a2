package analysis

import (
	"maps"
	"slices"
	"time"

	"pattern-analysis-service/internal/models"
)

func calendarDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// studyDays returns the distinct days in days and answers that fall on or
// after the first day of the lookback window, oldest first.
func studyDays(days []time.Time, answers []models.QuestionAnswerRecord, now time.Time, lookback time.Duration, loc *time.Location) []time.Time {
	cutoff := calendarDay(now.Add(-lookback), loc)

	seen := make(map[time.Time]struct{}, len(days)+len(answers))
	add := func(t time.Time) {
		day := calendarDay(t, loc)
		if day.Before(cutoff) {
			return
		}
		seen[day] = struct{}{}
	}
	for _, d := range days {
		add(d)
	}
	for _, a := range answers {
		add(a.AnsweredAt)
	}

	out := slices.Collect(maps.Keys(seen))
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	if out == nil {
		out = []time.Time{}
	}
	return out
}

func studyTimeDistribution(base map[models.StudyTimeSlot]int, answers []models.QuestionAnswerRecord, loc *time.Location) map[models.StudyTimeSlot]int {
	dist := make(map[models.StudyTimeSlot]int, len(models.StudyTimeSlots))
	for slot, n := range base {
		dist[slot] += n
	}
	for _, a := range answers {
		dist[models.StudyTimeSlotForHour(a.AnsweredAt.In(loc).Hour())]++
	}
	return dist
}

func preferredStudyTime(dist map[models.StudyTimeSlot]int) models.StudyTimeSlot {
	var best models.StudyTimeSlot
	bestCount := 0
	for _, slot := range models.StudyTimeSlots {
		if n := dist[slot]; n > bestCount {
			best, bestCount = slot, n
		}
	}
	return best
}
