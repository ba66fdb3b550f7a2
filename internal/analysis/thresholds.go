package analysis

import (
	"fmt"
	"time"

	"pattern-analysis-service/internal/config"
)

const (
	// DefaultReviewThreshold is the accuracy (percent) below which a question
	// type needs review.
	DefaultReviewThreshold = 60.0
	// DefaultStrengthThreshold is the accuracy (percent) from which a question
	// type counts as a strength.
	DefaultStrengthThreshold = 80.0
	// DefaultSlowSolvingSeconds is the average solve time above which a
	// question type is slow.
	DefaultSlowSolvingSeconds = 60.0

	DefaultRecentWrongWindow = 14 * 24 * time.Hour
	DefaultRollingLookback   = 30 * 24 * time.Hour
)

type Bucket int

const (
	BucketReviewRequired Bucket = iota
	BucketImprovementRequired
	BucketStrength
)

func (b Bucket) String() string {
	switch b {
	case BucketReviewRequired:
		return "REVIEW_REQUIRED"
	case BucketImprovementRequired:
		return "IMPROVEMENT_REQUIRED"
	case BucketStrength:
		return "STRENGTH"
	default:
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
}

type Thresholds struct {
	Review             float64
	Strength           float64
	SlowSolvingSeconds float64
	RecentWrongWindow  time.Duration
	RollingLookback    time.Duration
	// Location decides calendar days and hour-of-day for study statistics.
	Location *time.Location
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Review:             DefaultReviewThreshold,
		Strength:           DefaultStrengthThreshold,
		SlowSolvingSeconds: DefaultSlowSolvingSeconds,
		RecentWrongWindow:  DefaultRecentWrongWindow,
		RollingLookback:    DefaultRollingLookback,
		Location:           time.UTC,
	}
}

func ThresholdsFromConfig(cfg config.AnalysisConfig) (Thresholds, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Thresholds{}, fmt.Errorf("invalid analysis timezone %q: %w", cfg.Timezone, err)
	}
	t := Thresholds{
		Review:             cfg.ReviewThreshold,
		Strength:           cfg.StrengthThreshold,
		SlowSolvingSeconds: cfg.SlowSolvingSeconds,
		RecentWrongWindow:  cfg.RecentWrongWindow,
		RollingLookback:    cfg.RollingLookback,
		Location:           loc,
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

func (t Thresholds) Validate() error {
	if t.Review < 0 || t.Strength > 100 || t.Review >= t.Strength {
		return fmt.Errorf("invalid accuracy thresholds: review=%.2f strength=%.2f", t.Review, t.Strength)
	}
	if t.SlowSolvingSeconds <= 0 {
		return fmt.Errorf("slow solving threshold must be positive, got %.2f", t.SlowSolvingSeconds)
	}
	if t.RecentWrongWindow <= 0 || t.RollingLookback <= 0 {
		return fmt.Errorf("analysis windows must be positive")
	}
	return nil
}

// Classify places an accuracy rate in exactly one bucket. Each band includes
// its lower bound.
func (t Thresholds) Classify(accuracyRate float64) Bucket {
	switch {
	case accuracyRate < t.Review:
		return BucketReviewRequired
	case accuracyRate < t.Strength:
		return BucketImprovementRequired
	default:
		return BucketStrength
	}
}

func (t Thresholds) IsSlow(averageTimeSeconds float64) bool {
	return averageTimeSeconds > t.SlowSolvingSeconds
}

func (t Thresholds) location() *time.Location {
	if t.Location == nil {
		return time.UTC
	}
	return t.Location
}
