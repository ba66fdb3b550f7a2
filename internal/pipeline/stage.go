package pipeline

import (
	"time"

	"pattern-analysis-service/internal/models"
)

// Stage is a state of one run. A run only moves forward, or to StageFailed.
type Stage int

const (
	StageReceived Stage = iota
	StageSnapshotFetched
	StageMapped
	StageSessionAnalyzed
	StageRollingAnalyzed
	StagePersisted
	StageNotified
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageReceived:        "RECEIVED",
	StageSnapshotFetched: "SNAPSHOT_FETCHED",
	StageMapped:          "MAPPED",
	StageSessionAnalyzed: "SESSION_ANALYZED",
	StageRollingAnalyzed: "ROLLING_ANALYZED",
	StagePersisted:       "PERSISTED",
	StageNotified:        "NOTIFIED",
	StageDone:            "DONE",
	StageFailed:          "FAILED",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

// Run is the record of processing one completion signal.
type Run struct {
	Signal models.CompletionSignal
	State  Stage
	// FailedStage is set when State is StageFailed.
	FailedStage Stage
	// Skipped means both analyses already existed and nothing was redone.
	Skipped bool

	SessionAnalysisID string
	RollingAnalysisID string
	Merged            bool
	SessionResult     *models.PatternAnalysisResult
	RollingResult     *models.PatternAnalysisResult

	// NotifyErr is the publish failure, if any. It does not fail the run.
	NotifyErr error

	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Run) advance(to Stage) {
	r.State = to
}

func (r *Run) fail(stage Stage, err error) error {
	r.State = StageFailed
	r.FailedStage = stage
	return &StageError{Stage: stage, Err: err}
}
