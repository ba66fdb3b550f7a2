// Package pipeline runs the session-completion analysis: fetch the session,
// analyze it, fold it into the user's rolling pattern, store both results
// and announce them.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pattern-analysis-service/internal/analysis"
	"pattern-analysis-service/internal/config"
	"pattern-analysis-service/internal/models"
	"pattern-analysis-service/internal/sessionclient"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultStepTimeout    = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

type AnalysisStore interface {
	Save(ctx context.Context, result *models.PatternAnalysisResult) (string, error)
	FindBySession(ctx context.Context, sessionID string, analysisType models.AnalysisType) (*models.PatternAnalysisResult, error)
	LatestRolling(ctx context.Context, userID string, since time.Time) (*models.PatternAnalysisResult, error)
}

type AnswerHistory interface {
	RecordSession(ctx context.Context, userID, sessionID string, answers []models.QuestionAnswerRecord) error
	MarkRolledUp(ctx context.Context, sessionID string) error
	AnswersSince(ctx context.Context, userID string, since time.Time, excludeSessionID string) ([]models.QuestionAnswerRecord, error)
}

type Notifier interface {
	PublishAnalysisCompleted(ctx context.Context, outcome *models.CompletionOutcome) error
}

type Orchestrator struct {
	fetcher  sessionclient.Fetcher
	store    AnalysisStore
	history  AnswerHistory
	notifier Notifier
	analyzer *analysis.Analyzer
	merger   *analysis.Merger
	timeouts config.PipelineConfig

	inflight singleflight.Group
	// serializes runs of the same user so two rolling updates never start
	// from the same previous result
	locksMu   sync.Mutex
	userLocks map[string]*userLock
}

// userLock is dropped from the map when its last holder or waiter leaves.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewOrchestrator(
	fetcher sessionclient.Fetcher,
	store AnalysisStore,
	history AnswerHistory,
	notifier Notifier,
	analyzer *analysis.Analyzer,
	timeouts config.PipelineConfig,
) *Orchestrator {
	if timeouts.FetchTimeout <= 0 {
		timeouts.FetchTimeout = defaultStepTimeout
	}
	if timeouts.PersistTimeout <= 0 {
		timeouts.PersistTimeout = defaultStepTimeout
	}
	if timeouts.PublishTimeout <= 0 {
		timeouts.PublishTimeout = defaultPublishTimeout
	}

	return &Orchestrator{
		fetcher:  fetcher,
		store:    store,
		history:  history,
		notifier: notifier,
		analyzer: analyzer,
		merger:   analysis.NewMerger(analyzer),
		timeouts: timeouts,

		userLocks: make(map[string]*userLock),
	}
}

// Process runs the pipeline for one signal. The returned Run is never nil;
// on failure its State is StageFailed and the error is a *StageError.
// Concurrent calls for the same session share a single run.
func (o *Orchestrator) Process(ctx context.Context, signal models.CompletionSignal) (*Run, error) {
	run := &Run{Signal: signal, State: StageReceived, StartedAt: time.Now()}

	if err := validateSignal(signal); err != nil {
		return run, o.finish(run, run.fail(StageReceived, err))
	}

	v, err, shared := o.inflight.Do(signal.SessionID, func() (any, error) {
		unlock := o.lockUser(signal.UserID)
		defer unlock()

		err := o.execute(ctx, run)
		return run, o.finish(run, err)
	})
	if shared {
		log.Debug().Str("session_id", signal.SessionID).Msg("Joined in-flight run for session")
	}
	return v.(*Run), err
}

func validateSignal(signal models.CompletionSignal) error {
	if signal.EventType != models.EventTypeSessionCompleted {
		return &UnexpectedEventError{EventType: signal.EventType}
	}
	if signal.SessionID == "" {
		return &InvalidSignalError{Reason: "missing sessionId"}
	}
	if signal.UserID == "" {
		return &InvalidSignalError{Reason: "missing userId"}
	}
	return nil
}

func (o *Orchestrator) lockUser(userID string) func() {
	o.locksMu.Lock()
	l, ok := o.userLocks[userID]
	if !ok {
		l = &userLock{}
		o.userLocks[userID] = l
	}
	l.refs++
	o.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		o.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.userLocks, userID)
		}
		o.locksMu.Unlock()
	}
}

func (o *Orchestrator) execute(ctx context.Context, run *Run) error {
	signal := run.Signal
	logger := log.With().
		Str("session_id", signal.SessionID).
		Str("user_id", signal.UserID).
		Logger()

	done, err := o.alreadyProcessed(ctx, run)
	if err != nil {
		return run.fail(StageReceived, err)
	}
	if done {
		// a previous attempt may have stored both analyses and died before
		// flagging the answers
		if err := o.markRolledUp(ctx, signal.SessionID); err != nil {
			return run.fail(StagePersisted, err)
		}
		logger.Info().Str("stage", StageDone.String()).Msg("Session already analyzed, skipping")
		run.Skipped = true
		run.advance(StageDone)
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.timeouts.FetchTimeout)
	resp, err := o.fetcher.Fetch(fetchCtx, signal.SessionID, signal.UserID)
	cancel()
	if err != nil {
		return run.fail(StageSnapshotFetched, err)
	}
	run.advance(StageSnapshotFetched)

	mapped, err := sessionclient.MapSession(resp)
	if err != nil {
		return run.fail(StageMapped, err)
	}
	if mapped.Snapshot.SessionID != signal.SessionID {
		return run.fail(StageMapped, &sessionclient.MappingError{
			Field: "session.sessionId",
			Value: mapped.Snapshot.SessionID,
			Err:   fmt.Errorf("snapshot is for session %q, signal names %q", mapped.Snapshot.SessionID, signal.SessionID),
		})
	}
	run.advance(StageMapped)
	logger.Debug().
		Str("stage", run.State.String()).
		Int("answers", len(mapped.Answers)).
		Int("events", len(mapped.Events)).
		Strs("event_types", eventTypes(mapped.Events)).
		Str("status", string(mapped.Snapshot.Status)).
		Msg("Session snapshot mapped")

	if mapped.Snapshot.Status != models.SessionStatusCompleted {
		logger.Warn().Str("status", string(mapped.Snapshot.Status)).Msg("Analyzing session that is not marked completed")
	}

	sessionResult := o.analyzer.AnalyzeSession(signal.UserID, signal.SessionID, mapped.Answers)
	run.advance(StageSessionAnalyzed)

	rollingResult, err := o.buildRolling(ctx, run, mapped.Answers, logger)
	if err != nil {
		return run.fail(StageRollingAnalyzed, err)
	}
	run.advance(StageRollingAnalyzed)

	if err := o.persist(ctx, run, mapped.Answers, sessionResult, rollingResult); err != nil {
		return run.fail(StagePersisted, err)
	}
	run.advance(StagePersisted)
	lastSuccess.SetToCurrentTime()

	outcome := buildOutcome(run, mapped)
	publishCtx, cancel := context.WithTimeout(ctx, o.timeouts.PublishTimeout)
	err = o.notifier.PublishAnalysisCompleted(publishCtx, outcome)
	cancel()
	if err != nil {
		// the analyses are stored; a lost announcement is not worth a rerun
		notifyFailures.Inc()
		run.NotifyErr = err
		logger.Warn().Err(err).Str("stage", StageNotified.String()).Msg("Failed to publish analysis completed event")
	} else {
		run.advance(StageNotified)
	}

	run.advance(StageDone)
	logger.Info().
		Str("stage", run.State.String()).
		Str("session_analysis_id", run.SessionAnalysisID).
		Str("rolling_analysis_id", run.RollingAnalysisID).
		Bool("merged", run.Merged).
		Msg("Session pattern analysis completed")
	return nil
}

func (o *Orchestrator) alreadyProcessed(ctx context.Context, run *Run) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.PersistTimeout)
	defer cancel()

	session, err := o.store.FindBySession(ctx, run.Signal.SessionID, models.AnalysisTypeSession)
	if err != nil || session == nil {
		return false, err
	}
	rolling, err := o.store.FindBySession(ctx, run.Signal.SessionID, models.AnalysisTypeRolling)
	if err != nil || rolling == nil {
		return false, err
	}

	run.SessionAnalysisID = session.AnalysisID
	run.RollingAnalysisID = rolling.AnalysisID
	run.SessionResult = session
	run.RollingResult = rolling
	return true, nil
}

// buildRolling merges the session into the latest rolling result inside the
// lookback window. Without one, the window is recomputed from stored answers.
func (o *Orchestrator) buildRolling(ctx context.Context, run *Run, answers []models.QuestionAnswerRecord, logger zerolog.Logger) (*models.PatternAnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.PersistTimeout)
	defer cancel()

	signal := run.Signal
	since := o.analyzer.Now().Add(-o.analyzer.Thresholds().RollingLookback)

	previous, err := o.store.LatestRolling(ctx, signal.UserID, since)
	if err != nil {
		return nil, err
	}
	if previous != nil && previous.Scope.SourceSessionID() != signal.SessionID {
		run.Merged = true
		rollingStrategy.WithLabelValues("merged").Inc()
		logger.Debug().Str("previous_analysis_id", previous.AnalysisID).Msg("Merging session into rolling analysis")
		return o.merger.Merge(previous, signal.SessionID, answers), nil
	}

	history, err := o.history.AnswersSince(ctx, signal.UserID, since, signal.SessionID)
	if err != nil {
		return nil, err
	}
	window := make([]models.QuestionAnswerRecord, 0, len(history)+len(answers))
	window = append(window, history...)
	window = append(window, answers...)

	rollingStrategy.WithLabelValues("recomputed").Inc()
	logger.Debug().Int("window_answers", len(window)).Msg("Recomputing rolling analysis from answer history")
	return o.analyzer.AnalyzeWindow(signal.UserID, signal.SessionID, window), nil
}

// persist writes the answers, then the session result, then the rolling
// result, and finally flags the answers as rolled up. Until that flag is set
// no other session's recompute reads them, so a run that fails halfway never
// has its answers counted by someone else before it folds them in itself.
// Every write is idempotent.
func (o *Orchestrator) persist(ctx context.Context, run *Run, answers []models.QuestionAnswerRecord, sessionResult, rollingResult *models.PatternAnalysisResult) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.PersistTimeout)
	defer cancel()

	signal := run.Signal
	if err := o.history.RecordSession(ctx, signal.UserID, signal.SessionID, answers); err != nil {
		return err
	}

	sessionID, err := o.store.Save(ctx, sessionResult)
	if err != nil {
		return err
	}
	rollingID, err := o.store.Save(ctx, rollingResult)
	if err != nil {
		return err
	}
	if err := o.history.MarkRolledUp(ctx, signal.SessionID); err != nil {
		return err
	}

	run.SessionAnalysisID = sessionID
	run.RollingAnalysisID = rollingID
	run.SessionResult = withID(sessionResult, sessionID)
	run.RollingResult = withID(rollingResult, rollingID)
	return nil
}

func (o *Orchestrator) markRolledUp(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.PersistTimeout)
	defer cancel()
	return o.history.MarkRolledUp(ctx, sessionID)
}

func eventTypes(events []models.SessionEvent) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func withID(result *models.PatternAnalysisResult, id string) *models.PatternAnalysisResult {
	stored := *result
	stored.AnalysisID = id
	return &stored
}

func buildOutcome(run *Run, mapped *sessionclient.MappedSession) *models.CompletionOutcome {
	session := run.SessionResult
	snapshot := mapped.Snapshot
	completedAt := run.Signal.CompletedAt
	if snapshot.CompletedAt != nil {
		completedAt = *snapshot.CompletedAt
	}

	return &models.CompletionOutcome{
		UserID:            run.Signal.UserID,
		SessionID:         run.Signal.SessionID,
		SessionAnalysisID: run.SessionAnalysisID,
		RollingAnalysisID: run.RollingAnalysisID,
		CompletedAt:       completedAt,
		Metadata: map[string]any{
			"totalQuestions":         session.TotalQuestions,
			"correctAnswers":         session.CorrectAnswers,
			"accuracyRate":           session.OverallAccuracyRate,
			"totalTimeSpent":         session.TotalTimeSeconds,
			"averageTimePerQuestion": session.AverageSolvingTimeSeconds,
			"sessionType":            string(snapshot.SessionType),
			"rollingMerged":          run.Merged,
			"sessionEvents":          len(mapped.Events),
		},
	}
}

func (o *Orchestrator) finish(run *Run, err error) error {
	run.FinishedAt = time.Now()
	elapsed := run.FinishedAt.Sub(run.StartedAt).Seconds()

	outcome := "done"
	switch {
	case err != nil:
		outcome = "failed"
		runFailures.WithLabelValues(run.FailedStage.String()).Inc()
		log.Error().
			Err(err).
			Str("session_id", run.Signal.SessionID).
			Str("user_id", run.Signal.UserID).
			Str("stage", run.FailedStage.String()).
			Msg("Session pattern analysis failed")
	case run.Skipped:
		outcome = "skipped"
	}

	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.WithLabelValues(outcome).Observe(elapsed)
	return err
}
