package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pattern-analysis-service/internal/models"
	"pattern-analysis-service/internal/sessionclient"
)

type fakeFetcher struct {
	mu    sync.Mutex
	resp  *sessionclient.SessionResponse
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, sessionID, userID string) (*sessionclient.SessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.resp, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memStore mimics the Mongo store: unique idempotency keys, insert-only.
type memStore struct {
	mu      sync.Mutex
	byKey   map[string]*models.PatternAnalysisResult
	order   []string
	saveErr error
	// failType makes only saves of that analysis type fail
	failType models.AnalysisType
	findErr  error
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{byKey: map[string]*models.PatternAnalysisResult{}}
}

func (s *memStore) Save(ctx context.Context, result *models.PatternAnalysisResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	if s.failType != "" && result.Type() == s.failType {
		return "", fmt.Errorf("insert %s analysis: write concern timeout", s.failType)
	}
	key := result.IdempotencyKey()
	if existing, ok := s.byKey[key]; ok {
		return existing.AnalysisID, nil
	}
	s.nextID++
	stored := *result
	stored.AnalysisID = fmt.Sprintf("a-%d", s.nextID)
	s.byKey[key] = &stored
	s.order = append(s.order, key)
	return stored.AnalysisID, nil
}

func (s *memStore) FindBySession(ctx context.Context, sessionID string, analysisType models.AnalysisType) (*models.PatternAnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.byKey[models.IdempotencyKey(sessionID, analysisType)], nil
}

func (s *memStore) LatestRolling(ctx context.Context, userID string, since time.Time) (*models.PatternAnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var latest *models.PatternAnalysisResult
	for _, key := range s.order {
		r := s.byKey[key]
		if r.UserID != userID || r.Type() != models.AnalysisTypeRolling || r.AnalyzedAt.Before(since) {
			continue
		}
		if latest == nil || !r.AnalyzedAt.Before(latest.AnalyzedAt) {
			latest = r
		}
	}
	return latest, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

type storedAnswer struct {
	userID    string
	sessionID string
	rolledUp  bool
	record    models.QuestionAnswerRecord
}

// memHistory mimics the answer collection: RecordSession resets the rolled
// up flag and AnswersSince only returns rolled up answers.
type memHistory struct {
	mu        sync.Mutex
	sessions  map[string][]storedAnswer
	recordErr error
	markErr   error
}

func newMemHistory() *memHistory {
	return &memHistory{sessions: map[string][]storedAnswer{}}
}

func (h *memHistory) RecordSession(ctx context.Context, userID, sessionID string, answers []models.QuestionAnswerRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.recordErr != nil {
		return h.recordErr
	}
	stored := make([]storedAnswer, 0, len(answers))
	for _, a := range answers {
		stored = append(stored, storedAnswer{userID: userID, sessionID: sessionID, record: a})
	}
	h.sessions[sessionID] = stored
	return nil
}

func (h *memHistory) MarkRolledUp(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.markErr != nil {
		return h.markErr
	}
	for i := range h.sessions[sessionID] {
		h.sessions[sessionID][i].rolledUp = true
	}
	return nil
}

// seed stores a finished session's answers as already rolled up.
func (h *memHistory) seed(userID, sessionID string, answers []models.QuestionAnswerRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stored := make([]storedAnswer, 0, len(answers))
	for _, a := range answers {
		stored = append(stored, storedAnswer{userID: userID, sessionID: sessionID, rolledUp: true, record: a})
	}
	h.sessions[sessionID] = stored
}

func (h *memHistory) isRolledUp(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	answers, ok := h.sessions[sessionID]
	if !ok || len(answers) == 0 {
		return false
	}
	for _, a := range answers {
		if !a.rolledUp {
			return false
		}
	}
	return true
}

func (h *memHistory) AnswersSince(ctx context.Context, userID string, since time.Time, excludeSessionID string) ([]models.QuestionAnswerRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.QuestionAnswerRecord
	for sessionID, answers := range h.sessions {
		if sessionID == excludeSessionID {
			continue
		}
		for _, a := range answers {
			if a.userID == userID && a.rolledUp && !a.record.AnsweredAt.Before(since) {
				out = append(out, a.record)
			}
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	outcomes []*models.CompletionOutcome
	err      error
}

func (n *fakeNotifier) PublishAnalysisCompleted(ctx context.Context, outcome *models.CompletionOutcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, outcome)
	return n.err
}

func (n *fakeNotifier) published() []*models.CompletionOutcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*models.CompletionOutcome(nil), n.outcomes...)
}
