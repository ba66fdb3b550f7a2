package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pattern-analysis-service/internal/models"
	"pattern-analysis-service/internal/pipeline"
	"pattern-analysis-service/internal/sessionclient"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	results        map[string]*models.PatternAnalysisResult
	lastAnalyzedAt time.Time
	found          bool
	err            error
}

func (r *fakeReader) FindBySession(ctx context.Context, sessionID string, analysisType models.AnalysisType) (*models.PatternAnalysisResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.results[models.IdempotencyKey(sessionID, analysisType)], nil
}

func (r *fakeReader) LastAnalyzedAt(ctx context.Context, userID string) (time.Time, bool, error) {
	return r.lastAnalyzedAt, r.found, r.err
}

type fakeProcessor struct {
	run *pipeline.Run
	err error
	got models.CompletionSignal
}

func (p *fakeProcessor) Process(ctx context.Context, signal models.CompletionSignal) (*pipeline.Run, error) {
	p.got = signal
	return p.run, p.err
}

func newTestApp(reader AnalysisReader, processor SignalProcessor, check HealthCheck) *fiber.App {
	app := fiber.New()
	NewAnalysisHandler(reader, processor, check, "pattern-analysis-service").RegisterRoutes(app)
	return app
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestHealth(t *testing.T) {
	app := newTestApp(&fakeReader{}, &fakeProcessor{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	failing := newTestApp(&fakeReader{}, &fakeProcessor{}, func(ctx context.Context) error {
		return errors.New("mongo down")
	})
	resp, err = failing.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(&fakeReader{}, &fakeProcessor{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetUserStatus(t *testing.T) {
	reader := &fakeReader{lastAnalyzedAt: time.Now().Add(-2 * time.Hour), found: true}
	app := newTestApp(reader, &fakeProcessor{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/internal/pattern-analysis/users/u-1/status", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "u-1", body["userId"])
	assert.Equal(t, true, body["analyzed"])
	assert.Equal(t, false, body["stale"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/internal/pattern-analysis/users/u-1/status?staleAfter=1h", nil))
	require.NoError(t, err)
	assert.Equal(t, true, decodeBody(t, resp)["stale"])
}

func TestGetUserStatus_NeverAnalyzed(t *testing.T) {
	app := newTestApp(&fakeReader{}, &fakeProcessor{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/internal/pattern-analysis/users/u-2/status", nil))

	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["analyzed"])
	assert.Equal(t, true, body["stale"])
}

func TestGetUserStatus_BadDuration(t *testing.T) {
	app := newTestApp(&fakeReader{}, &fakeProcessor{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/internal/pattern-analysis/users/u-1/status?staleAfter=soon", nil))

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSessionAnalyses(t *testing.T) {
	reader := &fakeReader{results: map[string]*models.PatternAnalysisResult{
		"s-1:SESSION": {
			AnalysisID:          "a-1",
			Scope:               models.SessionScope{SessionID: "s-1"},
			UserID:              "u-1",
			TotalQuestions:      5,
			OverallAccuracyRate: 60,
		},
		"s-1:ROLLING": {
			AnalysisID: "a-2",
			Scope:      models.RollingScope{TriggeredBy: "s-1", Merged: true, PreviousAnalysisID: "a-0"},
			UserID:     "u-1",
		},
	}}
	app := newTestApp(reader, &fakeProcessor{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/internal/pattern-analysis/sessions/s-1", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	session := body["session"].(map[string]any)
	assert.Equal(t, "a-1", session["analysisId"])
	assert.Equal(t, "SESSION", session["analysisType"])
	assert.Equal(t, "s-1", session["sessionId"])
	rolling := body["rolling"].(map[string]any)
	assert.Equal(t, "ROLLING", rolling["analysisType"])
	assert.Equal(t, true, rolling["merged"])
	assert.Equal(t, "a-0", rolling["previousAnalysisId"])
	assert.NotContains(t, rolling, "sessionId")
}

func TestGetSessionAnalyses_NotFound(t *testing.T) {
	app := newTestApp(&fakeReader{}, &fakeProcessor{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/internal/pattern-analysis/sessions/missing", nil))

	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func replayRequestFor(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/internal/pattern-analysis/replay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestReplay(t *testing.T) {
	processor := &fakeProcessor{run: &pipeline.Run{
		State:             pipeline.StageDone,
		SessionAnalysisID: "a-1",
		RollingAnalysisID: "a-2",
	}}
	app := newTestApp(&fakeReader{}, processor, nil)

	resp, err := app.Test(replayRequestFor(`{"sessionId":"s-1","userId":"u-1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "DONE", body["state"])
	assert.Equal(t, "a-2", body["rollingAnalysisId"])
	assert.Equal(t, models.EventTypeSessionCompleted, processor.got.EventType)
	assert.Equal(t, "s-1", processor.got.SessionID)
}

func TestReplay_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", &sessionclient.NotFoundError{SessionID: "s-1"}, http.StatusNotFound},
		{"unmappable", &sessionclient.MappingError{Field: "session.status"}, http.StatusUnprocessableEntity},
		{"upstream down", &sessionclient.RemoteServerError{StatusCode: 503}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &fakeProcessor{
				run: &pipeline.Run{State: pipeline.StageFailed, FailedStage: pipeline.StageSnapshotFetched},
				err: &pipeline.StageError{Stage: pipeline.StageSnapshotFetched, Err: tt.err},
			}
			app := newTestApp(&fakeReader{}, processor, nil)

			resp, err := app.Test(replayRequestFor(`{"sessionId":"s-1","userId":"u-1"}`))

			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "SNAPSHOT_FETCHED", decodeBody(t, resp)["stage"])
		})
	}
}

func TestReplay_MissingFields(t *testing.T) {
	app := newTestApp(&fakeReader{}, &fakeProcessor{}, nil)

	resp, err := app.Test(replayRequestFor(`{"sessionId":"s-1"}`))

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
