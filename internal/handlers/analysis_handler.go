package handlers

import (
	"context"
	"time"

	"pattern-analysis-service/internal/models"
	"pattern-analysis-service/internal/pipeline"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const defaultStaleAfter = 24 * time.Hour

type AnalysisReader interface {
	FindBySession(ctx context.Context, sessionID string, analysisType models.AnalysisType) (*models.PatternAnalysisResult, error)
	LastAnalyzedAt(ctx context.Context, userID string) (time.Time, bool, error)
}

type SignalProcessor interface {
	Process(ctx context.Context, signal models.CompletionSignal) (*pipeline.Run, error)
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type AnalysisHandler struct {
	reader      AnalysisReader
	processor   SignalProcessor
	healthCheck HealthCheck
	serviceName string
}

func NewAnalysisHandler(reader AnalysisReader, processor SignalProcessor, healthCheck HealthCheck, serviceName string) *AnalysisHandler {
	return &AnalysisHandler{
		reader:      reader,
		processor:   processor,
		healthCheck: healthCheck,
		serviceName: serviceName,
	}
}

func (h *AnalysisHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	internalGroup := app.Group("/internal/pattern-analysis")
	internalGroup.Get("/users/:userId/status", h.GetUserStatus)
	internalGroup.Get("/sessions/:sessionId", h.GetSessionAnalyses)
	internalGroup.Post("/replay", h.Replay)
}

func (h *AnalysisHandler) Health(c fiber.Ctx) error {
	if h.healthCheck != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := h.healthCheck(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.Status(fiber.StatusOK).SendString(h.serviceName + " is healthy")
}

// GetUserStatus tells whether the user's pattern is fresh. A user whose last
// analysis is older than staleAfter (default 24h) is reported stale.
func (h *AnalysisHandler) GetUserStatus(c fiber.Ctx) error {
	userID := c.Params("userId")

	staleAfter := defaultStaleAfter
	if raw := c.Query("staleAfter"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid staleAfter duration",
			})
		}
		staleAfter = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lastAnalyzedAt, found, err := h.reader.LastAnalyzedAt(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to read last analysis time")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read analysis status",
		})
	}

	response := fiber.Map{
		"userId":   userID,
		"analyzed": found,
		"stale":    true,
	}
	if found {
		age := time.Since(lastAnalyzedAt)
		response["lastAnalyzedAt"] = lastAnalyzedAt
		response["ageSeconds"] = int64(age.Seconds())
		response["stale"] = age > staleAfter
	}
	return c.JSON(response)
}

func (h *AnalysisHandler) GetSessionAnalyses(c fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := h.reader.FindBySession(ctx, sessionID, models.AnalysisTypeSession)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to load session analysis")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load analyses",
		})
	}
	rolling, err := h.reader.FindBySession(ctx, sessionID, models.AnalysisTypeRolling)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to load rolling analysis")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load analyses",
		})
	}

	if session == nil && rolling == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No analysis found for session",
		})
	}

	return c.JSON(fiber.Map{
		"sessionId": sessionID,
		"session":   newAnalysisView(session),
		"rolling":   newAnalysisView(rolling),
	})
}

type replayRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// Replay runs the pipeline for a session on demand, e.g. for a parked
// message once its cause is fixed.
func (h *AnalysisHandler) Replay(c fiber.Ctx) error {
	var req replayRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.SessionID == "" || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "sessionId and userId are required",
		})
	}

	signal := models.CompletionSignal{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		EventType:   models.EventTypeSessionCompleted,
		CompletedAt: time.Now().UTC(),
	}

	run, err := h.processor.Process(context.Background(), signal)
	if err != nil {
		status := fiber.StatusBadGateway
		switch pipeline.Classify(err) {
		case pipeline.Drop:
			status = fiber.StatusNotFound
		case pipeline.Park:
			status = fiber.StatusUnprocessableEntity
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
			"stage": run.FailedStage.String(),
		})
	}

	return c.JSON(fiber.Map{
		"state":             run.State.String(),
		"skipped":           run.Skipped,
		"merged":            run.Merged,
		"sessionAnalysisId": run.SessionAnalysisID,
		"rollingAnalysisId": run.RollingAnalysisID,
	})
}
