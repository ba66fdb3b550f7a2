package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pattern-analysis-service/internal/analysis"
	"pattern-analysis-service/internal/config"
	mongodb "pattern-analysis-service/internal/database/mongo"
	redisdb "pattern-analysis-service/internal/database/redis"
	"pattern-analysis-service/internal/event"
	"pattern-analysis-service/internal/logging"
	"pattern-analysis-service/internal/pipeline"
	"pattern-analysis-service/internal/repository"
	"pattern-analysis-service/internal/sessionclient"
	"pattern-analysis-service/pkg/discovery"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// service holds everything the pipeline needs. close releases it in reverse
// order of acquisition.
type service struct {
	cfg          *config.Config
	mongoClient  *mongo.Client
	analysisRepo *repository.AnalysisRepository
	answerRepo   *repository.AnswerRepository
	registry     *discovery.ServiceRegistry
	cache        *repository.RedisRepo
	publisher    event.Publisher
	consumer     event.Consumer
	orchestrator *pipeline.Orchestrator

	closers []func()
}

func (s *service) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setupLogging(cfg *config.Config) io.Closer {
	closer, err := logging.Setup(cfg.Logging, cfg.Server.ServiceName)
	if err != nil {
		log.Warn().Err(err).Msg("File logging unavailable, logging to console only")
	}
	return closer
}

func newService(cfg *config.Config) (*service, error) {
	s := &service{cfg: cfg}

	thresholds, err := analysis.ThresholdsFromConfig(cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis configuration: %w", err)
	}

	mongoClient, database, err := mongodb.Connect(cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	s.mongoClient = mongoClient
	s.onClose(func() { mongodb.Disconnect(mongoClient) })

	s.analysisRepo = repository.NewAnalysisRepository(database, repository.AnalysisCollection)
	s.answerRepo = repository.NewAnswerRepository(database, repository.AnswerCollection)

	indexCtx, cancel := context.WithTimeout(context.Background(), cfg.MongoDB.Timeout)
	defer cancel()
	if err := s.analysisRepo.EnsureIndexes(indexCtx); err != nil {
		s.close()
		return nil, err
	}
	if err := s.answerRepo.EnsureIndexes(indexCtx); err != nil {
		s.close()
		return nil, err
	}

	if cfg.Consul.Enabled {
		registry, err := discovery.NewServiceRegistry(cfg.Server, cfg.Consul)
		if err != nil {
			log.Warn().Err(err).Msg("Service discovery unavailable")
		} else {
			s.registry = registry
		}
	}

	baseURL, err := s.sessionServiceURL()
	if err != nil {
		s.close()
		return nil, err
	}

	var fetcher sessionclient.Fetcher = sessionclient.NewClient(baseURL, cfg.SessionService.RequestTimeout)
	if cfg.Redis.Enabled {
		redisClient := redisdb.NewClient(cfg.Redis)
		s.onClose(func() {
			if err := redisClient.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing Redis client")
			}
		})
		s.cache = repository.NewRedisRepo(redisClient)
		fetcher = sessionclient.NewCachedFetcher(fetcher, s.cache, cfg.Redis.SnapshotTTL)
	}

	publisher, err := event.NewEventPublisher(cfg.RabbitMQ)
	if err != nil {
		s.close()
		return nil, err
	}
	s.publisher = publisher
	s.onClose(func() {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing event publisher")
		}
	})

	analyzer := analysis.NewAnalyzer(thresholds)
	s.orchestrator = pipeline.NewOrchestrator(fetcher, s.analysisRepo, s.answerRepo, s.publisher, analyzer, cfg.Pipeline)

	log.Info().
		Str("session_service", baseURL).
		Bool("snapshot_cache", cfg.Redis.Enabled).
		Int("workers", cfg.Pipeline.Workers).
		Msg("Pipeline initialized")
	return s, nil
}

// sessionServiceURL prefers the configured URL and falls back to Consul.
func (s *service) sessionServiceURL() (string, error) {
	if s.cfg.SessionService.BaseURL != "" {
		return s.cfg.SessionService.BaseURL, nil
	}
	if s.registry == nil {
		return "", errors.New("SESSION_SERVICE_URL is empty and service discovery is disabled")
	}

	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		url, err := s.registry.GetServiceURL(s.cfg.SessionService.ServiceName, "http")
		if err == nil {
			return url, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("Session service not resolvable yet")
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return "", fmt.Errorf("resolving %s: %w", s.cfg.SessionService.ServiceName, lastErr)
}

// healthCheck fails when storage is unreachable or the consumer has lost
// its broker connection.
func (s *service) healthCheck(ctx context.Context) error {
	if s.consumer != nil && !s.consumer.Healthy() {
		return errors.New("event consumer is not consuming")
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
	}
	if !mongodb.IsConnected(ctx, s.mongoClient) {
		return errors.New("mongodb unreachable")
	}
	return nil
}
