package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pattern-analysis-service/internal/config"
	"pattern-analysis-service/internal/event"
	"pattern-analysis-service/internal/handlers"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume completion events and serve the ops endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg := config.Load()
	logCloser := setupLogging(cfg)
	defer logCloser.Close()

	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	if svc.registry != nil {
		if err := svc.registry.Register(); err != nil {
			log.Warn().Err(err).Msg("Failed to register with service discovery")
		}
	}

	consumer, err := event.NewEventConsumer(cfg.RabbitMQ, cfg.Pipeline.Workers, svc.orchestrator)
	if err != nil {
		return err
	}
	if err := consumer.Start(); err != nil {
		consumer.Close()
		return err
	}
	svc.consumer = consumer

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	handlers.NewAnalysisHandler(svc.analysisRepo, svc.orchestrator, svc.healthCheck, cfg.Server.ServiceName).RegisterRoutes(app)

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan error, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		doneChan <- app.Listen(fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port))
	}()

	select {
	case <-shutdownChan:
	case err := <-doneChan:
		if err != nil {
			log.Error().Err(err).Msg("Error starting server")
		}
	}
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// stops new deliveries and waits for in-flight runs
	if err := consumer.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing event consumer")
	}

	if svc.registry != nil {
		if err := svc.registry.Deregister(); err != nil {
			log.Error().Err(err).Msg("Error deregistering from service discovery")
		}
	}

	log.Info().Msg("Server shutdown complete")
	return nil
}
