package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pattern-analysis-service/internal/config"
	"pattern-analysis-service/internal/models"
	"pattern-analysis-service/internal/pipeline"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the pipeline once for a completed session",
	Long:  "Runs the full pipeline for one session without the event consumer, e.g. to replay a parked message. Already analyzed sessions are skipped.",
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("session-id", "", "session to analyze")
	analyzeCmd.Flags().String("user-id", "", "owner of the session")
}

type analyzeOutput struct {
	State             string `json:"state"`
	FailedStage       string `json:"failedStage,omitempty"`
	Skipped           bool   `json:"skipped"`
	Merged            bool   `json:"merged"`
	SessionAnalysisID string `json:"sessionAnalysisId,omitempty"`
	RollingAnalysisID string `json:"rollingAnalysisId,omitempty"`
	Disposition       string `json:"disposition,omitempty"`
	Error             string `json:"error,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session-id")
	userID, _ := cmd.Flags().GetString("user-id")
	if sessionID == "" || userID == "" {
		return errors.New("--session-id and --user-id are required")
	}

	cfg := config.Load()
	logCloser := setupLogging(cfg)
	defer logCloser.Close()

	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	run, runErr := svc.orchestrator.Process(context.Background(), models.CompletionSignal{
		SessionID:   sessionID,
		UserID:      userID,
		EventType:   models.EventTypeSessionCompleted,
		CompletedAt: time.Now().UTC(),
	})

	out := analyzeOutput{
		State:             run.State.String(),
		Skipped:           run.Skipped,
		Merged:            run.Merged,
		SessionAnalysisID: run.SessionAnalysisID,
		RollingAnalysisID: run.RollingAnalysisID,
	}
	if runErr != nil {
		out.FailedStage = run.FailedStage.String()
		out.Disposition = pipeline.Classify(runErr).String()
		out.Error = runErr.Error()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	return runErr
}
