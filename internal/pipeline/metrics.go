package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Runs by final outcome: done, skipped, failed
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pattern_analysis_runs_total",
			Help: "Total number of completion signals processed",
		},
		[]string{"outcome"},
	)

	runFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pattern_analysis_run_failures_total",
			Help: "Failed runs by the stage that failed",
		},
		[]string{"stage"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pattern_analysis_run_duration_seconds",
			Help:    "Time spent processing one completion signal",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	rollingStrategy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pattern_analysis_rolling_total",
			Help: "Rolling analyses by how they were built: merged or recomputed",
		},
		[]string{"strategy"},
	)

	notifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pattern_analysis_notify_failures_total",
			Help: "Completion events that could not be published",
		},
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pattern_analysis_last_success_timestamp_seconds",
			Help: "Unix time of the last run that stored its analyses",
		},
	)
)
