// Package telemetry provides Prometheus metrics for the orchestration loop
// and its stores.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orchestrations counts orchestrate invocations by outcome.
	// Labels: outcome (success, error)
	Orchestrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopd",
			Subsystem: "orchestrator",
			Name:      "orchestrations_total",
			Help:      "Total orchestrate invocations by outcome",
		},
		[]string{"outcome"},
	)

	// Turns counts reasoning turns by response branch.
	// Labels: branch (responded, generated, declined, executed)
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopd",
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Total reasoning turns by response branch",
		},
		[]string{"branch"},
	)

	// Iterations tracks how many turns each orchestrate invocation used.
	Iterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "loopd",
			Subsystem: "orchestrator",
			Name:      "iterations_per_run",
			Help:      "Reasoning turns consumed per orchestrate invocation",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	// CommandDenials counts declined terminal commands.
	CommandDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loopd",
			Subsystem: "orchestrator",
			Name:      "command_denials_total",
			Help:      "Total declined terminal command proposals",
		},
	)

	// BreakerTrips counts denial-loop breaker activations.
	BreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loopd",
			Subsystem: "orchestrator",
			Name:      "denial_breaker_trips_total",
			Help:      "Times the denial-loop breaker forced termination",
		},
	)

	// Summarizations counts memory summarization attempts.
	// Labels: result (success, error)
	Summarizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopd",
			Subsystem: "memory",
			Name:      "summarizations_total",
			Help:      "Total rolling-memory summarization attempts",
		},
		[]string{"result"},
	)
)
