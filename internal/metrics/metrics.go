// Package metrics exposes Prometheus instrumentation for debate execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "consilium",
		Name:      "rounds_executed_total",
		Help:      "Number of debate rounds executed.",
	})

	debatesConcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consilium",
		Name:      "debates_concluded_total",
		Help:      "Number of debates concluded, by termination reason.",
	}, []string{"reason"})

	agentExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consilium",
		Name:      "agent_executions_total",
		Help:      "Agent executor invocations, by execution mode and outcome.",
	}, []string{"mode", "outcome"})

	executorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "consilium",
		Name:      "agent_execution_seconds",
		Help:      "Wall-clock duration of agent executor invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"mode"})
)

// Outcomes recorded per agent execution.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// RoundExecuted records one completed round execution.
func RoundExecuted() {
	roundsExecuted.Inc()
}

// DebateConcluded records a debate reaching a terminal state.
func DebateConcluded(reason string) {
	debatesConcluded.WithLabelValues(reason).Inc()
}

// AgentExecution records one executor invocation and its duration.
func AgentExecution(mode, outcome string, elapsed time.Duration) {
	agentExecutions.WithLabelValues(mode, outcome).Inc()
	executorDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}
