package agentloop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockbot",
		Subsystem: "agent",
		Name:      "turns_total",
		Help:      "Turns handled, by origin (user or self).",
	}, []string{"origin"})
	metricTurnSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockbot",
		Subsystem: "agent",
		Name:      "turn_seconds",
		Help:      "Time spent inside a turn, semaphore wait excluded.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"origin"})
	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockbot",
		Subsystem: "agent",
		Name:      "commands_total",
		Help:      "Commands seen in turns, by origin and outcome.",
	}, []string{"origin", "outcome"})
	metricModelErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockbot",
		Subsystem: "agent",
		Name:      "model_errors_total",
		Help:      "Model calls that degraded to the apology reply.",
	})
	metricContextRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockbot",
		Subsystem: "agent",
		Name:      "context_retries_total",
		Help:      "Model calls retried with a shortened conversation.",
	})
	metricWorldEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockbot",
		Subsystem: "agent",
		Name:      "world_events_total",
		Help:      "Environment events received, by type.",
	}, []string{"type"})
)

func origin(selfPrompt bool) string {
	if selfPrompt {
		return "self"
	}
	return "user"
}
