package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// nodeRuns counts NodeFunction invocations.
	// Labels: kind (variable, check)
	nodeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkbp",
		Subsystem: "graph",
		Name:      "node_runs_total",
		Help:      "Node function invocations",
	}, []string{"kind"})

	// nodeFailures counts NodeFunction invocations that returned an error.
	// Labels: kind (variable, check)
	nodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkbp",
		Subsystem: "graph",
		Name:      "node_failures_total",
		Help:      "Node function invocations that failed",
	}, []string{"kind"})

	messagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkbp",
		Subsystem: "graph",
		Name:      "messages_delivered_total",
		Help:      "Messages delivered along edges",
	})

	// stepDuration measures one propagation step.
	// Labels: mode (single, threaded)
	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkbp",
		Subsystem: "graph",
		Name:      "step_duration_seconds",
		Help:      "Duration of one propagation step",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"mode"})
)

func kindLabel(factor bool) string {
	if factor {
		return "check"
	}
	return "variable"
}
