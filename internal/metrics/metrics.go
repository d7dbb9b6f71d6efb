// Package metrics provides the Prometheus instruments shared by recalld components.
//
// Instruments are registered once on the default registry and exposed by the
// HTTP server at /metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/recalld/internal/chat"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeSkipped  = "skipped"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

var (
	// CoordinatorOperations counts coordinator calls.
	// Labels: operation (create, update, delete, create_batch), outcome
	CoordinatorOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "coordinator",
			Name:      "operations_total",
			Help:      "Total number of coordinator operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// FilterDecisions counts eligibility filter outcomes.
	// Labels: reason (none, attachment_only, too_short, bot_command, url_only, emoji_only)
	FilterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "filter",
			Name:      "decisions_total",
			Help:      "Total number of filter decisions by reason",
		},
		[]string{"reason"},
	)

	// VectorWrites counts vector index mutations issued by the coordinator.
	// Labels: action (upsert, delete)
	VectorWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "coordinator",
			Name:      "vector_writes_total",
			Help:      "Total number of vector index writes by action",
		},
		[]string{"action"},
	)

	// AssemblyDuration tracks context assembly latency.
	AssemblyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "assembler",
			Name:      "build_duration_seconds",
			Help:      "Duration of context assembly in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// GenerationResults counts text generation outcomes.
	// Labels: provider, result (completed, incomplete, failed)
	GenerationResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "generation",
			Name:      "results_total",
			Help:      "Total number of generation results by kind",
		},
		[]string{"provider", "result"},
	)

	// EventsReceived counts message events consumed from NATS.
	// Labels: kind (created, updated, deleted), outcome
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Total number of message events received by outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Outcome maps an operation error to an outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, chat.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, chat.ErrInvalidInput):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}
