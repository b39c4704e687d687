// Package metrics defines the Prometheus collectors of the correlation
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "correlate"

// Metrics groups the collectors. Each instance registers on its own
// Registerer so tests can build as many as they need.
type Metrics struct {
	OccurrencesReceived *prometheus.CounterVec
	Dispositions        *prometheus.CounterVec
	DuplicateStarts     *prometheus.CounterVec
	DispatchFailures    *prometheus.CounterVec
	ProcessingDuration  *prometheus.HistogramVec
	MessagesRejected    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OccurrencesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "occurrences_received_total",
				Help:      "Total number of event occurrences handed to a consumer",
			},
			[]string{"event_type"},
		),
		Dispositions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispositions_total",
				Help:      "Matched subscriptions by disposition kind",
			},
			[]string{"kind"},
		),
		DuplicateStarts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_starts_skipped_total",
				Help:      "Case starts skipped because the business reference already exists",
			},
			[]string{"definition_id"},
		),
		DispatchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_failures_total",
				Help:      "Occurrences that failed in the query or dispatch phase",
			},
			[]string{"code"},
		),
		ProcessingDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "occurrence_processing_duration_seconds",
				Help:      "Time taken to resolve and dispatch one occurrence",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"consumer"},
		),
		MessagesRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_rejected_total",
				Help:      "Inbound messages rejected by a transport bridge",
			},
			[]string{"transport", "reason"},
		),
	}
}

// NewUnregistered returns collectors bound to a private registry. Used as
// the default when a component is built without metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
