package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OccurrencesReceived.WithLabelValues("orderPlaced").Inc()
	m.Dispositions.WithLabelValues("resume").Inc()
	m.DuplicateStarts.WithLabelValues("def-1").Inc()
	m.DispatchFailures.WithLabelValues("DISPATCH_FAILURE").Inc()
	m.ProcessingDuration.WithLabelValues("cmmnEventConsumer").Observe(0.01)
	m.MessagesRejected.WithLabelValues("amqp", "unsupported_payload").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"correlate_occurrences_received_total",
		"correlate_dispositions_total",
		"correlate_duplicate_starts_skipped_total",
		"correlate_dispatch_failures_total",
		"correlate_occurrence_processing_duration_seconds",
		"correlate_messages_rejected_total",
	}, names)
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestNewUnregistered_Independent(t *testing.T) {
	a := NewUnregistered()
	b := NewUnregistered()

	a.Dispositions.WithLabelValues("inert").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Dispositions.WithLabelValues("inert")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Dispositions.WithLabelValues("inert")))
}
