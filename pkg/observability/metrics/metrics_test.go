package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAccepted()
		m.RecordRejected("full")
		m.RecordRequest("SendMessage")
		m.RecordNotification(true)
		m.RecordSnapshotFailure("keys")
		m.RecordSwept("invite", 2)
		m.SetQueueDepth(3)
		m.HandlerBusy(true)
	})
}

func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRequest("SendMessage")
	m.RecordRequest("SendMessage")
	m.RecordRejected("full")
	m.RecordSwept("friendRequest", 3)
	m.HandlerBusy(true)
	m.HandlerBusy(true)
	m.HandlerBusy(false)

	assert.InDelta(t, 2, gathered(t, reg, "messagecat_requests_total"), 0)
	assert.InDelta(t, 1, gathered(t, reg, "messagecat_connections_rejected_total"), 0)
	assert.InDelta(t, 3, gathered(t, reg, "messagecat_swept_records_total"), 0)
	assert.InDelta(t, 1, gathered(t, reg, "messagecat_handlers_busy"), 0)
}
