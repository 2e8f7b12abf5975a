package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDelivery(t *testing.T) {
	m := NewMetrics()

	m.ObserveDelivery("ok", 5*time.Millisecond)
	m.ObserveDelivery("ok", 2*time.Millisecond)
	m.ObserveDelivery("invalid_channel", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.EnvelopesRouted.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EnvelopesRouted.WithLabelValues("invalid_channel")))
}

func TestObserveControl(t *testing.T) {
	m := NewMetrics()

	m.ObserveControl("context.node.create", "ok")
	m.ObserveControl("context.node.create", "error")
	m.ObserveControl("context.node.create", "ok")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.ControlRequests.WithLabelValues("context.node.create", "ok")))
}

func TestSetGraphSize(t *testing.T) {
	m := NewMetrics()

	m.SetGraphSize(4, 7)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.NodesLive))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.ConnectionsLive))

	m.SetGraphSize(3, 6)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.NodesLive))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDelivery("ok", time.Millisecond)
		m.ObserveControl("context.nodes", "ok")
		m.SetGraphSize(1, 1)
	})
}

func TestNewRegistry_RegistersCoreMetrics(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.PrometheusRegistry())

	r.Metrics.ObserveDelivery("ok", time.Millisecond)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["nadi_router_envelopes_total"])
	assert.True(t, names["nadi_router_delivery_duration_seconds"])
}
