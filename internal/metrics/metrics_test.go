package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Tick()
	m.Tick()
	m.DueDispatched("pills")
	m.Escalation("pills", true)
	m.Escalation("pills", false)
	m.Escalation("pills", false)
	m.PersistenceError("scheduler")
	m.Acknowledged("plants")
	m.HardwareError()
	m.ActorRestart("control/pills")
	m.SetPhase("pills", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duesDispatched.WithLabelValues("pills")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations.WithLabelValues("pills", "sent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.escalations.WithLabelValues("pills", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistenceErrs.WithLabelValues("scheduler")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acknowledgements.WithLabelValues("plants")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hardwareErrs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actorRestarts.WithLabelValues("control/pills")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.phase.WithLabelValues("pills")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Tick()
		m.DueDispatched("a")
		m.Escalation("a", true)
		m.PersistenceError("x")
		m.Acknowledged("a")
		m.HardwareError()
		m.ActorRestart("a")
		m.SetPhase("a", 1)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Tick()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fourbuttons_scheduler_ticks_total 1")
}

func TestIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
