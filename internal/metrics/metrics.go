// Package metrics exposes Prometheus counters for the reminder engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fourbuttons"

type Metrics struct {
	registry *prometheus.Registry

	ticks            prometheus.Counter
	duesDispatched   *prometheus.CounterVec
	persistenceErrs  *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	acknowledgements *prometheus.CounterVec
	hardwareErrs     prometheus.Counter
	actorRestarts    *prometheus.CounterVec
	phase            *prometheus.GaugeVec
}

// New creates the metrics on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks processed.",
		}),
		duesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dues_dispatched_total",
			Help:      "Due events sent to control actors, by activity.",
		}, []string{"activity"}),
		persistenceErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Persistence gateway failures, by component.",
		}, []string{"component"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation attempts, by activity and result.",
		}, []string{"activity", "result"}),
		acknowledgements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acknowledgements_total",
			Help:      "Button presses that completed an activity.",
		}, []string{"activity"}),
		hardwareErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hardware_errors_total",
			Help:      "GPIO failures.",
		}),
		actorRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actor_restarts_total",
			Help:      "Supervisor restarts, by actor.",
		}, []string{"actor"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activity_phase",
			Help:      "Current phase per activity (0 idle, 1 awaiting ack, 2 escalated).",
		}, []string{"activity"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks,
		m.duesDispatched,
		m.persistenceErrs,
		m.escalations,
		m.acknowledgements,
		m.hardwareErrs,
		m.actorRestarts,
		m.phase,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) DueDispatched(activity string) {
	if m == nil {
		return
	}
	m.duesDispatched.WithLabelValues(activity).Inc()
}

func (m *Metrics) PersistenceError(component string) {
	if m == nil {
		return
	}
	m.persistenceErrs.WithLabelValues(component).Inc()
}

// Escalation records an escalation attempt.
func (m *Metrics) Escalation(activity string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.escalations.WithLabelValues(activity, result).Inc()
}

func (m *Metrics) Acknowledged(activity string) {
	if m == nil {
		return
	}
	m.acknowledgements.WithLabelValues(activity).Inc()
}

func (m *Metrics) HardwareError() {
	if m == nil {
		return
	}
	m.hardwareErrs.Inc()
}

func (m *Metrics) ActorRestart(actor string) {
	if m == nil {
		return
	}
	m.actorRestarts.WithLabelValues(actor).Inc()
}

func (m *Metrics) SetPhase(activity string, phase int) {
	if m == nil {
		return
	}
	m.phase.WithLabelValues(activity).Set(float64(phase))
}
