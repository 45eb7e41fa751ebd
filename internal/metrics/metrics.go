// Package metrics provides Prometheus metrics for the handoff bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	HandoffsTotal  *prometheus.CounterVec
	PollsTotal     *prometheus.CounterVec
	PollDuration   prometheus.Histogram
	EventsTotal    *prometheus.CounterVec
	TeardownsTotal *prometheus.CounterVec
	SessionsActive prometheus.Gauge
	MessagesTotal  *prometheus.CounterVec
	DeadPollsTotal prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HandoffsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_handoffs_total",
				Help: "Total handoff requests by outcome.",
			},
			[]string{"outcome"},
		),
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_polls_total",
				Help: "Total poll cycles by result.",
			},
			[]string{"result"},
		),
		PollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_poll_duration_seconds",
				Help:    "Wall time of one blocking poll cycle.",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_events_total",
				Help: "Total agent-side events by type.",
			},
			[]string{"type"},
		),
		TeardownsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_teardowns_total",
				Help: "Total session teardowns by reason.",
			},
			[]string{"reason"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_sessions_active",
				Help: "Number of chat sessions currently being polled.",
			},
		),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_messages_total",
				Help: "Total relayed messages by direction.",
			},
			[]string{"direction"},
		),
		DeadPollsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_dead_polls_total",
				Help: "Poll cycles attempted after the session record disappeared.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.HandoffsTotal)
	reg.MustRegister(m.PollsTotal)
	reg.MustRegister(m.PollDuration)
	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.TeardownsTotal)
	reg.MustRegister(m.SessionsActive)
	reg.MustRegister(m.MessagesTotal)
	reg.MustRegister(m.DeadPollsTotal)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHandoff increments the handoff counter.
func (m *Metrics) RecordHandoff(outcome string) {
	m.HandoffsTotal.WithLabelValues(outcome).Inc()
}

// RecordPoll increments the poll counter and observes its duration.
func (m *Metrics) RecordPoll(result string, seconds float64) {
	m.PollsTotal.WithLabelValues(result).Inc()
	m.PollDuration.Observe(seconds)
}

// RecordEvent increments the event counter.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

// RecordTeardown increments the teardown counter.
func (m *Metrics) RecordTeardown(reason string) {
	m.TeardownsTotal.WithLabelValues(reason).Inc()
}

// RecordMessage increments the relayed message counter.
func (m *Metrics) RecordMessage(direction string) {
	m.MessagesTotal.WithLabelValues(direction).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
