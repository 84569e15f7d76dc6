// Package metrics provides Prometheus instrumentation for connection
// attempts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mqlink"

// Attempt outcomes.
const (
	OutcomeConnected = "connected"
	OutcomeRefused   = "refused"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors of the connection engine. A nil *Metrics
// records nothing.
type Metrics struct {
	Attempts          *prometheus.CounterVec
	StageTransitions  *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	TunnelResults     *prometheus.CounterVec
	RegisteredClients prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_attempts_total",
				Help:      "Connection attempts by outcome",
			},
			[]string{"outcome"},
		),
		StageTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_transitions_total",
				Help:      "Transitions into each connection stage",
			},
			[]string{"stage"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each connection stage",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"stage"},
		),
		TunnelResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_tunnels_total",
				Help:      "HTTP CONNECT tunnel results",
			},
			[]string{"result"},
		),
		RegisteredClients: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_clients",
				Help:      "Clients registered with a connection manager",
			},
		),
	}
}

// Attempt counts a finished connection attempt.
func (m *Metrics) Attempt(outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
}

// Transition records leaving stage from after d and entering stage to.
func (m *Metrics) Transition(from, to string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(from).Observe(d.Seconds())
	m.StageTransitions.WithLabelValues(to).Inc()
}

// Tunnel counts a proxy tunnel result ("ok", "rejected", "timeout", "error").
func (m *Metrics) Tunnel(result string) {
	if m == nil {
		return
	}
	m.TunnelResults.WithLabelValues(result).Inc()
}

// SetRegistered sets the number of registered clients.
func (m *Metrics) SetRegistered(n int) {
	if m == nil {
		return
	}
	m.RegisteredClients.Set(float64(n))
}
