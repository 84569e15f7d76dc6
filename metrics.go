package mqlink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gonzalop/mqlink/internal/metrics"
)

// Metrics holds the Prometheus collectors of the connection engine.
type Metrics = metrics.Metrics

// NewMetrics creates the collectors and registers them with reg. Pass the
// result to WithMetrics; one Metrics can be shared by many clients.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return metrics.New(reg)
}
