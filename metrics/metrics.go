// Package metrics defines the Prometheus instrumentation exposed at
// /metrics, matching cmd/hook/main.go's use of promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram Hoff exports.
type Metrics struct {
	WebhooksTotal     *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	ProceedIterations prometheus.Histogram
}

// NewMetrics registers and returns the default Metrics instance against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hoff_webhooks_total",
			Help: "Webhook deliveries received, by GitHub event type and outcome.",
		}, []string{"event_type", "result"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hoff_queue_depth",
			Help: "Current depth of a bounded queue.",
		}, []string{"queue"}),
		ProceedIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hoff_proceed_iterations",
			Help:    "Number of ProceedOnce iterations run to reach a fixed point for a single event.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}
}
