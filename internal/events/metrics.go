package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for session tracking.
type Metrics struct {
	Active   prometheus.Gauge
	Rejected prometheus.Counter
	Canceled prometheus.Counter
}

// NewMetrics registers session metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Active: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "supportd",
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Conversations with a request in flight",
			}),
			Rejected: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "supportd",
				Subsystem: "sessions",
				Name:      "rejected_total",
				Help:      "Requests rejected because the conversation was busy",
			}),
			Canceled: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "supportd",
				Subsystem: "sessions",
				Name:      "canceled_total",
				Help:      "Sessions canceled by the caller",
			}),
		}
	})
	return globalMetrics
}
