package chat

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for chat requests.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics registers chat metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "supportd",
				Subsystem: "chat",
				Name:      "requests_total",
				Help:      "Chat messages handled, by final status",
			}, []string{"status"}),
			Duration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "supportd",
				Subsystem: "chat",
				Name:      "request_duration_seconds",
				Help:      "End to end chat message latency",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}),
		}
	})
	return globalMetrics
}

func (m *Metrics) observe(status string, seconds float64) {
	m.Requests.WithLabelValues(status).Inc()
	m.Duration.Observe(seconds)
}
