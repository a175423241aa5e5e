package guardrail

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for both guardrail directions.
type Metrics struct {
	InputTotal       *prometheus.CounterVec
	OutputTotal      *prometheus.CounterVec
	RedactionsTotal  *prometheus.CounterVec
	AdvisoryDegraded *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
}

// NewMetrics registers guardrail metrics once per process.
//
// Metrics:
//   - supportd_guardrail_input_total{code} - validations by outcome code ("none" on success)
//   - supportd_guardrail_output_total{outcome} - unmodified, redacted or blocked
//   - supportd_guardrail_redactions_total{rule} - matches replaced per rule
//   - supportd_guardrail_advisory_degraded_total{direction} - classifier failures that failed open
//   - supportd_guardrail_duration_seconds{direction}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			InputTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "supportd",
					Subsystem: "guardrail",
					Name:      "input_total",
					Help:      "Total number of input validations by result code",
				},
				[]string{"code"},
			),
			OutputTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "supportd",
					Subsystem: "guardrail",
					Name:      "output_total",
					Help:      "Total number of output checks by outcome",
				},
				[]string{"outcome"},
			),
			RedactionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "supportd",
					Subsystem: "guardrail",
					Name:      "redactions_total",
					Help:      "Total number of redacted matches by rule",
				},
				[]string{"rule"},
			),
			AdvisoryDegraded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "supportd",
					Subsystem: "guardrail",
					Name:      "advisory_degraded_total",
					Help:      "Advisory classifier calls that failed and fell back to the permissive default",
				},
				[]string{"direction"},
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "supportd",
					Subsystem: "guardrail",
					Name:      "duration_seconds",
					Help:      "Duration of guardrail checks in seconds",
					Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
				},
				[]string{"direction"},
			),
		}
	})
	return globalMetrics
}

const (
	directionInput  = "input"
	directionOutput = "output"
)

func (m *Metrics) recordInput(code Code, seconds float64) {
	m.InputTotal.WithLabelValues(code.String()).Inc()
	m.Duration.WithLabelValues(directionInput).Observe(seconds)
}

func (m *Metrics) recordOutput(outcome string, byRule map[string]int, seconds float64) {
	m.OutputTotal.WithLabelValues(outcome).Inc()
	for rule, n := range byRule {
		m.RedactionsTotal.WithLabelValues(rule).Add(float64(n))
	}
	m.Duration.WithLabelValues(directionOutput).Observe(seconds)
}

func (m *Metrics) recordDegraded(direction string) {
	m.AdvisoryDegraded.WithLabelValues(direction).Inc()
}
