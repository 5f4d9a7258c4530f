package usecase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for upstream calls. A nil
// *Metrics records nothing.
type Metrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	masks   prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "groundedsam",
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Upstream calls by task type and outcome",
			},
			[]string{"task_type", "outcome"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "groundedsam",
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Upstream call latency in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"task_type"},
		),
		masks: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "groundedsam",
				Subsystem: "gateway",
				Name:      "masks_per_call",
				Help:      "Number of masks returned per successful call",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
		),
	}
}

func (m *Metrics) observe(taskType, outcome string, elapsed time.Duration, masks int) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(taskType, outcome).Inc()
	m.latency.WithLabelValues(taskType).Observe(elapsed.Seconds())
	if outcome == outcomeSuccess {
		m.masks.Observe(float64(masks))
	}
}
