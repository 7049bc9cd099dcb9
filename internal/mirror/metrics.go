package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Metrics holds the Prometheus collectors of the mirror pipeline.
type Metrics struct {
	deliveries    *prometheus.CounterVec
	propagations  *prometheus.CounterVec
	renderSeconds prometheus.Histogram
	breakers      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgmirror",
			Name:      "deliveries_total",
			Help:      "Mirror deliveries by payload kind and result.",
		}, []string{"kind", "result"}),
		propagations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgmirror",
			Name:      "propagations_total",
			Help:      "Edit and delete propagations by operation and result.",
		}, []string{"op", "result"}),
		renderSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tgmirror",
			Name:      "render_seconds",
			Help:      "Time spent rendering message cards.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		breakers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tgmirror",
			Name:      "target_breaker_state",
			Help:      "Circuit breaker state per target chat: 0 closed, 1 half-open, 2 open.",
		}, []string{"target_chat_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.deliveries, m.propagations, m.renderSeconds, m.breakers)
	}
	return m
}

func (m *Metrics) delivery(kind, result string) {
	m.deliveries.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) propagation(op, result string) {
	m.propagations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) breakerState(chatID string, state gobreaker.State) {
	m.breakers.WithLabelValues(chatID).Set(float64(state))
}
