package placement

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — Prometheus-метрики сервиса размещения.
type Metrics struct {
	attempts          *prometheus.CounterVec
	duration          prometheus.Histogram
	postWriteFailures *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg (nil — глобальный регистр).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "place3d",
			Name:      "placement_attempts_total",
			Help:      "Попытки размещения по исходу.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "place3d",
			Name:      "placement_duration_seconds",
			Help:      "Длительность обработки попытки размещения.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		postWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "place3d",
			Name:      "placement_post_write_failures_total",
			Help:      "Сбои шагов после записи куба (leaderboard, cooldown, broadcast).",
		}, []string{"step"}),
	}
	reg.MustRegister(m.attempts, m.duration, m.postWriteFailures)

	for _, o := range Outcomes {
		m.attempts.WithLabelValues(string(o))
	}
	return m
}

func (m *Metrics) observe(o Outcome, d time.Duration) {
	m.attempts.WithLabelValues(string(o)).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) postWriteFailure(step string) {
	m.postWriteFailures.WithLabelValues(step).Inc()
}
