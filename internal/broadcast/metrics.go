package broadcast

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter периодически переносит Stats шины в Prometheus.
// Counter-ы растут на дельту между опросами.
type MetricsExporter struct {
	bus      Bus
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}

	published   prometheus.Counter
	delivered   prometheus.Counter
	dropped     prometheus.Counter
	subscribers prometheus.Gauge

	prev Stats
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg
// (nil — глобальный регистр).
func NewMetricsExporter(bus Bus, reg prometheus.Registerer) *MetricsExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	me := &MetricsExporter{
		bus:      bus,
		interval: time.Second,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "place3d",
			Subsystem: "broadcast",
			Name:      "published_total",
			Help:      "Общее число опубликованных обновлений.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "place3d",
			Subsystem: "broadcast",
			Name:      "delivered_total",
			Help:      "Обновлений, доставленных локальным подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "place3d",
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Обновлений, отброшенных из-за переполнения буферов.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "place3d",
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Текущее число подписчиков.",
		}),
	}

	reg.MustRegister(me.published, me.delivered, me.dropped, me.subscribers)
	return me
}

// Start запускает цикл опроса.
func (m *MetricsExporter) Start() {
	go m.loop()
}

// Stop останавливает цикл опроса.
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.quit:
			m.collect()
			return
		}
	}
}

func (m *MetricsExporter) collect() {
	stats := m.bus.Stats()

	if d := stats.Published - m.prev.Published; d > 0 {
		m.published.Add(float64(d))
	}
	if d := stats.Delivered - m.prev.Delivered; d > 0 {
		m.delivered.Add(float64(d))
	}
	if d := stats.Dropped - m.prev.Dropped; d > 0 {
		m.dropped.Add(float64(d))
	}
	m.subscribers.Set(float64(stats.Subscribers))

	m.prev = stats
}
