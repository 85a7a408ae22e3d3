package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the broker's operational counters. A nil *Metrics
// is valid and records nothing, which keeps tests quiet.
type Metrics struct {
	connections prometheus.Gauge
	watchers    prometheus.Gauge
	posts       *prometheus.CounterVec
	messages    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticksync",
			Subsystem: "broker",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticksync",
			Subsystem: "broker",
			Name:      "watchers",
			Help:      "Active room watch registrations.",
		}),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticksync",
			Subsystem: "broker",
			Name:      "posts_total",
			Help:      "Posts appended per room.",
		}, []string{"room"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticksync",
			Subsystem: "broker",
			Name:      "messages_total",
			Help:      "Messages received per kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.connections, m.watchers, m.posts, m.messages)
	return m
}

func (m *Metrics) observeConnection(delta float64) {
	if m == nil {
		return
	}
	m.connections.Add(delta)
}

func (m *Metrics) setWatchers(n int) {
	if m == nil {
		return
	}
	m.watchers.Set(float64(n))
}

func (m *Metrics) observePost(room string) {
	if m == nil {
		return
	}
	m.posts.WithLabelValues(room).Inc()
}

func (m *Metrics) observeMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}
