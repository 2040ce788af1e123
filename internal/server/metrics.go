package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the server's prometheus collectors, kept on a private
// registry so several servers can live in one process.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	events      prometheus.Counter
	connections prometheus.Gauge
	limited     prometheus.Counter
}

func newMetrics(subscriptions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_feed_requests_total",
			Help: "Feed requests handled, by operation and transport.",
		}, []string{"op", "transport"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_feed_events_sent_total",
			Help: "Change events written to websocket clients.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_feed_connections",
			Help: "Open websocket connections.",
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_feed_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.events,
		m.connections,
		m.limited,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "parley_feed_subscriptions",
			Help: "Open feed subscriptions.",
		}, func() float64 { return float64(subscriptions()) }),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
