// Package metrics exposes the bridge's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the bridge records into. All fields are
// registered against a private registry so tests can build isolated
// instances.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	AsksTotal        *prometheus.CounterVec
	LateOutcomes     prometheus.Counter
	IdempotentReplay prometheus.Counter
	QueueDepth       prometheus.Gauge
	AskDuration      prometheus.Histogram
}

// New creates and registers the bridge collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "HTTP requests by route and outcome code.",
		}, []string{"route", "code"}),
		AsksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_asks_total",
			Help: "UI ask transactions by terminal outcome.",
		}, []string{"outcome"}),
		LateOutcomes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_late_outcomes_total",
			Help: "Tasks that settled after their caller already timed out.",
		}),
		IdempotentReplay: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_idempotent_replays_total",
			Help: "Responses served from the idempotency store.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Queued plus running admission jobs.",
		}),
		AskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_ask_duration_seconds",
			Help:    "End-to-end UI ask duration.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAsk records one completed ask transaction.
func (m *Metrics) ObserveAsk(outcome string, d time.Duration) {
	m.AsksTotal.WithLabelValues(outcome).Inc()
	m.AskDuration.Observe(d.Seconds())
}
