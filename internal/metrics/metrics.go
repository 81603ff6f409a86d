// Package metrics exposes Prometheus collectors for webhook intake and settlement.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autohodl"

// Metrics owns a private registry so tests and multiple instances never collide.
type Metrics struct {
	registry    *prometheus.Registry
	webhooks    *prometheus.CounterVec
	settlements *prometheus.CounterVec
	redeems     *prometheus.HistogramVec
	reconciled  *prometheus.CounterVec
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Inbound notifications by response status and outcome.",
		}, []string{"status", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Terminal settlement states by chain mode.",
		}, []string{"state", "chain_mode"}),
		redeems: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redeem_duration_seconds",
			Help:      "Time spent building and submitting redemptions.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_events_total",
			Help:      "Spend events retried by the reconciler, by terminal state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.webhooks,
		m.settlements,
		m.redeems,
		m.reconciled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveWebhook counts one handler response.
func (m *Metrics) ObserveWebhook(status int, outcome string) {
	m.webhooks.WithLabelValues(strconv.Itoa(status), outcome).Inc()
}

// ObserveSettlement counts one terminal settlement state.
func (m *Metrics) ObserveSettlement(state, chainMode string) {
	if chainMode == "" {
		chainMode = "none"
	}
	m.settlements.WithLabelValues(state, chainMode).Inc()
}

// ObserveRedeem records redemption latency.
func (m *Metrics) ObserveRedeem(d time.Duration, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.redeems.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveReconciled counts one reconciler retry.
func (m *Metrics) ObserveReconciled(state string) {
	m.reconciled.WithLabelValues(state).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
