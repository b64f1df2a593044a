// Package metrics exposes Prometheus metrics for the order lifecycle.
//
//   - trader_orders_total{kind,result}      orders submitted (entry|stoploss|exit, ok|failed)
//   - trader_transitions_total{status}      ledger status transitions
//   - trader_alerts_total{result}           alerts processed (accepted|queued|invalid)
//   - trader_relogins_total                 forced logout+login cycles
//   - trader_heartbeat_total{result}        session probes (ok|dead|skipped)
//   - trader_gateway_seconds{method}        gateway call latency
//   - trader_positions{state}               pending and active position counts
//   - trader_loop_panics_total{loop}        recovered panics per loop
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	orders      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	relogins    prometheus.Counter
	heartbeat   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	positions   *prometheus.GaugeVec
	panics      *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_orders_total", Help: "Orders submitted to the gateway"},
			[]string{"kind", "result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_transitions_total", Help: "Ledger status transitions"},
			[]string{"status"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_alerts_total", Help: "Alerts processed"},
			[]string{"result"},
		),
		relogins: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "trader_relogins_total", Help: "Forced logout+login cycles"},
		),
		heartbeat: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_heartbeat_total", Help: "Session liveness probes"},
			[]string{"result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trader_gateway_seconds",
				Help:    "Gateway call latency",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		positions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "trader_positions", Help: "Tracked positions by state"},
			[]string{"state"},
		),
		panics: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_loop_panics_total", Help: "Recovered panics per loop"},
			[]string{"loop"},
		),
	}
	m.registry.MustRegister(
		m.orders, m.transitions, m.alerts, m.relogins,
		m.heartbeat, m.latency, m.positions, m.panics,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// Order counts a submitted order of the given kind.
func (m *Metrics) Order(kind string, ok bool) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(kind, result(ok)).Inc()
}

// Transition counts a ledger status change.
func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Alert counts a processed alert.
func (m *Metrics) Alert(outcome string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(outcome).Inc()
}

// Relogin counts a forced re-authentication.
func (m *Metrics) Relogin() {
	if m == nil {
		return
	}
	m.relogins.Inc()
}

// Heartbeat counts a session probe outcome.
func (m *Metrics) Heartbeat(outcome string) {
	if m == nil {
		return
	}
	m.heartbeat.WithLabelValues(outcome).Inc()
}

// ObserveCall records a gateway call duration.
func (m *Metrics) ObserveCall(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(method).Observe(d.Seconds())
}

// SetPositions publishes the pending and active counts.
func (m *Metrics) SetPositions(pending, active int) {
	if m == nil {
		return
	}
	m.positions.WithLabelValues("pending").Set(float64(pending))
	m.positions.WithLabelValues("active").Set(float64(active))
}

// Panic counts a recovered panic in a loop.
func (m *Metrics) Panic(loop string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(loop).Inc()
}
