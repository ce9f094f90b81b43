package engine

import "github.com/prometheus/client_golang/prometheus"

// metrics are the engine's Prometheus counters/gauges, registered against
// a dedicated registry so cmd/engine can expose them without colliding
// with any other component's default-registry metrics.
type metrics struct {
	registry           *prometheus.Registry
	positionsOpened    *prometheus.CounterVec
	positionsClosed    *prometheus.CounterVec
	swapsExecuted      *prometheus.CounterVec
	fundingSettlements *prometheus.CounterVec
	retryLogged        prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	m := &metrics{
		registry: reg,
		positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpmesh",
			Subsystem: "engine",
			Name:      "positions_opened_total",
			Help:      "Positions opened, by market and side.",
		}, []string{"symbol", "side"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpmesh",
			Subsystem: "engine",
			Name:      "positions_closed_total",
			Help:      "Positions closed, by market and side.",
		}, []string{"symbol", "side"}),
		swapsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpmesh",
			Subsystem: "engine",
			Name:      "swaps_executed_total",
			Help:      "Direct swap calls, by market.",
		}, []string{"symbol"}),
		fundingSettlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpmesh",
			Subsystem: "engine",
			Name:      "funding_settlements_total",
			Help:      "Funding-rate settlement cycles run, by market and outcome.",
		}, []string{"symbol", "outcome"}),
		retryLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpmesh",
			Subsystem: "engine",
			Name:      "retry_logged_total",
			Help:      "Fire-and-forget external calls that failed and were logged for replay.",
		}),
	}

	reg.MustRegister(m.positionsOpened, m.positionsClosed, m.swapsExecuted, m.fundingSettlements, m.retryLogged)
	return m
}

// Registry exposes the engine's metrics registry so cmd/engine can serve it
// at /metrics via promhttp.
func (e *Engine) Registry() *prometheus.Registry {
	return e.metrics.registry
}
