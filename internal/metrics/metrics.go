// Package metrics holds the Prometheus collectors updated by the runtime.
//
//   - roboai_orders_total{mode,side,status}      orders booked
//   - roboai_order_rejections_total{reason}      orders refused by a gate
//   - roboai_agent_state{agent,state}            1 for the agent's current state
//   - roboai_reconnect_attempts_total{outcome}   reconnection attempts
//   - roboai_connection_up                       broker session health
//   - roboai_pnl{kind}                           realized / unrealized / daily
//   - roboai_open_positions                      distinct open symbols
//   - roboai_quote_fetches_total{outcome}        market data refreshes
//
// Collectors are registered in init and served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roboai_orders_total",
			Help: "Orders booked by the execution core",
		},
		[]string{"mode", "side", "status"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roboai_order_rejections_total",
			Help: "Order intents refused before booking",
		},
		[]string{"reason"},
	)

	AgentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roboai_agent_state",
			Help: "Current lifecycle state per agent (1 = active state)",
		},
		[]string{"agent", "state"},
	)

	ReconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roboai_reconnect_attempts_total",
			Help: "Reconnection attempts by outcome",
		},
		[]string{"outcome"},
	)

	ConnectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roboai_connection_up",
			Help: "1 while the broker session is considered healthy",
		},
	)

	PnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roboai_pnl",
			Help: "Ledger profit and loss by kind",
		},
		[]string{"kind"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roboai_open_positions",
			Help: "Number of distinct symbols with an open position",
		},
	)

	QuoteFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roboai_quote_fetches_total",
			Help: "Quote requests sent to the broker by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		Rejections,
		AgentState,
		ReconnectAttempts,
		ConnectionUp,
		PnL,
		OpenPositions,
		QuoteFetches,
	)
}

// SetAgentState flips the gauge so only current reads 1 among states.
func SetAgentState(agent, current string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		AgentState.WithLabelValues(agent, s).Set(v)
	}
}

func SetConnection(up bool) {
	if up {
		ConnectionUp.Set(1)
		return
	}
	ConnectionUp.Set(0)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
