// Package metrics exposes the bot's Prometheus instrumentation. Metrics are
// registered at init and served by the optional /metrics listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_orders_submitted_total",
		Help: "Orders submitted to the venue.",
	}, []string{"symbol", "side"})

	OrdersFilled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_orders_filled_total",
		Help: "Orders confirmed filled.",
	}, []string{"symbol", "side"})

	OrdersFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_orders_failed_total",
		Help: "Orders rejected or cancelled before filling.",
	}, []string{"symbol", "side"})

	RequestRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_request_retries_total",
		Help: "Transient-failure retries by operation.",
	}, []string{"op"})

	RateLimitCooldowns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_rate_limit_cooldowns_total",
		Help: "Cooldown pauses taken after rate-limit responses.",
	}, []string{"op"})

	RealizedPnL = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbot_realized_pnl",
		Help: "Cumulative realized profit in quote currency.",
	}, []string{"symbol"})

	PositionQuantity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbot_position_quantity",
		Help: "Base quantity currently held.",
	}, []string{"symbol"})

	WorkingPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbot_working_price",
		Help: "Last working price used by the trade loop.",
	}, []string{"symbol"})
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		OrdersFilled,
		OrdersFailed,
		RequestRetries,
		RateLimitCooldowns,
		RealizedPnL,
		PositionQuantity,
		WorkingPrice,
	)
}
