package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts orders accepted by an engine, by side.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matchcore_orders_processed_total",
		Help: "Total number of orders processed by the engine",
	},
	[]string{"side"},
)

// OrdersRejected counts rejected orders by rejection category.
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matchcore_orders_rejected_total",
		Help: "Total number of orders rejected before book mutation",
	},
	[]string{"reason"},
)

// TradesExecuted counts executed trades.
var TradesExecuted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "matchcore_trades_executed_total",
		Help: "Total number of trades executed",
	},
)

// OrderLatency records latency distribution for order processing.
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "matchcore_order_processing_latency_seconds",
		Help:    "Latency in seconds to process individual orders",
		Buckets: prometheus.DefBuckets,
	},
)

// CircuitBreakerHalts counts automatic trading halts.
var CircuitBreakerHalts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "matchcore_circuit_breaker_halts_total",
		Help: "Total number of circuit breaker halts",
	},
)

// RegimeChanges counts adaptive policy swaps, labeled by the new regime.
var RegimeChanges = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matchcore_regime_changes_total",
		Help: "Total number of market regime changes in the adaptive engine",
	},
	[]string{"regime"},
)

// AuctionVolume counts quantity executed through call auctions.
var AuctionVolume = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "matchcore_auction_volume_total",
		Help: "Total quantity executed in call auctions",
	},
)

func init() {
	prometheus.MustRegister(
		OrdersProcessed,
		OrdersRejected,
		TradesExecuted,
		OrderLatency,
		CircuitBreakerHalts,
		RegimeChanges,
		AuctionVolume,
	)
}
