package engine

import (
	"github.com/shopspring/decimal"

	"github.com/finvex/matchcore/internal/regime"
)

// Statistics is the cumulative state of one engine instance, returned by
// value from Statistics(). Each engine owns its own copy; nothing here is
// shared across instances.
type Statistics struct {
	TotalOrders        int64           `json:"total_orders"`
	TotalTrades        int64           `json:"total_trades"`
	RegimeChanges      int64           `json:"regime_changes"`
	FinalRegime        regime.Regime   `json:"final_regime,omitempty"`
	CircuitBreakerHits int64           `json:"circuit_breaker_hits"`
	OpeningPrice       decimal.Decimal `json:"opening_price"`
	LastTradePrice     decimal.Decimal `json:"last_trade_price"`
	ReferencePrice     decimal.Decimal `json:"reference_price"`
	PendingStops       int             `json:"pending_stops"`
	Phase              Phase           `json:"phase,omitempty"`
}
