// Package engine contains the three matching engines built on the order
// book: the strict price-time MatchingEngine, the regime-driven
// AdaptiveEngine, and the phase-aware protective ExchangeEngine.
//
// Every engine instance is a single-writer state machine: one order is fully
// processed before the next is accepted, and concurrent callers must
// serialize access themselves. Independent instances share no state.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finvex/matchcore/internal/book"
	"github.com/finvex/matchcore/pkg/metrics"
)

// MatchingEngine matches incoming orders under strict price-time priority.
// It supports LIMIT, MARKET, IOC and FOK orders; protective order types are
// the ExchangeEngine's concern.
type MatchingEngine struct {
	logger *zap.Logger
	book   *book.OrderBook
	seq    int64
	stats  Statistics
}

// NewMatchingEngine builds an empty price-time engine.
func NewMatchingEngine(logger *zap.Logger) *MatchingEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchingEngine{
		logger: logger,
		book:   book.NewOrderBook(logger),
	}
}

func (e *MatchingEngine) nextSeq() int64 {
	e.seq++
	return e.seq
}

// Process matches the order against the book and rests any remainder that is
// allowed to rest. IOC remainders are discarded; market orders never rest; a
// FOK order either fills in full or is rejected with the book untouched.
func (e *MatchingEngine) Process(o *book.Order) ([]*book.Trade, error) {
	start := time.Now()
	if err := o.Validate(); err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if o.IsExpired(start) {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: order already expired", ErrValidation)
	}
	switch o.Type {
	case book.TypeStopLoss, book.TypeStopLossMarket:
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: stop orders require the exchange engine", ErrValidation)
	}

	o.ArrivalSeq = e.nextSeq()
	e.stats.TotalOrders++
	metrics.OrdersProcessed.WithLabelValues(o.Side).Inc()

	if o.Type == book.TypeFOK {
		available := e.book.AvailableVolume(book.Opposite(o.Side), o.Price)
		if available.LessThan(o.Quantity) {
			metrics.OrdersRejected.WithLabelValues("liquidity").Inc()
			return nil, fmt.Errorf("%w: need %s, available %s", ErrLiquidity, o.Quantity, available)
		}
	}

	trades := matchIncoming(e.book, o, nil, e.nextSeq, func(t *book.Trade) bool {
		e.stats.TotalTrades++
		e.stats.LastTradePrice = t.Price
		metrics.TradesExecuted.Inc()
		return true
	})

	if o.Remaining().IsPositive() && canRest(o) {
		e.book.Insert(o)
	}

	metrics.OrderLatency.Observe(time.Since(start).Seconds())
	return trades, nil
}

// Cancel removes a resting order; false means the id is unknown or already
// gone.
func (e *MatchingEngine) Cancel(id uuid.UUID) bool {
	return e.book.Cancel(id)
}

// Book exposes the underlying order book for read-only collaborators.
func (e *MatchingEngine) Book() *book.OrderBook { return e.book }

// Snapshot returns the ordered view of the current book.
func (e *MatchingEngine) Snapshot() book.Snapshot { return e.book.Snapshot() }

// Statistics returns a copy of the engine's cumulative counters.
func (e *MatchingEngine) Statistics() Statistics { return e.stats }

// RemoveExpired purges resting GTD orders past their expiry and returns how
// many were removed. Expiry is caller-driven; the engine runs no timers.
func (e *MatchingEngine) RemoveExpired(now time.Time) int {
	return len(e.book.RemoveExpired(now))
}

// bandPct converts a percentage figure (10 = 10%) to a multiplier offset.
func bandPct(pct decimal.Decimal) decimal.Decimal {
	return pct.Div(decimal.NewFromInt(100))
}
