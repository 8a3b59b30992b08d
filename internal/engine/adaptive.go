package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finvex/matchcore/internal/book"
	"github.com/finvex/matchcore/internal/regime"
	"github.com/finvex/matchcore/pkg/metrics"
)

// AdaptiveConfig tunes the adaptive engine's detector and policies.
type AdaptiveConfig struct {
	Regime regime.Config
	Policy regime.PolicyConfig
}

// DefaultAdaptiveConfig returns the default adaptive tuning.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Regime: regime.DefaultConfig(),
		Policy: regime.DefaultPolicyConfig(),
	}
}

// AdaptiveEngine composes the order book with a regime detector and swaps the
// within-level priority policy whenever the detected regime changes. Stored
// queues are never reordered; the active policy only changes which resting
// order the next matching pass selects.
type AdaptiveEngine struct {
	logger   *zap.Logger
	book     *book.OrderBook
	detector *regime.Detector
	cfg      AdaptiveConfig
	policy   regime.Policy
	seq      int64
	stats    Statistics
}

// NewAdaptiveEngine builds an adaptive engine starting under the Normal
// regime's price-time policy.
func NewAdaptiveEngine(cfg AdaptiveConfig, logger *zap.Logger) *AdaptiveEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &AdaptiveEngine{
		logger:   logger,
		book:     book.NewOrderBook(logger),
		detector: regime.NewDetector(cfg.Regime, logger),
		cfg:      cfg,
		policy:   regime.PolicyFor(regime.Normal, cfg.Policy),
	}
	e.stats.FinalRegime = regime.Normal
	return e
}

func (e *AdaptiveEngine) nextSeq() int64 {
	e.seq++
	return e.seq
}

// Process re-evaluates the regime, swaps the active policy on a change, then
// matches the order under the active policy's within-level ordering. The
// resulting trade/quote event feeds the detector for the next arrival.
func (e *AdaptiveEngine) Process(o *book.Order) ([]*book.Trade, error) {
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

	if detected := e.detector.Classify(); detected != e.policy.Regime {
		e.swapPolicy(detected)
	}

	if o.Type == book.TypeFOK {
		available := e.book.AvailableVolume(book.Opposite(o.Side), o.Price)
		if available.LessThan(o.Quantity) {
			metrics.OrdersRejected.WithLabelValues("liquidity").Inc()
			return nil, fmt.Errorf("%w: need %s, available %s", ErrLiquidity, o.Quantity, available)
		}
	}

	tradedVolume := decimal.Zero
	trades := matchIncoming(e.book, o, e.policy.Ordering(), e.nextSeq, func(t *book.Trade) bool {
		e.stats.TotalTrades++
		e.stats.LastTradePrice = t.Price
		tradedVolume = tradedVolume.Add(t.Quantity)
		metrics.TradesExecuted.Inc()
		return true
	})

	if o.Remaining().IsPositive() && canRest(o) {
		e.book.Insert(o)
	}

	e.observe(o, tradedVolume, start)
	metrics.OrderLatency.Observe(time.Since(start).Seconds())
	return trades, nil
}

// observe feeds the post-match market state into the detector.
func (e *AdaptiveEngine) observe(o *book.Order, tradedVolume decimal.Decimal, at time.Time) {
	snap := e.book.Depth(1)
	mid := snap.Mid()
	if mid.IsZero() {
		mid = e.stats.LastTradePrice
	}
	e.detector.Observe(regime.Observation{
		At:       at,
		MidPrice: mid,
		Spread:   snap.Spread(),
		Volume:   tradedVolume,
		Arrivals: 1,
	})
	if tradedVolume.IsPositive() {
		vol, _ := tradedVolume.Float64()
		e.detector.ObserveSide(o.Side == book.SideBuy, vol)
	}
}

func (e *AdaptiveEngine) swapPolicy(to regime.Regime) {
	from := e.policy.Regime
	e.policy = regime.PolicyFor(to, e.cfg.Policy)
	e.stats.RegimeChanges++
	e.stats.FinalRegime = to
	metrics.RegimeChanges.WithLabelValues(string(to)).Inc()
	e.logger.Info("adaptive policy swapped",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("rule", string(e.policy.Rule)))
}

// Cancel removes a resting order; false means the id is unknown.
func (e *AdaptiveEngine) Cancel(id uuid.UUID) bool {
	return e.book.Cancel(id)
}

// ActivePolicy returns the policy currently applied at pop time.
func (e *AdaptiveEngine) ActivePolicy() regime.Policy { return e.policy }

// Detector exposes the regime detector for collaborators that feed external
// observations (market-data loaders, harnesses).
func (e *AdaptiveEngine) Detector() *regime.Detector { return e.detector }

// Book exposes the underlying order book for read-only collaborators.
func (e *AdaptiveEngine) Book() *book.OrderBook { return e.book }

// Snapshot returns the ordered view of the current book.
func (e *AdaptiveEngine) Snapshot() book.Snapshot { return e.book.Snapshot() }

// Statistics returns a copy of the engine's cumulative counters, including
// the number of sustained regime changes and the final regime.
func (e *AdaptiveEngine) Statistics() Statistics {
	s := e.stats
	s.FinalRegime = e.detector.Active()
	return s
}

// RemoveExpired purges resting GTD orders past their expiry.
func (e *AdaptiveEngine) RemoveExpired(now time.Time) int {
	return len(e.book.RemoveExpired(now))
}
