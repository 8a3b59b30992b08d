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

// Phase is the engine-wide trading phase. Normal operation moves forward
// through PreOpen, Opening, Continuous, Closing, PostClose; Halted is entered
// only by a circuit breaker and left only by ResumeFromHalt.
type Phase string

const (
	PhasePreOpen    Phase = "PRE_OPEN"
	PhaseOpening    Phase = "OPENING"
	PhaseContinuous Phase = "CONTINUOUS"
	PhaseClosing    Phase = "CLOSING"
	PhasePostClose  Phase = "POST_CLOSE"
	PhaseHalted     Phase = "HALTED"
)

// ExchangeConfig configures the protective engine at construction.
// Percentages are whole figures: CircuitBreakerPct 10 means a 10% move halts.
type ExchangeConfig struct {
	Symbol            string
	TickSize          decimal.Decimal
	CircuitBreakerPct decimal.Decimal
	PriceBandPct      decimal.Decimal
}

// DefaultExchangeConfig returns NIFTY-like defaults: 0.05 tick, 10% breaker,
// 20% band.
func DefaultExchangeConfig() ExchangeConfig {
	return ExchangeConfig{
		Symbol:            "NIFTY",
		TickSize:          decimal.NewFromFloat(0.05),
		CircuitBreakerPct: decimal.NewFromInt(10),
		PriceBandPct:      decimal.NewFromInt(20),
	}
}

// ExchangeEngine layers a trading-phase state machine and protective checks
// over the order book: call auctions, price bands, tick normalization,
// circuit breakers, stop triggering, iceberg disclosure and fill-or-kill.
type ExchangeEngine struct {
	cfg    ExchangeConfig
	logger *zap.Logger
	book   *book.OrderBook

	phase          Phase
	referencePrice decimal.Decimal
	lastTradePrice decimal.Decimal
	openingPrice   decimal.Decimal
	upperBand      decimal.Decimal
	lowerBand      decimal.Decimal

	auctionQueue []*book.Order
	auctionByID  map[uuid.UUID]*book.Order
	pendingStops map[uuid.UUID]*book.Order

	seq   int64
	stats Statistics
}

// NewExchangeEngine builds a protective engine starting in PreOpen.
func NewExchangeEngine(cfg ExchangeConfig, logger *zap.Logger) *ExchangeEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("symbol", cfg.Symbol))
	return &ExchangeEngine{
		cfg:          cfg,
		logger:       logger,
		book:         book.NewOrderBook(logger),
		phase:        PhasePreOpen,
		auctionByID:  make(map[uuid.UUID]*book.Order),
		pendingStops: make(map[uuid.UUID]*book.Order),
	}
}

func (e *ExchangeEngine) nextSeq() int64 {
	e.seq++
	return e.seq
}

// Phase returns the current trading phase.
func (e *ExchangeEngine) Phase() Phase { return e.phase }

// SetReferencePrice sets the reference (previous close) used by the price
// band and the circuit breaker, and recomputes the band envelope.
func (e *ExchangeEngine) SetReferencePrice(price decimal.Decimal) {
	e.referencePrice = price
	e.updateBands()
	e.logger.Info("reference price set",
		zap.String("price", price.String()),
		zap.String("lower_band", e.lowerBand.String()),
		zap.String("upper_band", e.upperBand.String()))
}

func (e *ExchangeEngine) updateBands() {
	if e.referencePrice.IsPositive() && e.cfg.PriceBandPct.IsPositive() {
		offset := e.referencePrice.Mul(bandPct(e.cfg.PriceBandPct))
		e.upperBand = e.referencePrice.Add(offset)
		e.lowerBand = e.referencePrice.Sub(offset)
	}
}

// SetTradingPhase transitions to a new phase. The Halted phase is owned by
// the circuit breaker: it cannot be entered here, and once halted only
// ResumeFromHalt leaves it. Entering an auction phase resets the collection
// queue.
func (e *ExchangeEngine) SetTradingPhase(phase Phase) error {
	if phase == PhaseHalted {
		return fmt.Errorf("halt is triggered by the circuit breaker, not set directly")
	}
	if e.phase == PhaseHalted {
		return fmt.Errorf("trading is halted; call ResumeFromHalt first")
	}
	prev := e.phase
	e.phase = phase
	if phase == PhasePreOpen || phase == PhaseClosing {
		e.auctionQueue = e.auctionQueue[:0]
		e.auctionByID = make(map[uuid.UUID]*book.Order)
	}
	e.logger.Info("trading phase changed",
		zap.String("from", string(prev)), zap.String("to", string(phase)))
	return nil
}

// ResumeFromHalt returns to continuous trading after a circuit-breaker halt.
func (e *ExchangeEngine) ResumeFromHalt() {
	if e.phase != PhaseHalted {
		return
	}
	e.phase = PhaseContinuous
	e.logger.Info("trading resumed after halt")
}

// Process validates the order against tick, band and phase rules, then either
// queues it (auction phases) or matches it immediately (continuous).
func (e *ExchangeEngine) Process(o *book.Order) ([]*book.Trade, error) {
	start := time.Now()
	if err := o.Validate(); err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if o.IsExpired(start) {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: order already expired", ErrValidation)
	}

	e.normalizeTick(o)
	if err := e.checkBand(o); err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	switch e.phase {
	case PhaseHalted:
		metrics.OrdersRejected.WithLabelValues("phase").Inc()
		return nil, fmt.Errorf("%w: trading is halted", ErrPhaseRejected)
	case PhasePostClose:
		metrics.OrdersRejected.WithLabelValues("phase").Inc()
		return nil, fmt.Errorf("%w: market is closed", ErrPhaseRejected)
	case PhasePreOpen, PhaseOpening, PhaseClosing:
		if o.Type != book.TypeLimit {
			metrics.OrdersRejected.WithLabelValues("phase").Inc()
			return nil, fmt.Errorf("%w: only limit orders join the %s auction", ErrPhaseRejected, e.phase)
		}
		o.ArrivalSeq = e.nextSeq()
		e.stats.TotalOrders++
		metrics.OrdersProcessed.WithLabelValues(o.Side).Inc()
		e.auctionQueue = append(e.auctionQueue, o)
		e.auctionByID[o.ID] = o
		return nil, nil
	}

	o.ArrivalSeq = e.nextSeq()
	e.stats.TotalOrders++
	metrics.OrdersProcessed.WithLabelValues(o.Side).Inc()

	var trades []*book.Trade
	var err error
	switch o.Type {
	case book.TypeStopLoss, book.TypeStopLossMarket:
		trades, err = e.handleStop(o)
	case book.TypeFOK:
		trades, err = e.handleFOK(o)
	default:
		trades = e.matchContinuous(o)
	}
	if err != nil {
		return nil, err
	}

	// A trade can move the market through stop triggers; triggered stops
	// re-enter through the same continuous path.
	if e.phase == PhaseContinuous && len(trades) > 0 {
		trades = append(trades, e.fireTriggeredStops()...)
	}

	metrics.OrderLatency.Observe(time.Since(start).Seconds())
	return trades, nil
}

// normalizeTick rounds priced fields to the configured grid.
func (e *ExchangeEngine) normalizeTick(o *book.Order) {
	if !e.cfg.TickSize.IsPositive() {
		return
	}
	if o.Price.IsPositive() {
		o.Price = roundToTick(o.Price, e.cfg.TickSize)
	}
	if o.StopPrice.IsPositive() {
		o.StopPrice = roundToTick(o.StopPrice, e.cfg.TickSize)
	}
}

func roundToTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Round(0).Mul(tick)
}

// checkBand rejects priced orders outside the reference envelope.
func (e *ExchangeEngine) checkBand(o *book.Order) error {
	if e.upperBand.IsZero() || !o.Price.IsPositive() {
		return nil
	}
	if o.Price.LessThan(e.lowerBand) || o.Price.GreaterThan(e.upperBand) {
		return fmt.Errorf("%w: price %s outside band [%s, %s]",
			ErrValidation, o.Price, e.lowerBand, e.upperBand)
	}
	return nil
}

// matchContinuous runs price-time matching with per-trade circuit-breaker
// checks and rests any eligible remainder.
func (e *ExchangeEngine) matchContinuous(o *book.Order) []*book.Trade {
	trades := matchIncoming(e.book, o, nil, e.nextSeq, e.onContinuousTrade)
	if o.Remaining().IsPositive() && canRest(o) && e.phase == PhaseContinuous {
		e.book.Insert(o)
	}
	return trades
}

// onContinuousTrade updates trade state and halts matching when the price
// moves beyond the circuit-breaker threshold from the reference.
func (e *ExchangeEngine) onContinuousTrade(t *book.Trade) bool {
	e.stats.TotalTrades++
	e.lastTradePrice = t.Price
	metrics.TradesExecuted.Inc()
	return !e.tripCircuitBreaker(t.Price)
}

func (e *ExchangeEngine) tripCircuitBreaker(price decimal.Decimal) bool {
	if !e.referencePrice.IsPositive() || !e.cfg.CircuitBreakerPct.IsPositive() {
		return false
	}
	move := price.Sub(e.referencePrice).Abs().Div(e.referencePrice)
	if move.LessThan(bandPct(e.cfg.CircuitBreakerPct)) {
		return false
	}
	e.phase = PhaseHalted
	e.stats.CircuitBreakerHits++
	metrics.CircuitBreakerHalts.Inc()
	e.logger.Warn("circuit breaker tripped",
		zap.String("trade_price", price.String()),
		zap.String("reference_price", e.referencePrice.String()),
		zap.String("move_pct", move.Mul(decimal.NewFromInt(100)).StringFixed(2)))
	return true
}

// handleStop parks a stop order until its trigger condition is met, or fires
// it immediately when the last trade already satisfies the trigger.
func (e *ExchangeEngine) handleStop(o *book.Order) ([]*book.Trade, error) {
	if e.stopTriggered(o) {
		converted := convertStop(o)
		e.logger.Debug("stop order triggered on arrival",
			zap.String("order_id", o.ID.String()),
			zap.String("stop_price", o.StopPrice.String()))
		return e.matchContinuous(converted), nil
	}
	e.pendingStops[o.ID] = o
	return nil, nil
}

// stopTriggered: a buy stop fires at or above its stop price, a sell stop at
// or below.
func (e *ExchangeEngine) stopTriggered(o *book.Order) bool {
	if !e.lastTradePrice.IsPositive() {
		return false
	}
	if o.Side == book.SideBuy {
		return e.lastTradePrice.GreaterThanOrEqual(o.StopPrice)
	}
	return e.lastTradePrice.LessThanOrEqual(o.StopPrice)
}

// convertStop turns a triggered stop into the live order it resubmits as:
// stop-loss becomes a limit at its original limit price, stop-loss-market
// becomes a market order.
func convertStop(o *book.Order) *book.Order {
	if o.Type == book.TypeStopLossMarket {
		o.Type = book.TypeMarket
		o.Price = decimal.Zero
	} else {
		o.Type = book.TypeLimit
	}
	return o
}

// fireTriggeredStops drains the pending set repeatedly: a triggered stop's
// own trades can move the price and trigger further stops. Halting stops the
// cascade.
func (e *ExchangeEngine) fireTriggeredStops() []*book.Trade {
	var trades []*book.Trade
	for e.phase == PhaseContinuous {
		var triggered []*book.Order
		for id, o := range e.pendingStops {
			if e.stopTriggered(o) {
				triggered = append(triggered, o)
				delete(e.pendingStops, id)
			}
		}
		if len(triggered) == 0 {
			return trades
		}
		// Fire in arrival order so cascades stay deterministic.
		sortByArrival(triggered)
		for _, o := range triggered {
			if e.phase != PhaseContinuous {
				// Halted mid-cascade: the stop stays converted but unprocessed
				// orders return to the pending set.
				e.pendingStops[o.ID] = o
				continue
			}
			trades = append(trades, e.matchContinuous(convertStop(o))...)
		}
	}
	return trades
}

func sortByArrival(orders []*book.Order) {
	for i := 1; i < len(orders); i++ {
		for j := i; j > 0 && orders[j].ArrivalSeq < orders[j-1].ArrivalSeq; j-- {
			orders[j], orders[j-1] = orders[j-1], orders[j]
		}
	}
}

// handleFOK simulates the fill against visible opposing liquidity before
// touching the book; an unfillable order is rejected with zero mutation.
func (e *ExchangeEngine) handleFOK(o *book.Order) ([]*book.Trade, error) {
	available := e.book.AvailableVolume(book.Opposite(o.Side), o.Price)
	if available.LessThan(o.Quantity) {
		metrics.OrdersRejected.WithLabelValues("liquidity").Inc()
		return nil, fmt.Errorf("%w: need %s, available %s", ErrLiquidity, o.Quantity, available)
	}
	return e.matchContinuous(o), nil
}

// Cancel removes an order wherever it currently lives: the book, the auction
// queue, or the pending stop set. False means the id is unknown; repeated
// cancellation is a no-op.
func (e *ExchangeEngine) Cancel(id uuid.UUID) bool {
	if e.book.Cancel(id) {
		return true
	}
	if _, ok := e.auctionByID[id]; ok {
		delete(e.auctionByID, id)
		return true
	}
	if _, ok := e.pendingStops[id]; ok {
		delete(e.pendingStops, id)
		return true
	}
	return false
}

// RemoveExpired purges expired GTD orders from the book, the auction queue
// and the pending stop set.
func (e *ExchangeEngine) RemoveExpired(now time.Time) int {
	removed := len(e.book.RemoveExpired(now))
	for id, o := range e.auctionByID {
		if o.IsExpired(now) {
			delete(e.auctionByID, id)
			removed++
		}
	}
	for id, o := range e.pendingStops {
		if o.IsExpired(now) {
			delete(e.pendingStops, id)
			removed++
		}
	}
	return removed
}

// Book exposes the underlying order book for read-only collaborators.
func (e *ExchangeEngine) Book() *book.OrderBook { return e.book }

// Snapshot returns the ordered view of the current book.
func (e *ExchangeEngine) Snapshot() book.Snapshot { return e.book.Snapshot() }

// Statistics returns a copy of the engine's cumulative state.
func (e *ExchangeEngine) Statistics() Statistics {
	s := e.stats
	s.OpeningPrice = e.openingPrice
	s.LastTradePrice = e.lastTradePrice
	s.ReferencePrice = e.referencePrice
	s.PendingStops = len(e.pendingStops)
	s.Phase = e.phase
	return s
}
