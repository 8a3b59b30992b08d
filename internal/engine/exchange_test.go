package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvex/matchcore/internal/book"
)

// newContinuousEngine returns an engine trading continuously around an 18000
// reference with default NIFTY-like protections.
func newContinuousEngine(t *testing.T) *ExchangeEngine {
	t.Helper()
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))
	require.NoError(t, e.SetTradingPhase(PhaseContinuous))
	return e
}

func TestPriceBandRejection(t *testing.T) {
	e := newContinuousEngine(t)

	// 20% band around 18000: [14400, 21600].
	_, err := e.Process(limit(book.SideBuy, "14000", "10"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.Process(limit(book.SideBuy, "14400", "10"))
	assert.NoError(t, err, "band boundaries are inclusive")

	_, err = e.Process(limit(book.SideSell, "21600", "10"))
	assert.NoError(t, err)

	_, err = e.Process(limit(book.SideSell, "21600.05", "10"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTickNormalization(t *testing.T) {
	e := newContinuousEngine(t)

	o := limit(book.SideBuy, "18000.03", "10")
	_, err := e.Process(o)
	require.NoError(t, err)
	assert.True(t, o.Price.Equal(d("18000.05")), "price snaps to the nearest tick, got %s", o.Price)

	s := e.Snapshot()
	require.Len(t, s.Bids, 1)
	assert.True(t, s.Bids[0].Price.Equal(d("18000.05")))

	o = limit(book.SideBuy, "18000.02", "10")
	_, err = e.Process(o)
	require.NoError(t, err)
	assert.True(t, o.Price.Equal(d("18000")))
}

func TestCircuitBreakerHaltsTrading(t *testing.T) {
	e := newContinuousEngine(t)

	// 19900 is inside the 20% band but a fill there moves >10% from reference.
	_, err := e.Process(limit(book.SideSell, "19900", "10"))
	require.NoError(t, err)

	trades, err := e.Process(limit(book.SideBuy, "19900", "10"))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, PhaseHalted, e.Phase())
	assert.Equal(t, int64(1), e.Statistics().CircuitBreakerHits)

	_, err = e.Process(limit(book.SideBuy, "18000", "10"))
	assert.ErrorIs(t, err, ErrPhaseRejected)

	e.ResumeFromHalt()
	assert.Equal(t, PhaseContinuous, e.Phase())
	_, err = e.Process(limit(book.SideBuy, "18000", "10"))
	assert.NoError(t, err)
}

func TestHaltStopsMatchingMidSweep(t *testing.T) {
	e := newContinuousEngine(t)

	_, err := e.Process(limit(book.SideSell, "19000", "10"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideSell, "19900", "10"))
	require.NoError(t, err)

	trades, err := e.Process(limit(book.SideBuy, "19900", "30"))
	require.NoError(t, err)
	require.Len(t, trades, 2, "the halting trade completes, then matching stops")
	assert.True(t, trades[0].Price.Equal(d("19000")))
	assert.True(t, trades[1].Price.Equal(d("19900")))
	assert.Equal(t, PhaseHalted, e.Phase())
	assert.Equal(t, 0, e.Book().Len(book.SideBuy), "a halted taker's remainder does not rest")
}

func TestPhaseTransitions(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	assert.Equal(t, PhasePreOpen, e.Phase())

	err := e.SetTradingPhase(PhaseHalted)
	assert.Error(t, err, "halt is owned by the circuit breaker")

	require.NoError(t, e.SetTradingPhase(PhaseOpening))
	require.NoError(t, e.SetTradingPhase(PhaseContinuous))
	require.NoError(t, e.SetTradingPhase(PhaseClosing))
	require.NoError(t, e.SetTradingPhase(PhasePostClose))
}

func TestAuctionPhaseOnlyAcceptsLimitOrders(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))

	trades, err := e.Process(limit(book.SideBuy, "18000", "10"))
	require.NoError(t, err)
	assert.Empty(t, trades, "pre-open orders queue without matching")
	assert.Equal(t, 0, e.Book().Len(book.SideBuy))

	_, err = e.Process(market(book.SideBuy, "10"))
	assert.ErrorIs(t, err, ErrPhaseRejected)

	_, err = e.Process(fok(book.SideBuy, "18000", "10"))
	assert.ErrorIs(t, err, ErrPhaseRejected)

	_, err = e.Process(stop(book.SideBuy, "18100", "18110", "10"))
	assert.ErrorIs(t, err, ErrPhaseRejected)
}

func TestPostCloseRejectsEverything(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))
	require.NoError(t, e.SetTradingPhase(PhasePostClose))

	_, err := e.Process(limit(book.SideBuy, "18000", "10"))
	assert.ErrorIs(t, err, ErrPhaseRejected)
}

func TestBuyStopTriggersOnTrade(t *testing.T) {
	e := newContinuousEngine(t)

	_, err := e.Process(limit(book.SideSell, "18000", "150"))
	require.NoError(t, err)

	s := stop(book.SideBuy, "18000", "18010", "50")
	trades, err := e.Process(s)
	require.NoError(t, err)
	assert.Empty(t, trades, "no last trade yet, the stop parks")
	assert.Equal(t, 1, e.Statistics().PendingStops)

	// The trade at 18000 reaches the stop price and fires the parked stop.
	trades, err = e.Process(limit(book.SideBuy, "18000", "50"))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].Quantity.Equal(d("50")))
	assert.Equal(t, s.ID, trades[1].TakerID)
	assert.True(t, trades[1].Price.Equal(d("18000")))
	assert.Equal(t, 0, e.Statistics().PendingStops)
}

func TestSellStopMarketTriggers(t *testing.T) {
	e := newContinuousEngine(t)

	_, err := e.Process(limit(book.SideBuy, "17900", "100"))
	require.NoError(t, err)

	s := stop(book.SideSell, "17900", "0", "50")
	_, err = e.Process(s)
	require.NoError(t, err)
	require.Equal(t, 1, e.Statistics().PendingStops)

	trades, err := e.Process(limit(book.SideSell, "17900", "60"))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[1].Quantity.Equal(d("40")), "stop-market takes whatever liquidity remains")
	assert.Equal(t, 0, e.Book().Len(book.SideBuy))
	assert.Equal(t, 0, e.Book().Len(book.SideSell), "unfilled market remainder is discarded")
}

func TestStopAlreadyTriggeredOnArrival(t *testing.T) {
	e := newContinuousEngine(t)

	_, err := e.Process(limit(book.SideSell, "18000", "10"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideBuy, "18000", "10"))
	require.NoError(t, err)

	// Last trade 18000 already satisfies the trigger; the stop goes live
	// immediately and rests as a limit order.
	s := stop(book.SideBuy, "17900", "18010", "10")
	trades, err := e.Process(s)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 0, e.Statistics().PendingStops)
	assert.True(t, e.Book().Contains(s.ID))
	assert.Equal(t, book.TypeLimit, s.Type)
}

func TestStopCascade(t *testing.T) {
	e := newContinuousEngine(t)

	_, err := e.Process(limit(book.SideSell, "18100", "10"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideSell, "18200", "10"))
	require.NoError(t, err)

	s1 := stop(book.SideBuy, "18100", "18200", "10")
	_, err = e.Process(s1)
	require.NoError(t, err)
	s2 := stop(book.SideBuy, "18200", "18300", "10")
	_, err = e.Process(s2)
	require.NoError(t, err)

	// One trade at 18100 fires s1, whose fill at 18200 fires s2 in turn.
	trades, err := e.Process(limit(book.SideBuy, "18100", "10"))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].Price.Equal(d("18100")))
	assert.True(t, trades[1].Price.Equal(d("18200")))
	assert.Equal(t, s1.ID, trades[1].TakerID)

	// s2 found no liquidity and rests as a live limit order.
	assert.Equal(t, 0, e.Statistics().PendingStops)
	assert.True(t, e.Book().Contains(s2.ID))
}

func TestFOKLeavesBookUntouchedOnReject(t *testing.T) {
	e := newContinuousEngine(t)

	_, err := e.Process(limit(book.SideSell, "18000", "50"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideBuy, "17990", "20"))
	require.NoError(t, err)

	before := e.Snapshot()
	_, err = e.Process(fok(book.SideBuy, "18000", "80"))
	require.ErrorIs(t, err, ErrLiquidity)
	after := e.Snapshot()

	assert.Equal(t, before.Bids, after.Bids)
	assert.Equal(t, before.Asks, after.Asks)
}

func TestFOKAgainstIcebergCountsVisibleOnly(t *testing.T) {
	e := newContinuousEngine(t)

	_, err := e.Process(iceberg(book.SideSell, "18000", "500", "50"))
	require.NoError(t, err)

	// 450 hidden units exist, but only the 50 visible count for the check.
	_, err = e.Process(fok(book.SideBuy, "18000", "80"))
	assert.ErrorIs(t, err, ErrLiquidity)

	trades, err := e.Process(fok(book.SideBuy, "18000", "50"))
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestCancelAcrossContainers(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))

	queued := limit(book.SideBuy, "18000", "10")
	_, err := e.Process(queued)
	require.NoError(t, err)

	require.NoError(t, e.SetTradingPhase(PhaseContinuous))

	resting := limit(book.SideBuy, "17990", "10")
	_, err = e.Process(resting)
	require.NoError(t, err)

	parked := stop(book.SideBuy, "18100", "18110", "10")
	_, err = e.Process(parked)
	require.NoError(t, err)

	assert.True(t, e.Cancel(resting.ID))
	assert.True(t, e.Cancel(parked.ID))
	assert.False(t, e.Cancel(parked.ID))
	assert.True(t, e.Cancel(queued.ID), "still queued from pre-open")
	assert.Equal(t, 0, e.Statistics().PendingStops)
}

func TestCancelQueuedAuctionOrder(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))

	queued := limit(book.SideBuy, "18000", "10")
	_, err := e.Process(queued)
	require.NoError(t, err)

	assert.True(t, e.Cancel(queued.ID))
	assert.False(t, e.Cancel(queued.ID))
}

func TestRemoveExpiredAcrossContainers(t *testing.T) {
	e := newContinuousEngine(t)
	now := time.Now()

	_, err := e.Process(gtd(limit(book.SideBuy, "17990", "10"), now.Add(time.Minute)))
	require.NoError(t, err)
	_, err = e.Process(gtd(stop(book.SideBuy, "18100", "18110", "10"), now.Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, 0, e.RemoveExpired(now))

	later := now.Add(2 * time.Minute)
	assert.Equal(t, 2, e.RemoveExpired(later))
	assert.Equal(t, 0, e.Book().Len(book.SideBuy))
	assert.Equal(t, 0, e.Statistics().PendingStops)
}
