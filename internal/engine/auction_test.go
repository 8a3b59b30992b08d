package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvex/matchcore/internal/book"
)

func TestOpeningAuctionEquilibrium(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))

	buy := limit(book.SideBuy, "18010", "100")
	sell := limit(book.SideSell, "17990", "80")
	_, err := e.Process(buy)
	require.NoError(t, err)
	_, err = e.Process(sell)
	require.NoError(t, err)

	trades := e.ExecuteCallAuction()
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("17990")))
	assert.True(t, trades[0].Quantity.Equal(d("80")))
	assert.Equal(t, buy.ID, trades[0].MakerID, "earlier arrival is the maker")

	assert.Equal(t, PhaseContinuous, e.Phase())
	stats := e.Statistics()
	assert.True(t, stats.OpeningPrice.Equal(d("17990")))
	assert.True(t, stats.LastTradePrice.Equal(d("17990")))

	// The unmatched buy residual transfers to the continuous book.
	assert.Equal(t, 1, e.Book().Len(book.SideBuy))
	assert.True(t, buy.Remaining().Equal(d("20")))
}

func TestAuctionMaximizesTradeableVolume(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))

	for _, o := range []*book.Order{
		limit(book.SideBuy, "18010", "100"),
		limit(book.SideBuy, "18000", "50"),
		limit(book.SideSell, "17990", "60"),
		limit(book.SideSell, "18005", "80"),
	} {
		_, err := e.Process(o)
		require.NoError(t, err)
	}

	trades := e.ExecuteCallAuction()
	require.Len(t, trades, 2)

	// 18005 clears 100 units; every lower candidate clears only 60.
	total := d("0")
	for _, tr := range trades {
		assert.True(t, tr.Price.Equal(d("18005")))
		total = total.Add(tr.Quantity)
	}
	assert.True(t, total.Equal(d("100")))

	// Ineligible and partially filled residuals carry into the book.
	s := e.Snapshot()
	require.Len(t, s.Bids, 1)
	assert.True(t, s.Bids[0].Price.Equal(d("18000")))
	require.Len(t, s.Asks, 1)
	assert.True(t, s.Asks[0].Price.Equal(d("18005")))
	assert.True(t, s.Asks[0].Volume.Equal(d("40")))
}

func TestAuctionTieBreaksTowardReference(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18008"))

	_, err := e.Process(limit(book.SideBuy, "18010", "100"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideSell, "17990", "80"))
	require.NoError(t, err)

	// 17990 and 18010 both clear 80; 18010 sits closer to the reference.
	trades := e.ExecuteCallAuction()
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("18010")))
}

func TestAuctionTieBreaksToLowerPrice(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))

	_, err := e.Process(limit(book.SideBuy, "18010", "100"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideSell, "17990", "80"))
	require.NoError(t, err)

	// Equal distance from the reference on both candidates: lower price wins.
	trades := e.ExecuteCallAuction()
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("17990")))
}

func TestAuctionWithoutCross(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))

	_, err := e.Process(limit(book.SideBuy, "17900", "10"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideSell, "18100", "10"))
	require.NoError(t, err)

	trades := e.ExecuteCallAuction()
	assert.Empty(t, trades)
	assert.Equal(t, PhaseContinuous, e.Phase())
	assert.True(t, e.Statistics().OpeningPrice.IsZero(), "no opening price without an auction trade")

	// Both orders transfer to the book untraded.
	assert.Equal(t, 1, e.Book().Len(book.SideBuy))
	assert.Equal(t, 1, e.Book().Len(book.SideSell))
}

func TestAuctionIsDeterministic(t *testing.T) {
	run := func() (string, string, int) {
		e := NewExchangeEngine(DefaultExchangeConfig(), nil)
		e.SetReferencePrice(d("18000"))
		for _, o := range []*book.Order{
			limit(book.SideBuy, "18020", "70"),
			limit(book.SideSell, "17980", "30"),
			limit(book.SideBuy, "18000", "40"),
			limit(book.SideSell, "18010", "90"),
		} {
			_, err := e.Process(o)
			require.NoError(t, err)
		}
		trades := e.ExecuteCallAuction()
		stats := e.Statistics()
		return stats.OpeningPrice.String(), stats.LastTradePrice.String(), len(trades)
	}

	open1, last1, n1 := run()
	open2, last2, n2 := run()
	assert.Equal(t, open1, open2)
	assert.Equal(t, last1, last2)
	assert.Equal(t, n1, n2)
}

func TestClosingAuctionClosesMarket(t *testing.T) {
	e := newContinuousEngine(t)

	require.NoError(t, e.SetTradingPhase(PhaseClosing))
	_, err := e.Process(limit(book.SideBuy, "18000", "10"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideSell, "18000", "10"))
	require.NoError(t, err)

	trades := e.ExecuteCallAuction()
	require.Len(t, trades, 1)
	assert.Equal(t, PhasePostClose, e.Phase())
	assert.True(t, e.Statistics().OpeningPrice.IsZero(), "a closing auction never sets the opening price")

	_, err = e.Process(limit(book.SideBuy, "18000", "10"))
	assert.ErrorIs(t, err, ErrPhaseRejected)
}

func TestAuctionIncludesRestingOrders(t *testing.T) {
	e := newContinuousEngine(t)

	rested := limit(book.SideSell, "17995", "80")
	_, err := e.Process(rested)
	require.NoError(t, err)

	require.NoError(t, e.SetTradingPhase(PhaseClosing))
	_, err = e.Process(limit(book.SideBuy, "18000", "80"))
	require.NoError(t, err)

	trades := e.ExecuteCallAuction()
	require.Len(t, trades, 1)
	assert.Equal(t, rested.ID, trades[0].SellOrderID)
	assert.True(t, trades[0].Price.Equal(d("18000")), "equilibrium closest to the reference")
	assert.Equal(t, 0, e.Book().Len(book.SideSell), "the resting order filled through the book")
}

func TestAuctionSetsReferenceWhenUnset(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)

	_, err := e.Process(limit(book.SideBuy, "18000", "100"))
	require.NoError(t, err)
	_, err = e.Process(limit(book.SideSell, "18000", "100"))
	require.NoError(t, err)

	trades := e.ExecuteCallAuction()
	require.Len(t, trades, 1)
	assert.True(t, e.Statistics().ReferencePrice.Equal(d("18000")))

	// The bands derive from the discovered reference: 20% around 18000.
	_, err = e.Process(limit(book.SideBuy, "14000", "10"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuctionSkipsCancelledOrders(t *testing.T) {
	e := NewExchangeEngine(DefaultExchangeConfig(), nil)
	e.SetReferencePrice(d("18000"))

	buy := limit(book.SideBuy, "18000", "50")
	cancelled := limit(book.SideSell, "18000", "50")
	_, err := e.Process(buy)
	require.NoError(t, err)
	_, err = e.Process(cancelled)
	require.NoError(t, err)

	require.True(t, e.Cancel(cancelled.ID))

	trades := e.ExecuteCallAuction()
	assert.Empty(t, trades, "a cancelled order never trades")
	assert.Equal(t, 1, e.Book().Len(book.SideBuy))
	assert.Equal(t, 0, e.Book().Len(book.SideSell))
}
