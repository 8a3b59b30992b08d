package engine

import (
	"github.com/shopspring/decimal"

	"github.com/finvex/matchcore/internal/book"
)

// matchIncoming runs the continuous matching loop for one incoming order
// against the opposite side of b. Price is the primary key; ord selects
// within the best level (nil means FIFO). Every trade executes at the resting
// order's price. onTrade, when non-nil, is invoked per trade and may stop the
// loop by returning false (circuit breaker). nextSeq supplies fresh arrival
// sequences for iceberg slice refreshes, which lose their time priority.
func matchIncoming(b *book.OrderBook, taker *book.Order, ord book.LevelOrdering, nextSeq func() int64, onTrade func(*book.Trade) bool) []*book.Trade {
	var trades []*book.Trade
	opposite := book.Opposite(taker.Side)

	for taker.Remaining().IsPositive() {
		maker, ok := b.Top(opposite, ord)
		if !ok {
			break
		}
		if taker.Type != book.TypeMarket {
			if taker.Side == book.SideBuy && maker.Price.GreaterThan(taker.Price) {
				break
			}
			if taker.Side == book.SideSell && maker.Price.LessThan(taker.Price) {
				break
			}
		}

		qty := decimal.Min(taker.Remaining(), maker.Visible())
		trade := book.NewTrade(maker, taker, maker.Price, qty)
		taker.Fill(qty)
		if b.ExecuteFill(maker.ID, qty) == book.FillSliceExhausted {
			maker.RefreshSlice(nextSeq())
			b.Insert(maker)
		}
		trades = append(trades, trade)

		if onTrade != nil && !onTrade(trade) {
			break
		}
	}
	return trades
}

// canRest reports whether an unfilled remainder may rest in the book.
func canRest(o *book.Order) bool {
	if o.Validity == book.ValidityIOC {
		return false
	}
	return o.Type == book.TypeLimit || o.Type == book.TypeIceberg
}
