package engine

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finvex/matchcore/internal/book"
	"github.com/finvex/matchcore/pkg/metrics"
)

// auctionEntry pairs a participating order with whether it is resting in the
// book (fills on resting orders must go through the book) or queued.
type auctionEntry struct {
	order   *book.Order
	resting bool
}

// ExecuteCallAuction computes the equilibrium price over all queued and
// resting orders, executes every matchable order at that single price in
// arrival order, transfers unmatched queued residuals into the book, and
// advances the phase (Closing auctions close the market, every other auction
// opens continuous trading).
//
// The equilibrium is the candidate price maximizing tradeable volume
// (min of cumulative buy volume at or above the candidate and cumulative sell
// volume at or below it); ties break first by proximity to the reference
// price, then by the lower price. Given identical inputs the result is
// deterministic.
func (e *ExchangeEngine) ExecuteCallAuction() []*book.Trade {
	buys, sells := e.auctionParticipants()

	eq, volume := findEquilibrium(buys, sells, e.referencePrice)

	wasClosing := e.phase == PhaseClosing
	var trades []*book.Trade
	if volume.IsPositive() {
		trades = e.executeAuctionAt(eq, buys, sells)
		e.lastTradePrice = eq
		if !wasClosing {
			if e.openingPrice.IsZero() {
				e.openingPrice = eq
			}
			if e.referencePrice.IsZero() {
				e.referencePrice = eq
				e.updateBands()
			}
		}
		vol, _ := volume.Float64()
		metrics.AuctionVolume.Add(vol)
	}

	// Unmatched queued residuals transfer into the continuous book.
	for _, entry := range e.auctionQueue {
		if _, live := e.auctionByID[entry.ID]; !live {
			continue // cancelled while queued
		}
		if entry.Remaining().IsPositive() {
			e.book.Insert(entry)
		}
	}
	e.auctionQueue = e.auctionQueue[:0]
	e.auctionByID = make(map[uuid.UUID]*book.Order)

	if wasClosing {
		e.phase = PhasePostClose
	} else {
		e.phase = PhaseContinuous
	}

	e.logger.Info("call auction executed",
		zap.String("equilibrium_price", eq.String()),
		zap.String("volume", volume.String()),
		zap.Int("trades", len(trades)),
		zap.String("phase", string(e.phase)))
	return trades
}

// auctionParticipants gathers queued and resting orders per side, in
// arrival order.
func (e *ExchangeEngine) auctionParticipants() (buys, sells []auctionEntry) {
	for _, o := range e.auctionQueue {
		if _, live := e.auctionByID[o.ID]; !live {
			continue
		}
		if o.Side == book.SideBuy {
			buys = append(buys, auctionEntry{order: o})
		} else {
			sells = append(sells, auctionEntry{order: o})
		}
	}
	for _, o := range e.book.Resting(book.SideBuy) {
		buys = append(buys, auctionEntry{order: o, resting: true})
	}
	for _, o := range e.book.Resting(book.SideSell) {
		sells = append(sells, auctionEntry{order: o, resting: true})
	}
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].order.ArrivalSeq < buys[j].order.ArrivalSeq
	})
	sort.SliceStable(sells, func(i, j int) bool {
		return sells[i].order.ArrivalSeq < sells[j].order.ArrivalSeq
	})
	return buys, sells
}

// findEquilibrium returns the volume-maximizing candidate price and its
// tradeable volume. Zero volume means no cross.
func findEquilibrium(buys, sells []auctionEntry, reference decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	seen := make(map[string]struct{})
	var candidates []decimal.Decimal
	for _, entry := range append(append([]auctionEntry{}, buys...), sells...) {
		key := entry.order.Price.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, entry.order.Price)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LessThan(candidates[j])
	})

	best := decimal.Zero
	bestVolume := decimal.Zero
	for _, p := range candidates {
		buyVolume := decimal.Zero
		for _, entry := range buys {
			if entry.order.Price.GreaterThanOrEqual(p) {
				buyVolume = buyVolume.Add(entry.order.Remaining())
			}
		}
		sellVolume := decimal.Zero
		for _, entry := range sells {
			if entry.order.Price.LessThanOrEqual(p) {
				sellVolume = sellVolume.Add(entry.order.Remaining())
			}
		}
		tradeable := decimal.Min(buyVolume, sellVolume)

		switch tradeable.Cmp(bestVolume) {
		case 1:
			best, bestVolume = p, tradeable
		case 0:
			// Tie: prefer proximity to reference; candidates ascend, so the
			// incumbent already is the lower price when distances tie too.
			if tradeable.IsPositive() && reference.IsPositive() &&
				p.Sub(reference).Abs().LessThan(best.Sub(reference).Abs()) {
				best = p
			}
		}
	}
	return best, bestVolume
}

// executeAuctionAt matches all eligible orders at the equilibrium price in
// arrival-time order. Fills on resting orders go through the book so level
// aggregates and the id index stay consistent.
func (e *ExchangeEngine) executeAuctionAt(eq decimal.Decimal, buys, sells []auctionEntry) []*book.Trade {
	var trades []*book.Trade
	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) {
		buy := buys[bi]
		sell := sells[si]
		if buy.order.Price.LessThan(eq) || buy.order.Remaining().IsZero() {
			bi++
			continue
		}
		if sell.order.Price.GreaterThan(eq) || sell.order.Remaining().IsZero() {
			si++
			continue
		}

		qty := decimal.Min(buy.order.Remaining(), sell.order.Remaining())
		maker, taker := buy.order, sell.order
		if sell.order.ArrivalSeq < buy.order.ArrivalSeq {
			maker, taker = sell.order, buy.order
		}
		t := book.NewTrade(maker, taker, eq, qty)
		e.applyAuctionFill(buy, qty)
		e.applyAuctionFill(sell, qty)
		trades = append(trades, t)
		e.stats.TotalTrades++
		metrics.TradesExecuted.Inc()

		if buy.order.Remaining().IsZero() {
			bi++
		}
		if sell.order.Remaining().IsZero() {
			si++
		}
	}
	return trades
}

func (e *ExchangeEngine) applyAuctionFill(entry auctionEntry, qty decimal.Decimal) {
	if !entry.resting {
		entry.order.Fill(qty)
		return
	}
	if e.book.ExecuteFill(entry.order.ID, qty) == book.FillSliceExhausted {
		entry.order.RefreshSlice(e.nextSeq())
		e.book.Insert(entry.order)
	}
}
