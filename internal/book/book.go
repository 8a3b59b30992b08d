package book

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// FillOutcome describes what happened to a resting order after a fill.
type FillOutcome int

const (
	// FillResting means the order keeps resting with reduced quantity.
	FillResting FillOutcome = iota
	// FillRemoved means the order was exhausted and left the book.
	FillRemoved
	// FillSliceExhausted means an iceberg's visible slice was consumed while
	// hidden quantity remains; the order left the book and the caller decides
	// when to re-insert a fresh slice.
	FillSliceExhausted
)

// OrderBook is a side-split, price-indexed container of resting orders with
// FIFO queues per price. Levels live in B-trees for O(log M) creation and
// removal; a global id index makes cancellation O(1). The book is not
// goroutine safe: a single owning engine serializes all access.
type OrderBook struct {
	bids   *btree.BTreeG[*PriceLevel]
	asks   *btree.BTreeG[*PriceLevel]
	index  map[uuid.UUID]*node
	logger *zap.Logger
}

func levelLess(a, b *PriceLevel) bool { return a.price.LessThan(b.price) }

// NewOrderBook builds an empty book.
func NewOrderBook(logger *zap.Logger) *OrderBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBook{
		bids:   btree.NewBTreeG(levelLess),
		asks:   btree.NewBTreeG(levelLess),
		index:  make(map[uuid.UUID]*node, 1024),
		logger: logger,
	}
}

func (b *OrderBook) tree(side string) *btree.BTreeG[*PriceLevel] {
	if side == SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert places an order at its side and price, creating the level on first
// use. Iceberg orders are exposed with a fresh visible slice if none is live.
func (b *OrderBook) Insert(o *Order) {
	if o.Type == TypeIceberg && o.visibleRemaining.IsZero() {
		o.visibleRemaining = decimal.Min(o.DisclosedQuantity, o.Remaining())
	}
	t := b.tree(o.Side)
	probe := &PriceLevel{price: o.Price}
	level, ok := t.Get(probe)
	if !ok {
		level = probe
		t.Set(level)
	}
	n := &node{order: o}
	level.pushBack(n)
	b.index[o.ID] = n
}

// Cancel removes a resting order by id. Unknown or already-removed ids return
// false; cancellation is idempotent and never a fault.
func (b *OrderBook) Cancel(id uuid.UUID) bool {
	n, ok := b.index[id]
	if !ok {
		return false
	}
	b.unlink(n)
	return true
}

func (b *OrderBook) unlink(n *node) {
	level := n.level
	level.remove(n)
	delete(b.index, n.order.ID)
	if level.empty() {
		b.tree(n.order.Side).Delete(level)
	}
}

// Contains reports whether the order id is resting in the book.
func (b *OrderBook) Contains(id uuid.UUID) bool {
	_, ok := b.index[id]
	return ok
}

// Get returns a resting order by id.
func (b *OrderBook) Get(id uuid.UUID) (*Order, bool) {
	n, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return n.order, true
}

// Best returns the top-of-book level for a side: highest bid or lowest ask.
func (b *OrderBook) Best(side string) (*PriceLevel, bool) {
	if side == SideBuy {
		return b.bids.Max()
	}
	return b.asks.Min()
}

// Top returns the next order to match on side under ord, without removing it.
func (b *OrderBook) Top(side string, ord LevelOrdering) (*Order, bool) {
	level, ok := b.Best(side)
	if !ok {
		return nil, false
	}
	n := level.first(ord)
	if n == nil {
		return nil, false
	}
	return n.order, true
}

// ExecuteFill applies a fill of qty to a resting order and reconciles the
// book: exhausted orders leave, exhausted iceberg slices leave pending
// re-insertion, everything else keeps its place with a reduced aggregate.
func (b *OrderBook) ExecuteFill(id uuid.UUID, qty decimal.Decimal) FillOutcome {
	n, ok := b.index[id]
	if !ok {
		return FillRemoved
	}
	n.order.Fill(qty)
	n.level.reduceVisible(qty)
	switch {
	case n.order.Remaining().IsZero():
		b.unlink(n)
		return FillRemoved
	case n.order.Visible().IsZero():
		b.unlink(n)
		return FillSliceExhausted
	default:
		return FillResting
	}
}

// AvailableVolume sums the visible quantity on side that an order constrained
// by limit could reach: for asks every level priced at or below limit, for
// bids every level priced at or above limit. A zero limit means unbounded
// (market order).
func (b *OrderBook) AvailableVolume(side string, limit decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	unbounded := limit.IsZero()
	if side == SideSell {
		b.asks.Scan(func(l *PriceLevel) bool {
			if !unbounded && l.price.GreaterThan(limit) {
				return false
			}
			total = total.Add(l.visible)
			return true
		})
		return total
	}
	b.bids.Reverse(func(l *PriceLevel) bool {
		if !unbounded && l.price.LessThan(limit) {
			return false
		}
		total = total.Add(l.visible)
		return true
	})
	return total
}

// Resting returns every resting order on side, best price first and FIFO
// within each level. Used by call auctions, which span the whole book.
func (b *OrderBook) Resting(side string) []*Order {
	var out []*Order
	collect := func(l *PriceLevel) bool {
		for n := l.head; n != nil; n = n.next {
			out = append(out, n.order)
		}
		return true
	}
	if side == SideBuy {
		b.bids.Reverse(collect)
	} else {
		b.asks.Scan(collect)
	}
	return out
}

// Len returns the number of resting orders on side.
func (b *OrderBook) Len(side string) int {
	count := 0
	b.tree(side).Scan(func(l *PriceLevel) bool {
		count += l.size
		return true
	})
	return count
}

// RemoveExpired cancels every resting GTD order past its expiry and returns
// the removed orders. Driven by explicit caller ticks; the book has no timers.
func (b *OrderBook) RemoveExpired(now time.Time) []*Order {
	var expired []*Order
	for _, n := range b.index {
		if n.order.IsExpired(now) {
			expired = append(expired, n.order)
		}
	}
	for _, o := range expired {
		b.Cancel(o.ID)
	}
	if len(expired) > 0 {
		b.logger.Debug("expired resting orders purged",
			zap.Int("count", len(expired)), zap.Time("now", now))
	}
	return expired
}

// LevelView is one aggregated price level of a snapshot.
type LevelView struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Orders int             `json:"orders"`
}

// Snapshot is an ordered, read-only view of the book: bids by descending
// price, asks by ascending price.
type Snapshot struct {
	At   time.Time   `json:"at"`
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

// BestBid returns the highest bid price in the snapshot.
func (s Snapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Zero, false
	}
	return s.Bids[0].Price, true
}

// BestAsk returns the lowest ask price in the snapshot.
func (s Snapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Zero, false
	}
	return s.Asks[0].Price, true
}

// Spread returns best ask minus best bid, or zero when either side is empty.
func (s Snapshot) Spread() decimal.Decimal {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return decimal.Zero
	}
	return ask.Sub(bid)
}

// Mid returns the midpoint of the best bid and ask, or zero when either side
// is empty.
func (s Snapshot) Mid() decimal.Decimal {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// Depth returns a snapshot truncated to the top n levels per side; n <= 0
// means the full book.
func (b *OrderBook) Depth(n int) Snapshot {
	s := Snapshot{At: time.Now()}
	b.bids.Reverse(func(l *PriceLevel) bool {
		s.Bids = append(s.Bids, LevelView{Price: l.price, Volume: l.visible, Orders: l.size})
		return n <= 0 || len(s.Bids) < n
	})
	b.asks.Scan(func(l *PriceLevel) bool {
		s.Asks = append(s.Asks, LevelView{Price: l.price, Volume: l.visible, Orders: l.size})
		return n <= 0 || len(s.Asks) < n
	})
	return s
}

// Snapshot returns the full-depth ordered view of the book.
func (b *OrderBook) Snapshot() Snapshot { return b.Depth(0) }
