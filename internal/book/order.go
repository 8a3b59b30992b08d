package book

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides, types and validities. Plain string constants keep the model
// trivially serializable for snapshot consumers.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeLimit          = "LIMIT"
	TypeMarket         = "MARKET"
	TypeIOC            = "IOC"
	TypeFOK            = "FOK"
	TypeStopLoss       = "STOP_LOSS"
	TypeStopLossMarket = "STOP_LOSS_MARKET"
	TypeIceberg        = "ICEBERG"

	ValidityDay = "DAY"
	ValidityIOC = "IOC"
	ValidityGTC = "GTC"
	ValidityGTD = "GTD"
)

// Order is a single instruction to buy or sell the instrument.
//
// ArrivalSeq is assigned by the owning engine when the order is accepted and
// establishes total time priority; wall-clock timestamps are informational
// only. FilledQuantity never exceeds Quantity.
type Order struct {
	ID                uuid.UUID       `json:"id"`
	Side              string          `json:"side"`
	Type              string          `json:"type"`
	Price             decimal.Decimal `json:"price"`
	Quantity          decimal.Decimal `json:"quantity"`
	FilledQuantity    decimal.Decimal `json:"filled_quantity"`
	DisclosedQuantity decimal.Decimal `json:"disclosed_quantity,omitempty"` // iceberg only
	StopPrice         decimal.Decimal `json:"stop_price,omitempty"`         // stop orders only
	Validity          string          `json:"validity"`
	ExpireAt          *time.Time      `json:"expire_at,omitempty"` // GTD only
	ArrivalSeq        int64           `json:"arrival_seq"`
	CreatedAt         time.Time       `json:"created_at"`

	// visibleRemaining tracks the live slice of an iceberg order. Maintained
	// by the book on insert and by the engine on fills and refreshes.
	visibleRemaining decimal.Decimal
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Visible returns the quantity exposed to the book. For iceberg orders this is
// the current disclosed slice, capped by the remaining quantity; for all other
// orders it equals the remaining quantity.
func (o *Order) Visible() decimal.Decimal {
	if o.Type == TypeIceberg {
		if o.visibleRemaining.GreaterThan(o.Remaining()) {
			return o.Remaining()
		}
		return o.visibleRemaining
	}
	return o.Remaining()
}

// RefreshSlice starts a fresh disclosed slice for an iceberg order and resets
// its time priority to the supplied arrival sequence.
func (o *Order) RefreshSlice(seq int64) {
	o.visibleRemaining = decimal.Min(o.DisclosedQuantity, o.Remaining())
	o.ArrivalSeq = seq
}

// Fill records an execution of qty against the order.
func (o *Order) Fill(qty decimal.Decimal) {
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	if o.Type == TypeIceberg {
		o.visibleRemaining = o.visibleRemaining.Sub(qty)
	}
}

// IsExpired reports whether a GTD order has passed its expiry.
func (o *Order) IsExpired(now time.Time) bool {
	return o.Validity == ValidityGTD && o.ExpireAt != nil && now.After(*o.ExpireAt)
}

// Validate checks structural invariants common to every order kind.
func (o *Order) Validate() error {
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("quantity must be positive")
	}
	switch o.Type {
	case TypeLimit, TypeIOC, TypeFOK:
		if o.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%s order price must be positive", o.Type)
		}
	case TypeStopLoss:
		if o.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("stop-loss limit price must be positive")
		}
		fallthrough
	case TypeStopLossMarket:
		if o.StopPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("stop orders require a positive stop price")
		}
	case TypeIceberg:
		if o.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("iceberg order price must be positive")
		}
		if o.DisclosedQuantity.LessThanOrEqual(decimal.Zero) || o.DisclosedQuantity.GreaterThan(o.Quantity) {
			return fmt.Errorf("iceberg disclosed quantity must be in (0, quantity]")
		}
	case TypeMarket:
		// market orders carry no price
	default:
		return fmt.Errorf("unknown order type: %s", o.Type)
	}
	if o.Validity == ValidityGTD && o.ExpireAt == nil {
		return fmt.Errorf("GTD order must have an expiry time")
	}
	return nil
}

// NewLimitOrder builds a limit order with a fresh id.
func NewLimitOrder(side string, price, qty decimal.Decimal) *Order {
	return &Order{
		ID:        uuid.New(),
		Side:      side,
		Type:      TypeLimit,
		Price:     price,
		Quantity:  qty,
		Validity:  ValidityDay,
		CreatedAt: time.Now(),
	}
}

// NewMarketOrder builds a market order; it never carries a price.
func NewMarketOrder(side string, qty decimal.Decimal) *Order {
	return &Order{
		ID:        uuid.New(),
		Side:      side,
		Type:      TypeMarket,
		Quantity:  qty,
		Validity:  ValidityIOC,
		CreatedAt: time.Now(),
	}
}

// NewIcebergOrder builds an iceberg order disclosing disclosed per slice.
func NewIcebergOrder(side string, price, qty, disclosed decimal.Decimal) *Order {
	return &Order{
		ID:                uuid.New(),
		Side:              side,
		Type:              TypeIceberg,
		Price:             price,
		Quantity:          qty,
		DisclosedQuantity: disclosed,
		Validity:          ValidityDay,
		CreatedAt:         time.Now(),
	}
}

// NewStopOrder builds a stop-loss order. A zero limit price makes it a
// stop-loss-market order.
func NewStopOrder(side string, stopPrice, limitPrice, qty decimal.Decimal) *Order {
	typ := TypeStopLoss
	if limitPrice.IsZero() {
		typ = TypeStopLossMarket
	}
	return &Order{
		ID:        uuid.New(),
		Side:      side,
		Type:      typ,
		Price:     limitPrice,
		Quantity:  qty,
		StopPrice: stopPrice,
		Validity:  ValidityDay,
		CreatedAt: time.Now(),
	}
}

// Trade is an immutable execution record. Price always comes from the resting
// (maker) order.
type Trade struct {
	ID          uuid.UUID       `json:"id"`
	MakerID     uuid.UUID       `json:"maker_id"`
	TakerID     uuid.UUID       `json:"taker_id"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewTrade builds a trade between a resting maker and an incoming taker.
func NewTrade(maker, taker *Order, price, qty decimal.Decimal) *Trade {
	t := &Trade{
		ID:        uuid.New(),
		MakerID:   maker.ID,
		TakerID:   taker.ID,
		Price:     price,
		Quantity:  qty,
		CreatedAt: time.Now(),
	}
	if taker.Side == SideBuy {
		t.BuyOrderID, t.SellOrderID = taker.ID, maker.ID
	} else {
		t.BuyOrderID, t.SellOrderID = maker.ID, taker.ID
	}
	return t
}

// Opposite returns the other side.
func Opposite(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}
