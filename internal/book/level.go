package book

import "github.com/shopspring/decimal"

// LevelOrdering decides which of two resting orders at the same price level
// matches first; it reports whether a takes priority over b. A nil ordering
// means plain FIFO and skips the scan entirely.
type LevelOrdering func(a, b *Order) bool

// node is an intrusive doubly-linked element of a price level's FIFO queue.
// Nodes are indexed globally by order id so cancellation never walks the list.
type node struct {
	prev, next *node
	order      *Order
	level      *PriceLevel
}

// PriceLevel holds all resting orders at one price in arrival order. The
// visible aggregate always equals the sum of its orders' visible quantities.
type PriceLevel struct {
	price   decimal.Decimal
	head    *node
	tail    *node
	size    int
	visible decimal.Decimal
}

// Price returns the level's price.
func (l *PriceLevel) Price() decimal.Decimal { return l.price }

// Size returns the number of resting orders at the level.
func (l *PriceLevel) Size() int { return l.size }

// VisibleVolume returns the aggregate visible quantity at the level.
func (l *PriceLevel) VisibleVolume() decimal.Decimal { return l.visible }

func (l *PriceLevel) empty() bool { return l.size == 0 }

func (l *PriceLevel) pushBack(n *node) {
	n.prev, n.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	n.level = l
	l.size++
	l.visible = l.visible.Add(n.order.Visible())
}

func (l *PriceLevel) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	n.level = nil
	l.size--
	l.visible = l.visible.Sub(n.order.Visible())
}

// first selects the next order to match under ord. FIFO (nil ordering) is the
// head; otherwise the queue is scanned and the highest-priority node wins,
// with earlier arrival breaking ties because the scan runs in arrival order.
func (l *PriceLevel) first(ord LevelOrdering) *node {
	if ord == nil || l.head == nil {
		return l.head
	}
	best := l.head
	for n := l.head.next; n != nil; n = n.next {
		if ord(n.order, best.order) {
			best = n
		}
	}
	return best
}

// reduceVisible adjusts the aggregate after a partial fill of one order.
func (l *PriceLevel) reduceVisible(qty decimal.Decimal) {
	l.visible = l.visible.Sub(qty)
}
