package domain

import "time"

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookDelta is an incremental order-book update normalized at the exchange
// edge. When Snapshot is true the receiver must discard all prior levels
// before applying the entries. A level with Size == 0 removes that price.
type BookDelta struct {
	Snapshot bool
	Time     time.Time
	Bids     []PriceLevel
	Asks     []PriceLevel
}

// OrderBook is a materialized, depth-bounded view of the live level maps.
// Bids are sorted descending by price, asks ascending.
type OrderBook struct {
	Bids []PriceLevel
	Asks []PriceLevel
	Time time.Time
}

// BestBid returns the highest bid price, or 0 when the bid side is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the ask side is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Crossed reports whether the book is in an invalid crossed state
// (best bid at or above best ask). A crossed book is unusable.
func (b OrderBook) Crossed() bool {
	bid, ask := b.BestBid(), b.BestAsk()
	return bid > 0 && ask > 0 && bid >= ask
}

// Usable reports whether the book has both sides and is not crossed.
func (b OrderBook) Usable() bool {
	return b.BestBid() > 0 && b.BestAsk() > 0 && !b.Crossed()
}
