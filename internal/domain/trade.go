package domain

import "time"

// TradeSide is the taker side of an executed trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Trade is a single tick print. Trades are retained in delivery order in a
// bounded ring; global ordering across exchanges is not guaranteed.
type Trade struct {
	Time  time.Time
	Price float64
	Size  float64
	Side  TradeSide
}
