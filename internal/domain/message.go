package domain

import "time"

// MessageKind tags the payload carried by a StreamMessage.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindTrade
	KindCandle
	KindBookDelta
)

// StreamMessage is the tagged union every exchange adapter decodes its wire
// frames into before they reach a feed store. Exactly one payload pointer is
// non-nil, selected by Kind. Exchange-specific shapes never cross this
// boundary.
type StreamMessage struct {
	Kind     MessageKind
	Exchange string
	Symbol   string

	// EventTime is the exchange-side event timestamp when the wire format
	// carries one; zero otherwise.
	EventTime time.Time

	Trade     *Trade
	Timeframe Timeframe
	Candle    *Candle
	Book      *BookDelta
}
