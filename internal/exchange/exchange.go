// Package exchange defines the contracts a venue adapter satisfies. Adapters
// decode venue wire formats into domain.StreamMessage at the edge; nothing
// venue-specific crosses these interfaces.
package exchange

import (
	"context"

	"github.com/quantfold/marketfuse/internal/domain"
)

// MessageHandler receives every decoded stream message.
type MessageHandler func(domain.StreamMessage)

// StateHandler is notified on connect (true) and disconnect (false).
type StateHandler func(connected bool)

// Stream is the live WebSocket surface of a venue.
type Stream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topics []string) error
	OnMessage(MessageHandler)
	OnConnectionState(StateHandler)
	Close() error
}

// Backfiller fetches historical candles over REST, oldest first.
type Backfiller interface {
	Klines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error)
}

// Prober checks venue reachability out of band from the stream.
type Prober interface {
	Ping(ctx context.Context) error
}

// RestClient is the full REST surface a feed runner needs.
type RestClient interface {
	Backfiller
	Prober
}
