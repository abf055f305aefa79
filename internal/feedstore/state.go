package feedstore

import (
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
)

// FeedState is an atomically-complete copy of a Store at a point in time.
// Every slice and map is freshly allocated; the snapshot builder can hold it
// for as long as it likes without synchronizing with ingestion.
type FeedState struct {
	Exchange string
	Symbol   string

	Connected   bool
	LastMsgAt   time.Time
	LastEventAt time.Time
	LastProbeAt time.Time
	LastTradeAt time.Time

	Candles map[domain.Timeframe][]domain.Candle
	Trades  []domain.Trade
	Book    domain.OrderBook

	// BookUsable is false when the materialized book is empty or crossed.
	BookUsable bool
}

// State returns a deep copy of the current feed state.
func (s *Store) State() FeedState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candles := make(map[domain.Timeframe][]domain.Candle, len(s.candles))
	for tf, series := range s.candles {
		cp := make([]domain.Candle, len(series))
		copy(cp, series)
		candles[tf] = cp
	}

	book := domain.OrderBook{
		Bids: append([]domain.PriceLevel(nil), s.book.Bids...),
		Asks: append([]domain.PriceLevel(nil), s.book.Asks...),
		Time: s.book.Time,
	}

	return FeedState{
		Exchange:    s.exchange,
		Symbol:      s.symbol,
		Connected:   s.connected,
		LastMsgAt:   s.lastMsgAt,
		LastEventAt: s.lastEventAt,
		LastProbeAt: s.lastProbeAt,
		LastTradeAt: s.lastTradeAt,
		Candles:     candles,
		Trades:      s.trades.Values(),
		Book:        book,
		BookUsable:  book.Usable(),
	}
}

// LastClosed returns the open time of the most recent confirmed bar on tf.
// ok is false when the series holds no confirmed bar. A forming candle is
// never reported here, regardless of how recent it is.
func (st FeedState) LastClosed(tf domain.Timeframe) (time.Time, bool) {
	series := st.Candles[tf]
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].Confirmed {
			return series[i].OpenTime, true
		}
	}
	return time.Time{}, false
}
