// Package feedstore maintains the live per-exchange market state: candle
// series per timeframe, a bounded trade ring, and an order book rebuilt from
// snapshot-reset-then-delta-apply messages. One Store exists per exchange per
// tracked symbol; it is mutated only through its own ingestion entry points
// and read by the snapshot builder via State.
package feedstore

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/ring"
)

const (
	// DefaultMaxCandles caps each timeframe series.
	DefaultMaxCandles = 500

	// DefaultTradeRing caps the most-recent-N trade buffer.
	DefaultTradeRing = 1000

	// DefaultBookDepth bounds the materialized book per side.
	DefaultBookDepth = 200
)

// Options tunes a Store. Zero fields fall back to the defaults above.
type Options struct {
	MaxCandles int
	TradeRing  int
	BookDepth  int

	// OnChange is invoked after every applied message, outside domain logic.
	// Used to nudge the snapshot rebuild loop. May be nil.
	OnChange func()
}

// Store is the live feed state for one exchange. All mutation goes through
// Reset, OnConnectionState, OnProbe and OnMessage; State returns a
// self-contained copy safe to read concurrently with ingestion.
type Store struct {
	exchange string
	opts     Options
	logger   *slog.Logger

	mu          sync.RWMutex
	symbol      string
	connected   bool
	lastMsgAt   time.Time // receive-side heartbeat
	lastEventAt time.Time // exchange-side event time, for clock skew
	lastProbeAt time.Time
	lastTradeAt time.Time

	candles map[domain.Timeframe][]domain.Candle
	trades  *ring.Buffer[domain.Trade]
	bids    map[float64]float64
	asks    map[float64]float64
	book    domain.OrderBook
}

// New creates an empty Store for the named exchange.
func New(exchange string, opts Options, logger *slog.Logger) *Store {
	if opts.MaxCandles <= 0 {
		opts.MaxCandles = DefaultMaxCandles
	}
	if opts.TradeRing <= 0 {
		opts.TradeRing = DefaultTradeRing
	}
	if opts.BookDepth <= 0 {
		opts.BookDepth = DefaultBookDepth
	}
	s := &Store{
		exchange: exchange,
		opts:     opts,
		logger:   logger.With(slog.String("component", "feedstore"), slog.String("exchange", exchange)),
	}
	s.resetLocked("")
	return s
}

// Exchange returns the exchange name the store was created for.
func (s *Store) Exchange() string { return s.exchange }

// Reset discards every piece of in-memory state and rebinds the store to a
// new symbol. A recreated or reset store never inherits stale candles.
func (s *Store) Reset(symbol string) {
	s.mu.Lock()
	s.resetLocked(symbol)
	s.mu.Unlock()
	s.changed()
}

func (s *Store) resetLocked(symbol string) {
	s.symbol = symbol
	s.lastMsgAt = time.Time{}
	s.lastEventAt = time.Time{}
	s.lastProbeAt = time.Time{}
	s.lastTradeAt = time.Time{}
	s.candles = make(map[domain.Timeframe][]domain.Candle, len(domain.Timeframes))
	s.trades = ring.New[domain.Trade](s.opts.TradeRing)
	s.bids = make(map[float64]float64)
	s.asks = make(map[float64]float64)
	s.book = domain.OrderBook{}
}

// OnConnectionState records the transport connection flag. Transport failures
// surface only here, never as errors.
func (s *Store) OnConnectionState(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
	s.changed()
}

// OnProbe records a successful out-of-band reachability probe.
func (s *Store) OnProbe(at time.Time) {
	s.mu.Lock()
	s.lastProbeAt = at
	s.mu.Unlock()
}

// OnMessage ingests one normalized stream message. The heartbeat is updated
// unconditionally, even for message kinds the store does not understand. No
// message is ever rejected for arriving out of order: candle upserts and
// per-level book writes are last-write-wins, which is correct as long as
// snapshot resets are honored.
func (s *Store) OnMessage(msg domain.StreamMessage) {
	now := time.Now()
	s.mu.Lock()
	s.lastMsgAt = now
	if !msg.EventTime.IsZero() {
		s.lastEventAt = msg.EventTime
	}
	switch msg.Kind {
	case domain.KindTrade:
		if msg.Trade != nil {
			s.trades.Push(*msg.Trade)
			s.lastTradeAt = msg.Trade.Time
		}
	case domain.KindCandle:
		if msg.Candle != nil && msg.Timeframe != "" {
			s.upsertCandleLocked(msg.Timeframe, *msg.Candle)
		}
	case domain.KindBookDelta:
		if msg.Book != nil {
			s.applyDeltaLocked(*msg.Book)
		}
	}
	s.mu.Unlock()
	s.changed()
}

// SeedCandles merges a backfilled history into the timeframe series. The
// input may arrive in any order and may overlap live data; bars are deduped
// by open time.
func (s *Store) SeedCandles(tf domain.Timeframe, candles []domain.Candle) {
	s.mu.Lock()
	for _, c := range candles {
		s.upsertCandleLocked(tf, c)
	}
	s.mu.Unlock()
	s.changed()
}

// upsertCandleLocked merges one bar into its series keyed by open time so
// late duplicate deliveries are idempotent. A confirmed bar is never
// overwritten by an unconfirmed update for the same open time.
func (s *Store) upsertCandleLocked(tf domain.Timeframe, c domain.Candle) {
	series := s.candles[tf]
	n := len(series)

	// Fast paths: live updates touch the last bar or append after it.
	if n > 0 {
		if last := series[n-1]; last.OpenTime.Equal(c.OpenTime) {
			if !last.Confirmed || c.Confirmed {
				series[n-1] = c
			}
			return
		} else if c.OpenTime.After(last.OpenTime) {
			series = append(series, c)
			s.candles[tf] = capSeries(series, s.opts.MaxCandles)
			return
		}
	} else {
		s.candles[tf] = append(series, c)
		return
	}

	// Late delivery: binary-search the slot.
	i := sort.Search(n, func(i int) bool { return !series[i].OpenTime.Before(c.OpenTime) })
	if i < n && series[i].OpenTime.Equal(c.OpenTime) {
		if !series[i].Confirmed || c.Confirmed {
			series[i] = c
		}
		return
	}
	series = append(series, domain.Candle{})
	copy(series[i+1:], series[i:])
	series[i] = c
	s.candles[tf] = capSeries(series, s.opts.MaxCandles)
}

func capSeries(series []domain.Candle, max int) []domain.Candle {
	if len(series) > max {
		series = series[len(series)-max:]
	}
	return series
}

// applyDeltaLocked applies an order-book delta. A snapshot delta discards all
// prior levels first; every entry then upserts (size > 0) or deletes
// (size == 0) its price level. The bounded book is rematerialized afterwards
// with the delta's timestamp.
func (s *Store) applyDeltaLocked(d domain.BookDelta) {
	if d.Snapshot {
		s.bids = make(map[float64]float64, len(d.Bids))
		s.asks = make(map[float64]float64, len(d.Asks))
	}
	applyLevels(s.bids, d.Bids)
	applyLevels(s.asks, d.Asks)
	s.book = materialize(s.bids, s.asks, s.opts.BookDepth, d.Time)
}

func applyLevels(side map[float64]float64, levels []domain.PriceLevel) {
	for _, lvl := range levels {
		if lvl.Size == 0 {
			delete(side, lvl.Price)
			continue
		}
		side[lvl.Price] = lvl.Size
	}
}

// materialize produces the depth-bounded sorted view of the level maps.
func materialize(bids, asks map[float64]float64, depth int, at time.Time) domain.OrderBook {
	book := domain.OrderBook{
		Bids: sortedLevels(bids, true, depth),
		Asks: sortedLevels(asks, false, depth),
		Time: at,
	}
	return book
}

func sortedLevels(side map[float64]float64, desc bool, depth int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(side))
	for p, sz := range side {
		out = append(out, domain.PriceLevel{Price: p, Size: sz})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > depth {
		out = out[:depth]
	}
	return out
}

func (s *Store) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}
