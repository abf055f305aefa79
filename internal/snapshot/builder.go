// Package snapshot fuses per-exchange feed states into one immutable
// UnifiedSnapshot: per-timeframe candle views, liveness and staleness
// diagnostics, a data-quality grade, and cross-exchange deviation and
// lead/lag statistics. Build is a pure function of the supplied states, so
// the whole package is testable without live sockets.
package snapshot

import (
	"sort"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/feedstore"
)

// Config tunes liveness and staleness thresholds.
type Config struct {
	// HeartbeatTTL bounds the age of the last received message before a feed
	// is considered silent.
	HeartbeatTTL time.Duration

	// ProbeTTL bounds the age of the last successful reachability probe.
	ProbeTTL time.Duration

	// LeadLagBars is the number of log-return samples fed into the
	// cross-correlation, and LeadLagMaxLag the offset range searched.
	LeadLagBars   int
	LeadLagMaxLag int
}

// DefaultConfig returns the thresholds used in production.
func DefaultConfig() Config {
	return Config{
		HeartbeatTTL:  5 * time.Second,
		ProbeTTL:      10 * time.Second,
		LeadLagBars:   120,
		LeadLagMaxLag: 3,
	}
}

// Builder produces UnifiedSnapshots from feed states.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder. Zero config fields fall back to defaults.
func NewBuilder(cfg Config) *Builder {
	def := DefaultConfig()
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = def.HeartbeatTTL
	}
	if cfg.ProbeTTL <= 0 {
		cfg.ProbeTTL = def.ProbeTTL
	}
	if cfg.LeadLagBars <= 0 {
		cfg.LeadLagBars = def.LeadLagBars
	}
	if cfg.LeadLagMaxLag <= 0 {
		cfg.LeadLagMaxLag = def.LeadLagMaxLag
	}
	return &Builder{cfg: cfg}
}

// Build fuses the given states into a new snapshot. It never mutates its
// inputs and is safe to call on any schedule. State order is preserved, which
// keeps the output deterministic for identical inputs.
func (b *Builder) Build(now time.Time, states ...feedstore.FeedState) domain.UnifiedSnapshot {
	snap := domain.UnifiedSnapshot{
		GeneratedAt: now,
		Books:       make(map[string]domain.OrderBook, len(states)),
	}
	if len(states) > 0 {
		snap.Symbol = states[0].Symbol
	}

	for _, st := range states {
		snap.Exchanges = append(snap.Exchanges, b.health(now, st))
		if st.BookUsable {
			snap.Books[st.Exchange] = st.Book
		}
	}

	snap.BestBid, snap.BestAsk, snap.Mid = topOfBook(snap.Books)
	snap.ClockSkew = clockSkew(states)
	snap.Timeframes = b.timeframeNodes(now, states)
	if len(states) >= 2 {
		snap.Cross = b.cross(states[0], states[1])
	}
	snap.Quality = b.quality(now, snap, states)
	return snap
}

// health computes the three-way liveness AND: a socket can report connected
// while silently dead, so the heartbeat and an independent reachability probe
// must both be fresh as well.
func (b *Builder) health(now time.Time, st feedstore.FeedState) domain.ExchangeHealth {
	h := domain.ExchangeHealth{
		Exchange:  st.Exchange,
		Connected: st.Connected,
	}
	if !st.LastMsgAt.IsZero() {
		h.HeartbeatAge = now.Sub(st.LastMsgAt)
	}
	if !st.LastProbeAt.IsZero() {
		h.ProbeAge = now.Sub(st.LastProbeAt)
	}
	heartbeatFresh := !st.LastMsgAt.IsZero() && h.HeartbeatAge <= b.cfg.HeartbeatTTL
	probeFresh := !st.LastProbeAt.IsZero() && h.ProbeAge <= b.cfg.ProbeTTL
	h.Live = st.Connected && heartbeatFresh && probeFresh
	return h
}

func (b *Builder) timeframeNodes(now time.Time, states []feedstore.FeedState) []domain.TimeframeNode {
	nodes := make([]domain.TimeframeNode, 0, len(domain.Timeframes))
	for i, tf := range domain.Timeframes {
		node := domain.TimeframeNode{
			Timeframe: tf,
			Candles:   make(map[string][]domain.Candle, len(states)),
			Staleness: make(map[string]time.Duration, len(states)),
		}
		for _, st := range states {
			series := st.Candles[tf]
			node.Candles[st.Exchange] = series
			node.Staleness[st.Exchange] = staleness(now, tf, series)
			if i == 0 {
				node.OrderFlow = append(node.OrderFlow, orderFlow(st))
			}
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// staleness is now minus the last bar's nominal close time, clamped at zero
// for a bar whose close still lies in the future.
func staleness(now time.Time, tf domain.Timeframe, series []domain.Candle) time.Duration {
	if len(series) == 0 {
		return -1 // sentinel: no data at all
	}
	age := now.Sub(series[len(series)-1].CloseTime(tf))
	if age < 0 {
		age = 0
	}
	return age
}

func orderFlow(st feedstore.FeedState) domain.OrderFlow {
	of := domain.OrderFlow{Exchange: st.Exchange, LastTrade: st.LastTradeAt}
	for _, t := range st.Trades {
		of.TradeCount++
		if t.Side == domain.TradeSell {
			of.SellVolume += t.Size
		} else {
			of.BuyVolume += t.Size
		}
	}
	of.Delta = of.BuyVolume - of.SellVolume
	return of
}

// topOfBook picks the best bid and ask across all usable books.
func topOfBook(books map[string]domain.OrderBook) (bid, ask, mid float64) {
	names := make([]string, 0, len(books))
	for name := range books {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b := books[name]
		if bb := b.BestBid(); bb > bid {
			bid = bb
		}
		if ba := b.BestAsk(); ba > 0 && (ask == 0 || ba < ask) {
			ask = ba
		}
	}
	if bid > 0 && ask > 0 {
		mid = (bid + ask) / 2
	}
	return bid, ask, mid
}

// clockSkew is the median difference between exchange event times and local
// receive times; diagnostic only.
func clockSkew(states []feedstore.FeedState) time.Duration {
	var diffs []time.Duration
	for _, st := range states {
		if st.LastEventAt.IsZero() || st.LastMsgAt.IsZero() {
			continue
		}
		diffs = append(diffs, st.LastEventAt.Sub(st.LastMsgAt))
	}
	if len(diffs) == 0 {
		return 0
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })
	return diffs[len(diffs)/2]
}
