package app

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/marketfuse/internal/bus"
	"github.com/quantfold/marketfuse/internal/config"
	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/exchange"
	"github.com/quantfold/marketfuse/internal/exchange/binance"
	"github.com/quantfold/marketfuse/internal/exchange/bybit"
	"github.com/quantfold/marketfuse/internal/feed"
	"github.com/quantfold/marketfuse/internal/feedstore"
	"github.com/quantfold/marketfuse/internal/snapshot"
)

// Session owns every per-symbol resource: one feed store and runner per
// enabled venue, the shared change notifier, and the snapshot rebuild loop.
// SetSymbol tears the whole set down and recreates it, so a new symbol never
// inherits candles, trades or book levels from the previous one.
type Session struct {
	cfg    *config.Config
	logger *slog.Logger

	// out is the stable snapshot channel consumers hold across symbol
	// switches; the per-symbol runner channel is forwarded into it.
	out chan domain.UnifiedSnapshot

	mu      sync.Mutex
	symbol  string
	stores  []*feedstore.Store
	runners []*feed.Runner
	snaps   *snapshot.Runner
	cancel  context.CancelFunc

	switchCh chan string
}

// NewSession creates a Session bound to cfg.Symbol.
func NewSession(cfg *config.Config, logger *slog.Logger) *Session {
	s := &Session{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "session")),
		out:      make(chan domain.UnifiedSnapshot, 8),
		switchCh: make(chan string, 1),
	}
	s.build(cfg.Symbol)
	return s
}

// Symbol returns the currently tracked symbol.
func (s *Session) Symbol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbol
}

// Snapshots returns the stable channel snapshots are delivered on.
func (s *Session) Snapshots() <-chan domain.UnifiedSnapshot { return s.out }

// States returns the current feed states, in venue wiring order.
func (s *Session) States() []feedstore.FeedState {
	s.mu.Lock()
	stores := s.stores
	s.mu.Unlock()

	states := make([]feedstore.FeedState, 0, len(stores))
	for _, st := range stores {
		states = append(states, st.State())
	}
	return states
}

// SetSymbol requests a switch to a new symbol. The current feeds are torn
// down and a fresh set is built; the call returns once the switch is queued.
func (s *Session) SetSymbol(symbol string) {
	if symbol == "" || symbol == s.Symbol() {
		return
	}
	select {
	case s.switchCh <- symbol:
	default:
		// A switch is already pending; the latest request wins.
		<-s.switchCh
		s.switchCh <- symbol
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the session until ctx is cancelled, rebuilding all per-symbol
// resources whenever a symbol switch is requested.
func (s *Session) Run(ctx context.Context) error {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()

		err := s.runOnce(runCtx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case symbol := <-s.switchCh:
			s.logger.Info("switching symbol",
				slog.String("from", s.Symbol()),
				slog.String("to", symbol),
			)
			s.build(symbol)
		default:
			return err
		}
	}
}

// runOnce runs the current resource set until its context ends.
func (s *Session) runOnce(ctx context.Context) error {
	s.mu.Lock()
	runners := s.runners
	snaps := s.snaps
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error { return r.Run(ctx) })
	}
	g.Go(func() error { return snaps.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case snap := <-snaps.Snapshots():
				select {
				case s.out <- snap:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})
	return g.Wait()
}

// build recreates every per-symbol resource from scratch.
func (s *Session) build(symbol string) {
	cfg := s.cfg
	notifier := bus.NewNotifier(64)
	storeOpts := feedstore.Options{
		MaxCandles: cfg.Feed.MaxCandles,
		TradeRing:  cfg.Feed.TradeRing,
		BookDepth:  cfg.Feed.BookDepth,
		OnChange:   notifier.Notify,
	}

	var stores []*feedstore.Store
	var runners []*feed.Runner

	addVenue := func(name string, stream exchange.Stream, rest exchange.RestClient, topics []string) {
		store := feedstore.New(name, storeOpts, s.logger)
		stores = append(stores, store)
		runners = append(runners, feed.NewRunner(feed.Config{
			Exchange:      name,
			Symbol:        symbol,
			Timeframes:    domain.Timeframes,
			Topics:        topics,
			BackfillBars:  cfg.Feed.BackfillBars,
			ProbeInterval: cfg.Feed.ProbeInterval.Duration,
		}, stream, rest, store, s.logger))
	}

	if cfg.Binance.Enabled {
		addVenue(binance.Exchange,
			binance.NewWSClient(cfg.Binance.WsURL),
			binance.NewClient(cfg.Binance.RestURL),
			binance.Streams(symbol, domain.Timeframes))
	}
	if cfg.Bybit.Enabled {
		addVenue(bybit.Exchange,
			bybit.NewWSClient(cfg.Bybit.WsURL),
			bybit.NewClient(cfg.Bybit.RestURL, cfg.Bybit.Category),
			bybit.Topics(symbol, domain.Timeframes))
	}

	builder := snapshot.NewBuilder(snapshot.Config{
		HeartbeatTTL:  cfg.Snapshot.HeartbeatTTL.Duration,
		ProbeTTL:      cfg.Snapshot.ProbeTTL.Duration,
		LeadLagBars:   cfg.Snapshot.LeadLagBars,
		LeadLagMaxLag: cfg.Snapshot.LeadLagMaxLag,
	})
	snaps := snapshot.NewRunner(builder, stores, notifier,
		cfg.Snapshot.Debounce.Duration, cfg.Snapshot.FallbackTick.Duration, s.logger)

	s.mu.Lock()
	s.symbol = symbol
	s.stores = stores
	s.runners = runners
	s.snaps = snaps
	s.mu.Unlock()
}
