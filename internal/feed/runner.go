// Package feed drives one venue's data flow: it wires the stream client into
// the feed store, seeds history over REST, and keeps the out-of-band
// reachability probe ticking.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/exchange"
	"github.com/quantfold/marketfuse/internal/feedstore"
)

const (
	// DefaultBackfillBars is how much history each timeframe is seeded with.
	DefaultBackfillBars = 300

	// DefaultProbeInterval paces the REST reachability probe.
	DefaultProbeInterval = 5 * time.Second

	// connectRetryDelay paces initial connection attempts; once connected the
	// stream client owns its own reconnect backoff.
	connectRetryDelay = 2 * time.Second
)

// Config tunes a Runner.
type Config struct {
	Exchange   string
	Symbol     string
	Timeframes []domain.Timeframe

	// Topics is the venue-specific subscription set for the symbol.
	Topics []string

	BackfillBars  int
	ProbeInterval time.Duration
}

// Runner owns the lifecycle of one venue feed. Stream messages flow into the
// store, which nudges the snapshot loop through its OnChange hook; the runner
// itself never touches market state.
type Runner struct {
	cfg    Config
	stream exchange.Stream
	rest   exchange.RestClient
	store  *feedstore.Store
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, stream exchange.Stream, rest exchange.RestClient, store *feedstore.Store, logger *slog.Logger) *Runner {
	if cfg.BackfillBars <= 0 {
		cfg.BackfillBars = DefaultBackfillBars
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = domain.Timeframes
	}
	return &Runner{
		cfg:    cfg,
		stream: stream,
		rest:   rest,
		store:  store,
		logger: logger.With(
			slog.String("component", "feed_runner"),
			slog.String("exchange", cfg.Exchange),
		),
	}
}

// Run connects the stream, subscribes, backfills candle history, and probes
// reachability until the context is cancelled. It blocks for the lifetime of
// the feed.
func (r *Runner) Run(ctx context.Context) error {
	r.store.Reset(r.cfg.Symbol)

	r.stream.OnConnectionState(r.store.OnConnectionState)
	r.stream.OnMessage(func(msg domain.StreamMessage) {
		// A late frame from a previous subscription must not pollute the
		// store after a symbol switch.
		if msg.Symbol != "" && msg.Symbol != r.cfg.Symbol {
			return
		}
		r.store.OnMessage(msg)
	})

	if err := r.connect(ctx); err != nil {
		return err
	}
	defer r.stream.Close()

	if err := r.stream.Subscribe(ctx, r.cfg.Topics); err != nil {
		return err
	}
	r.logger.Info("feed started",
		slog.String("symbol", r.cfg.Symbol),
		slog.Int("topics", len(r.cfg.Topics)),
	)
	defer r.logger.Info("feed stopped")

	r.backfill(ctx)
	return r.probeLoop(ctx)
}

// connect retries the initial dial until it succeeds or the context ends.
func (r *Runner) connect(ctx context.Context) error {
	for {
		err := r.stream.Connect(ctx)
		if err == nil {
			return nil
		}
		r.logger.Warn("connect failed, retrying",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
}

// backfill seeds each timeframe with REST history. A failed timeframe is
// logged and skipped; the live stream will fill the series eventually.
func (r *Runner) backfill(ctx context.Context) {
	for _, tf := range r.cfg.Timeframes {
		candles, err := r.rest.Klines(ctx, r.cfg.Symbol, tf, r.cfg.BackfillBars)
		if err != nil {
			r.logger.Warn("backfill failed",
				slog.String("timeframe", string(tf)),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.store.SeedCandles(tf, candles)
		r.logger.Debug("backfill complete",
			slog.String("timeframe", string(tf)),
			slog.Int("bars", len(candles)),
		)
	}
}

// probeLoop runs the REST reachability probe. Probe success is recorded in
// the store; failures only log, the liveness decision belongs to the
// snapshot builder.
func (r *Runner) probeLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeInterval)
			err := r.rest.Ping(probeCtx)
			cancel()
			if err != nil {
				r.logger.Debug("probe failed", slog.String("error", err.Error()))
				continue
			}
			r.store.OnProbe(time.Now())
		}
	}
}
