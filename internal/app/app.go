// Package app provides the top-level application lifecycle for the
// marketfuse engine. It wires the dependencies, runs the per-symbol feed
// session, and drives the snapshot -> features -> setups -> validation ->
// publish pipeline until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/marketfuse/internal/config"
	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/features"
	"github.com/quantfold/marketfuse/internal/feedstore"
	"github.com/quantfold/marketfuse/internal/validate"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the feed
// session and the evaluation loop, and blocks until the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("symbol", a.cfg.Symbol),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	session := NewSession(a.cfg, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error { return a.evaluate(ctx, deps, session) })
	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// evaluate consumes snapshots and runs the inference pipeline on each one.
func (a *App) evaluate(ctx context.Context, deps *Dependencies, session *Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-session.Snapshots():
			a.evaluateOne(ctx, deps, session, snap)
		}
	}
}

func (a *App) evaluateOne(ctx context.Context, deps *Dependencies, session *Session, snap domain.UnifiedSnapshot) {
	feats := features.Extract(snap, deps.Features, features.External{})
	eval := deps.Engine.BuildSetups(snap, feats)

	sctx := validate.SymbolContext{
		Symbol:   snap.Symbol,
		Price:    snap.Mid,
		EntryTF:  deps.Features.EntryTF,
		Features: feats,
	}
	sctx.LastClosed, sctx.ProofSource = closedBars(session.States())

	validated := deps.Validator.Evaluate(snap, sctx, eval.Top)

	a.logCycle(snap, eval, validated)

	if deps.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := deps.Publisher.PublishSnapshot(pubCtx, snap); err != nil {
		a.logger.Warn("publish snapshot failed", slog.String("error", err.Error()))
	}
	if err := deps.Publisher.PublishSetups(pubCtx, eval, validated); err != nil {
		a.logger.Warn("publish setups failed", slog.String("error", err.Error()))
	}
}

// closedBars collects last-closed timestamps from the first connected venue,
// falling back to any venue with data. The proof source names where the
// timestamps came from so a validation verdict is traceable.
func closedBars(states []feedstore.FeedState) (map[domain.Timeframe]time.Time, string) {
	pick := -1
	for i, st := range states {
		if _, ok := st.LastClosed(domain.Timeframes[0]); !ok {
			continue
		}
		if st.Connected {
			pick = i
			break
		}
		if pick < 0 {
			pick = i
		}
	}
	if pick < 0 {
		return nil, ""
	}

	st := states[pick]
	out := make(map[domain.Timeframe]time.Time, len(domain.Timeframes))
	for _, tf := range domain.Timeframes {
		if at, ok := st.LastClosed(tf); ok {
			out[tf] = at
		}
	}
	return out, st.Exchange + ":ws"
}

func (a *App) logCycle(snap domain.UnifiedSnapshot, eval domain.Evaluation, validated []domain.ValidatedSetup) {
	attrs := []any{
		slog.String("symbol", snap.Symbol),
		slog.String("grade", string(snap.Quality.Grade)),
		slog.Float64("quality", snap.Quality.Score),
		slog.String("regime", eval.Regime),
	}
	if eval.Primary != nil {
		attrs = append(attrs,
			slog.String("primary", string(eval.Primary.Type)+"/"+string(eval.Primary.Side)),
			slog.Float64("confidence", eval.Primary.Confidence),
		)
	}
	for _, v := range validated {
		if v.State == domain.StateReady {
			attrs = append(attrs, slog.String("ready", string(v.Type)+"/"+string(v.Side)+" "+string(v.Validity)))
			break
		}
	}
	a.logger.Debug("cycle complete", attrs...)
}
