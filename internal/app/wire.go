package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantfold/marketfuse/internal/config"
	"github.com/quantfold/marketfuse/internal/features"
	"github.com/quantfold/marketfuse/internal/publish"
	"github.com/quantfold/marketfuse/internal/setups"
	"github.com/quantfold/marketfuse/internal/validate"
)

// Dependencies bundles the process-wide collaborators the run loop needs.
// Per-symbol resources live in Session, not here.
type Dependencies struct {
	Engine    *setups.Engine
	Validator *validate.Validator
	Features  features.Config

	// Publisher is nil when Redis publishing is disabled.
	Publisher *publish.Publisher
}

// Wire constructs the concrete dependencies from the configuration and
// returns them together with a cleanup function that should be called on
// shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	trendTF, err := cfg.TrendTimeframe()
	if err != nil {
		return nil, cleanup, err
	}
	entryTF, err := cfg.EntryTimeframe()
	if err != nil {
		return nil, cleanup, err
	}

	featCfg := features.DefaultConfig()
	featCfg.TrendTF = trendTF
	featCfg.EntryTF = entryTF
	if cfg.Features.EMAFast > 0 {
		featCfg.EMAFast = cfg.Features.EMAFast
	}
	if cfg.Features.EMASlow > 0 {
		featCfg.EMASlow = cfg.Features.EMASlow
	}
	if cfg.Features.ATRPeriod > 0 {
		featCfg.ATR = cfg.Features.ATRPeriod
	}
	if cfg.Features.RSIPeriod > 0 {
		featCfg.RSI = cfg.Features.RSIPeriod
	}
	if cfg.Features.RangeBars > 0 {
		featCfg.Range = cfg.Features.RangeBars
	}
	if cfg.Features.PivotBars > 0 {
		featCfg.Pivot = cfg.Features.PivotBars
	}
	if cfg.Features.SweepBars > 0 {
		featCfg.SweepBar = cfg.Features.SweepBars
	}

	deps := &Dependencies{
		Engine:   setups.NewEngine(setups.Config{TopN: cfg.Setups.TopN}, logger),
		Features: featCfg,
		Validator: validate.New(validate.Config{
			MinRRTP1:      cfg.Validation.MinRRTP1,
			LateBufferATR: cfg.Validation.LateBufferATR,
		}, logger),
	}

	if cfg.Redis.Enabled {
		client, err := publish.NewClient(ctx, publish.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("app: redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		deps.Publisher = publish.NewPublisher(client, logger)
	}

	return deps, cleanup, nil
}
