package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/marketfuse/internal/bus"
	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/feedstore"
)

const (
	// DefaultDebounce coalesces message bursts into one rebuild.
	DefaultDebounce = 250 * time.Millisecond

	// DefaultFallbackTick forces a rebuild even with no new messages, so
	// staleness becomes visible on its own.
	DefaultFallbackTick = time.Second
)

// Runner is the single consumer of store-change notices. It drains the
// bounded notifier channel, debounces rebuilds under bursts, and emits each
// new snapshot on its output channel. Stores are only ever read.
type Runner struct {
	builder  *Builder
	stores   []*feedstore.Store
	notifier *bus.Notifier
	debounce time.Duration
	fallback time.Duration
	out      chan domain.UnifiedSnapshot
	logger   *slog.Logger
}

// NewRunner creates a Runner. Non-positive intervals fall back to defaults.
func NewRunner(builder *Builder, stores []*feedstore.Store, notifier *bus.Notifier, debounce, fallback time.Duration, logger *slog.Logger) *Runner {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if fallback <= 0 {
		fallback = DefaultFallbackTick
	}
	return &Runner{
		builder:  builder,
		stores:   stores,
		notifier: notifier,
		debounce: debounce,
		fallback: fallback,
		out:      make(chan domain.UnifiedSnapshot, 8),
		logger:   logger.With(slog.String("component", "snapshot_runner")),
	}
}

// Snapshots returns the channel rebuilds are emitted on. When the consumer
// falls behind, rebuilds are dropped rather than blocking ingestion.
func (r *Runner) Snapshots() <-chan domain.UnifiedSnapshot { return r.out }

// Run blocks until ctx is cancelled, rebuilding on debounced change notices
// and on the periodic fallback tick.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("snapshot runner started",
		slog.Duration("debounce", r.debounce),
		slog.Duration("fallback_tick", r.fallback),
	)
	defer r.logger.Info("snapshot runner stopped")

	timer := time.NewTimer(r.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	tick := time.NewTicker(r.fallback)
	defer tick.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.notifier.C():
			if !pending {
				pending = true
				timer.Reset(r.debounce)
			}
		case <-timer.C:
			if pending {
				pending = false
				r.emit()
			}
		case <-tick.C:
			r.emit()
		}
	}
}

func (r *Runner) emit() {
	states := make([]feedstore.FeedState, 0, len(r.stores))
	for _, s := range r.stores {
		states = append(states, s.State())
	}
	snap := r.builder.Build(time.Now(), states...)
	select {
	case r.out <- snap:
	default:
		r.logger.Debug("snapshot dropped, consumer behind")
	}
}
