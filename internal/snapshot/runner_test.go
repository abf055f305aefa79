package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quantfold/marketfuse/internal/bus"
	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/feedstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRunner(t *testing.T, debounce, fallback time.Duration) (*Runner, *feedstore.Store) {
	t.Helper()
	logger := testLogger()
	notifier := bus.NewNotifier(64)
	store := feedstore.New("binance", feedstore.Options{OnChange: notifier.Notify}, logger)
	store.Reset("BTCUSDT")

	r := NewRunner(NewBuilder(Config{}), []*feedstore.Store{store}, notifier, debounce, fallback, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	})
	return r, store
}

func TestDebounceCoalescesBursts(t *testing.T) {
	r, store := startRunner(t, 10*time.Millisecond, time.Hour)

	// A burst of changes lands well inside one debounce window.
	for i := 0; i < 25; i++ {
		store.OnMessage(domain.StreamMessage{Kind: domain.KindUnknown})
	}

	var got int
	deadline := time.After(250 * time.Millisecond)
	for running := true; running; {
		select {
		case snap := <-r.Snapshots():
			got++
			if snap.Symbol != "BTCUSDT" {
				t.Fatalf("Symbol = %q, want BTCUSDT", snap.Symbol)
			}
		case <-deadline:
			running = false
		}
	}
	if got != 1 {
		t.Fatalf("snapshots = %d, want the burst coalesced into 1", got)
	}
}

func TestFallbackTickRebuildsWithoutChanges(t *testing.T) {
	r, _ := startRunner(t, time.Hour, 15*time.Millisecond)

	// The notice from the initial Reset is held by the hour-long debounce, so
	// only the fallback tick can produce a rebuild.
	select {
	case <-r.Snapshots():
		t.Fatal("debounced rebuild fired before the fallback tick")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case <-r.Snapshots():
	case <-time.After(time.Second):
		t.Fatal("no rebuild from the fallback tick")
	}
}
