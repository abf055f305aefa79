package validate

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
)

var barOpen = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testValidator() *Validator {
	return New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// readyContext builds a context that passes every stage for a long: all core
// paths present, reference candle closed and proven, and enough room between
// the swing levels for the reward/risk floor.
func readyContext() SymbolContext {
	ref := domain.Candle{
		OpenTime: barOpen,
		Open:     99.5, High: 100.5, Low: 99, Close: 100,
		Confirmed: true,
	}
	return SymbolContext{
		Symbol:  "BTCUSDT",
		Price:   100,
		EntryTF: domain.Timeframe15m,
		Features: domain.FeatureSet{
			Symbol:          "BTCUSDT",
			HTFTrend:        domain.TrendUp,
			ATR:             2,
			SwingHigh:       105,
			SwingLow:        98,
			ReferenceCandle: &ref,
		},
		LastClosed: map[domain.Timeframe]time.Time{
			domain.Timeframe15m: barOpen,
		},
		ProofSource: "binance:ws",
	}
}

func longCandidate() []domain.SetupCandidate {
	return []domain.SetupCandidate{{
		Symbol: "BTCUSDT",
		Type:   domain.SetupTrendContinuation,
		Side:   domain.SideLong,
	}}
}

func shortCandidate() []domain.SetupCandidate {
	return []domain.SetupCandidate{{
		Symbol: "BTCUSDT",
		Type:   domain.SetupTrendContinuation,
		Side:   domain.SideShort,
	}}
}

func evaluate(t *testing.T, sctx SymbolContext, cs []domain.SetupCandidate) domain.ValidatedSetup {
	t.Helper()
	out := testValidator().Evaluate(domain.UnifiedSnapshot{GeneratedAt: barOpen.Add(16 * time.Minute)}, sctx, cs)
	if len(out) != len(cs) {
		t.Fatalf("Evaluate returned %d records for %d candidates", len(out), len(cs))
	}
	return out[0]
}

func assertNoNumerics(t *testing.T, vs domain.ValidatedSetup) {
	t.Helper()
	if vs.Entry != nil || vs.Stop != nil || vs.Targets != nil || vs.RRTP1 != nil {
		t.Fatalf("numeric levels emitted in state %s", vs.State)
	}
}

func TestMissingTrendForcesBuildUp(t *testing.T) {
	sctx := readyContext()
	sctx.Features.HTFTrend = ""

	vs := evaluate(t, sctx, longCandidate())
	if vs.State != domain.StateBuildUp || vs.Validity != domain.EntryWait {
		t.Fatalf("state/validity = %s/%s, want BUILD-UP/ENTRY_WAIT", vs.State, vs.Validity)
	}
	if len(vs.MissingPaths) != 1 || vs.MissingPaths[0] != "features.htf_trend" {
		t.Fatalf("MissingPaths = %v, want exactly [features.htf_trend]", vs.MissingPaths)
	}
	assertNoNumerics(t, vs)
	if vs.Proof != nil {
		t.Fatal("proof emitted without core paths")
	}
}

func TestEveryMissingPathReported(t *testing.T) {
	sctx := readyContext()
	sctx.Features = domain.FeatureSet{Symbol: "BTCUSDT"}

	vs := evaluate(t, sctx, longCandidate())
	want := []string{
		"features.htf_trend",
		"features.atr",
		"features.reference_candle",
		"features.swing_high",
		"features.swing_low",
	}
	if len(vs.MissingPaths) != len(want) {
		t.Fatalf("MissingPaths = %v, want %v", vs.MissingPaths, want)
	}
	for i, p := range want {
		if vs.MissingPaths[i] != p {
			t.Fatalf("MissingPaths[%d] = %q, want %q", i, vs.MissingPaths[i], p)
		}
	}
	assertNoNumerics(t, vs)
}

func TestNoLastClosedTimestampAlmostReady(t *testing.T) {
	sctx := readyContext()
	delete(sctx.LastClosed, domain.Timeframe15m)

	vs := evaluate(t, sctx, longCandidate())
	if vs.State != domain.StateAlmostReady || vs.Validity != domain.EntryWait {
		t.Fatalf("state/validity = %s/%s, want ALMOST_READY/ENTRY_WAIT", vs.State, vs.Validity)
	}
	if len(vs.MissingPaths) != 1 || vs.MissingPaths[0] != "context.last_closed.15m" {
		t.Fatalf("MissingPaths = %v, want [context.last_closed.15m]", vs.MissingPaths)
	}
	assertNoNumerics(t, vs)
}

func TestFormingReferenceFailsProof(t *testing.T) {
	sctx := readyContext()
	sctx.Features.ReferenceCandle.Confirmed = false

	vs := evaluate(t, sctx, longCandidate())
	if vs.State != domain.StateAlmostReady || vs.Validity != domain.EntryWait {
		t.Fatalf("state/validity = %s/%s, want ALMOST_READY/ENTRY_WAIT", vs.State, vs.Validity)
	}
	if vs.Proof != nil {
		t.Fatal("proof emitted for a forming bar")
	}
	assertNoNumerics(t, vs)
}

func TestStaleReferenceFailsProof(t *testing.T) {
	sctx := readyContext()
	// The exchange already closed a newer bar than the one features saw.
	sctx.LastClosed[domain.Timeframe15m] = barOpen.Add(15 * time.Minute)

	vs := evaluate(t, sctx, longCandidate())
	if vs.State != domain.StateAlmostReady {
		t.Fatalf("state = %s, want ALMOST_READY for a stale reference", vs.State)
	}
	assertNoNumerics(t, vs)
}

func TestReadyLongEmitsProofAndLevels(t *testing.T) {
	vs := evaluate(t, readyContext(), longCandidate())

	if vs.State != domain.StateReady || vs.Validity != domain.EntryOK {
		t.Fatalf("state/validity = %s/%s, want READY/ENTRY_OK", vs.State, vs.Validity)
	}
	if vs.Proof == nil {
		t.Fatal("no closed-candle proof on a READY setup")
	}
	if !vs.Proof.LastClosedAt.Equal(barOpen) || vs.Proof.Source != "binance:ws" {
		t.Fatalf("proof = %+v, want open %v from binance:ws", vs.Proof, barOpen)
	}
	if vs.Entry == nil || vs.Stop == nil || vs.Targets == nil || vs.RRTP1 == nil {
		t.Fatal("READY setup missing numeric levels")
	}
	// ATR 2, ref close 100: zone [99.5, 100.2], stop 98 - 0.7, TP1 at the swing.
	if math.Abs(vs.Entry.Low-99.5) > 1e-9 || math.Abs(vs.Entry.High-100.2) > 1e-9 {
		t.Fatalf("entry zone = %+v, want [99.5, 100.2]", *vs.Entry)
	}
	if math.Abs(*vs.Stop-97.3) > 1e-9 {
		t.Fatalf("stop = %v, want 97.3", *vs.Stop)
	}
	if vs.Targets.TP1 != 105 {
		t.Fatalf("TP1 = %v, want swing high 105", vs.Targets.TP1)
	}
	if *vs.RRTP1 < 1.5 {
		t.Fatalf("RRTP1 = %v, want at least the floor", *vs.RRTP1)
	}
}

func TestInvertedStopIsInvalid(t *testing.T) {
	sctx := readyContext()
	// Swing low above the entry zone puts the protective stop on the wrong
	// side of entry for a long.
	sctx.Features.SwingLow = 102

	vs := evaluate(t, sctx, longCandidate())
	if vs.State != domain.StateInvalid || vs.Validity != domain.EntryOff {
		t.Fatalf("state/validity = %s/%s, want INVALID/ENTRY_OFF", vs.State, vs.Validity)
	}
	if vs.RRTP1 != nil {
		t.Fatal("reward/risk emitted for inverted risk")
	}
}

func TestPoorRewardRiskSwitchesEntryOff(t *testing.T) {
	sctx := readyContext()
	// Stop far below entry relative to the first target.
	sctx.Features.SwingLow = 90

	vs := evaluate(t, sctx, longCandidate())
	if vs.State != domain.StateReady {
		t.Fatalf("state = %s, want READY (geometry is sound, just unattractive)", vs.State)
	}
	if vs.Validity != domain.EntryOff {
		t.Fatalf("validity = %s, want ENTRY_OFF below the reward/risk floor", vs.Validity)
	}
	if vs.RRTP1 == nil || *vs.RRTP1 >= 1.5 {
		t.Fatalf("RRTP1 = %v, expected below 1.5", vs.RRTP1)
	}
}

func TestEntryLateBeyondVolatilityBuffer(t *testing.T) {
	sctx := readyContext()
	// Zone high is 100.2, buffer 0.75*ATR = 1.5.
	sctx.Price = 102

	vs := evaluate(t, sctx, longCandidate())
	if vs.State != domain.StateReady || vs.Validity != domain.EntryLate {
		t.Fatalf("state/validity = %s/%s, want READY/ENTRY_LATE", vs.State, vs.Validity)
	}

	// Above the zone but inside the buffer: not late, just not triggered.
	sctx.Price = 101
	vs = evaluate(t, sctx, longCandidate())
	if vs.Validity != domain.EntryWait {
		t.Fatalf("validity = %s, want ENTRY_WAIT inside the buffer", vs.Validity)
	}
}

func TestShortSideMirrors(t *testing.T) {
	sctx := readyContext()
	sctx.Features.HTFTrend = domain.TrendDown
	sctx.Features.SwingHigh = 102
	sctx.Features.SwingLow = 95

	vs := evaluate(t, sctx, shortCandidate())
	if vs.State != domain.StateReady || vs.Validity != domain.EntryOK {
		t.Fatalf("state/validity = %s/%s, want READY/ENTRY_OK", vs.State, vs.Validity)
	}
	// ATR 2, ref 100: zone [99.8, 100.5], stop above the swing high.
	if math.Abs(vs.Entry.Low-99.8) > 1e-9 || math.Abs(vs.Entry.High-100.5) > 1e-9 {
		t.Fatalf("entry zone = %+v, want [99.8, 100.5]", *vs.Entry)
	}
	if math.Abs(*vs.Stop-102.7) > 1e-9 {
		t.Fatalf("stop = %v, want 102.7", *vs.Stop)
	}
	if vs.Targets.TP1 != 95 {
		t.Fatalf("TP1 = %v, want swing low 95", vs.Targets.TP1)
	}

	// Price collapsed through the zone: the short is late.
	sctx.Price = 98
	vs = evaluate(t, sctx, shortCandidate())
	if vs.Validity != domain.EntryLate {
		t.Fatalf("validity = %s, want ENTRY_LATE below zone minus buffer", vs.Validity)
	}
}

func TestCandidateFailuresAreIsolated(t *testing.T) {
	sctx := readyContext()
	cs := append(longCandidate(), shortCandidate()...)
	// Long geometry is sound; the short's stop sits below entry because the
	// swing high is under the zone.
	sctx.Features.SwingHigh = 99

	out := testValidator().Evaluate(domain.UnifiedSnapshot{GeneratedAt: barOpen}, sctx, cs)
	if out[1].State != domain.StateInvalid {
		t.Fatalf("short state = %s, want INVALID", out[1].State)
	}
	if out[0].State != domain.StateReady {
		t.Fatalf("long state = %s, one candidate's failure leaked into another", out[0].State)
	}
}
