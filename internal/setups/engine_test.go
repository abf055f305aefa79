package setups

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
)

func testEngine(topN int) *Engine {
	return NewEngine(Config{TopN: topN}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// bullishFeatures is a fully-resolved feature set with every directional input
// favoring longs.
func bullishFeatures() domain.FeatureSet {
	ref := domain.Candle{
		OpenTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Open:     99.5, High: 100.5, Low: 99, Close: 100,
		Confirmed: true,
	}
	return domain.FeatureSet{
		Symbol:          "BTCUSDT",
		HTFTrend:        domain.TrendUp,
		TrendStrength:   0.8,
		ATR:             2,
		RSI:             58,
		SwingHigh:       105,
		SwingLow:        95,
		RangeHigh:       106,
		RangeLow:        94,
		FlowAlignment:   0.5,
		SweepSide:       "low",
		ReferenceCandle: &ref,
	}
}

func testSnapshot() domain.UnifiedSnapshot {
	return domain.UnifiedSnapshot{
		Symbol:      "BTCUSDT",
		Mid:         100,
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
	}
}

func findCandidate(t *testing.T, cs []domain.SetupCandidate, typ domain.SetupType, side domain.Side) domain.SetupCandidate {
	t.Helper()
	for _, c := range cs {
		if c.Type == typ && c.Side == side {
			return c
		}
	}
	t.Fatalf("no %s/%s candidate emitted", typ, side)
	return domain.SetupCandidate{}
}

func TestBuildSetupsEmitsEveryArchetypeAndSide(t *testing.T) {
	ev := testEngine(8).BuildSetups(testSnapshot(), bullishFeatures())

	if len(ev.Top) != len(domain.SetupTypes)*2 {
		t.Fatalf("Top = %d candidates, want %d", len(ev.Top), len(domain.SetupTypes)*2)
	}
	seen := make(map[string]bool, len(ev.Top))
	for _, c := range ev.Top {
		key := string(c.Type) + "/" + string(c.Side)
		if seen[key] {
			t.Fatalf("duplicate candidate %s", key)
		}
		seen[key] = true
		if c.ID == "" {
			t.Fatal("candidate without ID")
		}
	}
	if ev.Primary == nil {
		t.Fatal("no primary selected")
	}
}

func TestConfidenceBoundedByCap(t *testing.T) {
	ev := testEngine(8).BuildSetups(testSnapshot(), bullishFeatures())

	for _, c := range ev.Top {
		if c.Confidence <= 0 || c.Confidence > capStrong {
			t.Errorf("%s/%s: Confidence = %v outside (0, %v]", c.Type, c.Side, c.Confidence, capStrong)
		}
		if c.Confidence > c.Breakdown.Cap {
			t.Errorf("%s/%s: Confidence %v exceeds its own cap %v", c.Type, c.Side, c.Confidence, c.Breakdown.Cap)
		}
	}
}

func TestRankingIsDescendingConfidence(t *testing.T) {
	ev := testEngine(8).BuildSetups(testSnapshot(), bullishFeatures())

	for i := 1; i < len(ev.Top); i++ {
		if ev.Top[i].Confidence > ev.Top[i-1].Confidence {
			t.Fatalf("rank inverted at %d: %v after %v", i, ev.Top[i].Confidence, ev.Top[i-1].Confidence)
		}
	}
	if ev.Primary.Confidence != ev.Top[0].Confidence {
		t.Fatal("primary is not the top-ranked candidate")
	}
}

func TestStrongEvidenceRelaxesCap(t *testing.T) {
	ev := testEngine(8).BuildSetups(testSnapshot(), bullishFeatures())

	long := findCandidate(t, ev.Top, domain.SetupTrendContinuation, domain.SideLong)
	if long.Breakdown.Cap != capStrong {
		t.Fatalf("aligned long cap = %v, want %v", long.Breakdown.Cap, capStrong)
	}
	short := findCandidate(t, ev.Top, domain.SetupTrendContinuation, domain.SideShort)
	if short.Breakdown.Cap != capBase {
		t.Fatalf("counter-trend short cap = %v, want %v", short.Breakdown.Cap, capBase)
	}
	if long.Confidence <= short.Confidence {
		t.Fatalf("bullish evidence did not separate sides: long %v, short %v", long.Confidence, short.Confidence)
	}
}

func TestAlternativeDiversity(t *testing.T) {
	ev := testEngine(8).BuildSetups(testSnapshot(), bullishFeatures())

	if ev.Alternative == nil {
		t.Fatal("no alternative selected")
	}
	if ev.Alternative.Type == ev.Primary.Type {
		t.Fatalf("alternative repeats primary archetype %s", ev.Primary.Type)
	}
}

func TestAlternativeFallsBackToOppositeSide(t *testing.T) {
	// All candidates share one archetype, so the archetype pass finds nothing
	// and the side fallback must pick the opposite-side candidate.
	cs := []domain.SetupCandidate{
		{Type: domain.SetupBreakout, Side: domain.SideLong, Confidence: 0.8},
		{Type: domain.SetupBreakout, Side: domain.SideLong, Confidence: 0.7},
		{Type: domain.SetupBreakout, Side: domain.SideShort, Confidence: 0.6},
	}

	alt := alternative(cs)
	if alt == nil {
		t.Fatal("no alternative selected")
	}
	if alt.Side != cs[0].Side.Opposite() {
		t.Fatalf("alternative side = %s, want the side opposite %s", alt.Side, cs[0].Side)
	}
	if alt.Confidence != 0.6 {
		t.Fatalf("alternative confidence = %v, want the short candidate", alt.Confidence)
	}
}

func TestUnresolvedVolatilityStillEmitsCandidates(t *testing.T) {
	feats := bullishFeatures()
	feats.ATR = 0

	ev := testEngine(8).BuildSetups(testSnapshot(), feats)
	if len(ev.Top) != len(domain.SetupTypes)*2 {
		t.Fatalf("Top = %d, archetypes must never be eliminated", len(ev.Top))
	}
	for _, c := range ev.Top {
		if c.Stop != 0 || c.Entry.Low != 0 {
			t.Fatalf("%s/%s: levels resolved without volatility", c.Type, c.Side)
		}
		if c.Confidence <= 0 {
			t.Fatalf("%s/%s: confidence collapsed to %v", c.Type, c.Side, c.Confidence)
		}
	}
}

func TestRiskReward(t *testing.T) {
	rr, err := RiskReward(domain.SideLong, 100, 95, 110)
	if err != nil || rr != 2 {
		t.Fatalf("long RR = %v, %v; want 2, nil", rr, err)
	}
	rr, err = RiskReward(domain.SideShort, 100, 105, 90)
	if err != nil || rr != 2 {
		t.Fatalf("short RR = %v, %v; want 2, nil", rr, err)
	}
	if rr, err := RiskReward(domain.SideLong, 100, 110, 120); !errors.Is(err, domain.ErrInvertedStop) || rr != 0 {
		t.Fatalf("long with stop above entry: got %v, %v; want ErrInvertedStop", rr, err)
	}
	if rr, err := RiskReward(domain.SideShort, 100, 95, 90); !errors.Is(err, domain.ErrInvertedStop) {
		t.Fatalf("short with stop below entry: got %v, %v; want ErrInvertedStop", rr, err)
	}
	if rr, err := RiskReward(domain.SideLong, 100, 95, 98); err != nil || rr != 0 {
		t.Fatalf("target behind entry: got %v, %v; want 0, nil", rr, err)
	}
	if _, err := RiskReward(domain.SideLong, 0, 95, 110); !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("zero entry: err = %v, want ErrNoData", err)
	}
}

func TestStructuralTarget(t *testing.T) {
	feats := bullishFeatures()
	if got := structuralTarget(domain.SideLong, 100, feats); got != 105 {
		t.Fatalf("long structural target = %v, want swing high 105", got)
	}
	if got := structuralTarget(domain.SideShort, 100, feats); got != 95 {
		t.Fatalf("short structural target = %v, want swing low 95", got)
	}
	if got := structuralTarget(domain.SideLong, 110, feats); got != 0 {
		t.Fatalf("swing high behind entry must yield 0, got %v", got)
	}
}

func TestRegimeLabels(t *testing.T) {
	cases := []struct {
		name  string
		feats domain.FeatureSet
		price float64
		want  string
	}{
		{"strong uptrend", domain.FeatureSet{HTFTrend: domain.TrendUp, TrendStrength: 0.7, ATR: 1}, 100, "trending_up"},
		{"strong downtrend", domain.FeatureSet{HTFTrend: domain.TrendDown, TrendStrength: 0.5, ATR: 1}, 100, "trending_down"},
		{"weak trend ranges", domain.FeatureSet{HTFTrend: domain.TrendUp, TrendStrength: 0.2, ATR: 1}, 100, "ranging"},
		{"flat", domain.FeatureSet{HTFTrend: domain.TrendFlat, ATR: 1}, 100, "ranging"},
		{"unresolved", domain.FeatureSet{}, 100, "unknown"},
		{"volatile overrides trend", domain.FeatureSet{HTFTrend: domain.TrendUp, TrendStrength: 0.9, ATR: 2}, 100, "volatile"},
	}
	for _, tc := range cases {
		if got := regime(tc.feats, tc.price); got != tc.want {
			t.Errorf("%s: regime = %q, want %q", tc.name, got, tc.want)
		}
	}
}
