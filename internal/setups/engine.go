// Package setups generates, scores and ranks directional trade candidates
// from a UnifiedSnapshot and its derived features. Candidates are created
// fresh on every cycle across four archetypes per side; an archetype is never
// eliminated outright, only down-weighted through its confidence. Confidence
// is combined in log-odds space with an evidence-temperature damp and a hard
// cap, which keeps the output reproducible from the same inputs.
package setups

import (
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/quantfold/marketfuse/internal/domain"
)

// Config tunes the engine.
type Config struct {
	// TopN bounds Evaluation.Top.
	TopN int
}

// Engine builds ranked setup evaluations. It is a pure function of its
// inputs, performs no I/O, and holds no mutable state, so it is safe to run
// on any worker alongside feed ingestion.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "setup_engine")),
	}
}

// BuildSetups generates candidates for both sides across every archetype,
// scores them, and selects the primary and a maximally-diverse alternative.
func (e *Engine) BuildSetups(snap domain.UnifiedSnapshot, feats domain.FeatureSet) domain.Evaluation {
	price := snap.Mid
	if price <= 0 && feats.ReferenceCandle != nil {
		price = feats.ReferenceCandle.Close
	}

	candidates := make([]domain.SetupCandidate, 0, len(domain.SetupTypes)*2)
	for _, side := range []domain.Side{domain.SideLong, domain.SideShort} {
		for _, typ := range domain.SetupTypes {
			candidates = append(candidates, e.buildCandidate(snap, feats, typ, side, price))
		}
	}

	rank(candidates)

	ev := domain.Evaluation{
		Symbol:      snap.Symbol,
		Regime:      regime(feats, price),
		GeneratedAt: snap.GeneratedAt,
	}
	if len(candidates) > 0 {
		primary := candidates[0]
		ev.Primary = &primary
		if alt := alternative(candidates); alt != nil {
			ev.Alternative = alt
		}
	}
	top := e.cfg.TopN
	if top > len(candidates) {
		top = len(candidates)
	}
	ev.Top = candidates[:top]
	return ev
}

func (e *Engine) buildCandidate(snap domain.UnifiedSnapshot, feats domain.FeatureSet, typ domain.SetupType, side domain.Side, price float64) domain.SetupCandidate {
	lv := levels(typ, side, price, feats)
	raw := rawStrength(typ, side, price, feats)
	factors := evidenceFactors(typ, side, feats)
	bd := combine(raw, factors, evidenceStrong(lv, side, feats))

	c := domain.SetupCandidate{
		ID:         uuid.NewString(),
		Symbol:     snap.Symbol,
		Type:       typ,
		Side:       side,
		Trigger:    lv.trigger,
		Confidence: bd.Final,
		Breakdown:  bd,
		CreatedAt:  snap.GeneratedAt,
	}

	if lv.resolved() {
		entry := lv.entry.Mid()
		sign := sideSign(side)
		r := sign * (entry - lv.stop)
		c.Entry = lv.entry
		c.Stop = lv.stop
		c.Targets = domain.Targets{TP1: entry + sign*r, TP2: entry + sign*2*r}

		if rr, err := RiskReward(side, entry, lv.stop, c.Targets.TP1); err == nil {
			c.RRFixed = rr
		}
		if target := structuralTarget(side, entry, feats); target > 0 {
			if rr, err := RiskReward(side, entry, lv.stop, target); err == nil {
				c.RRStructural = rr
			}
		}
	}

	c.Rationale = rationale(typ, feats, bd)
	return c
}

// rank orders by confidence first, then by structural RR, falling back to the
// fixed-target RR when structure is unavailable on both.
func rank(cs []domain.SetupCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Confidence != cs[j].Confidence {
			return cs[i].Confidence > cs[j].Confidence
		}
		ri, rj := tieBreakRR(cs[i]), tieBreakRR(cs[j])
		return ri > rj
	})
}

func tieBreakRR(c domain.SetupCandidate) float64 {
	if c.RRStructural > 0 {
		return c.RRStructural
	}
	return c.RRFixed
}

// alternative prefers a different archetype from the primary before falling
// back to a different side, so the two surfaced ideas are maximally diverse.
func alternative(cs []domain.SetupCandidate) *domain.SetupCandidate {
	if len(cs) < 2 {
		return nil
	}
	primary := cs[0]
	for i := 1; i < len(cs); i++ {
		if cs[i].Type != primary.Type {
			alt := cs[i]
			return &alt
		}
	}
	for i := 1; i < len(cs); i++ {
		if cs[i].Side == primary.Side.Opposite() {
			alt := cs[i]
			return &alt
		}
	}
	return nil
}

func regime(feats domain.FeatureSet, price float64) string {
	if price > 0 && feats.ATR > 0 && feats.ATR/price > 0.015 {
		return "volatile"
	}
	switch {
	case feats.HTFTrend == domain.TrendUp && feats.TrendStrength >= 0.4:
		return "trending_up"
	case feats.HTFTrend == domain.TrendDown && feats.TrendStrength >= 0.4:
		return "trending_down"
	case feats.HTFTrend == "":
		return "unknown"
	default:
		return "ranging"
	}
}

func rationale(typ domain.SetupType, feats domain.FeatureSet, bd domain.ConfidenceBreakdown) []string {
	out := make([]string, 0, 4)
	if feats.HTFTrend != "" {
		out = append(out, "htf trend: "+feats.HTFTrend)
	}
	if d, ok := bd.Components["orderflow"]; ok && math.Abs(d) > 0.05 {
		if d > 0 {
			out = append(out, "order flow agrees across feeds")
		} else {
			out = append(out, "order flow leans against the idea")
		}
	}
	if d, ok := bd.Components["sweep_polarity"]; ok && typ == domain.SetupReversalSweep {
		if d > 0 {
			out = append(out, "liquidity sweep reclaimed in trade direction")
		} else {
			out = append(out, "no supporting sweep for reversal")
		}
	}
	if d, ok := bd.Components["derivatives"]; ok && d < 0 {
		out = append(out, "derivatives positioning penalizes entry")
	}
	if bd.Cap > capBase {
		out = append(out, "evidence-strong: cap relaxed")
	}
	return out
}
