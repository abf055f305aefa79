package setups

import (
	"fmt"
	"math"

	"github.com/quantfold/marketfuse/internal/domain"
)

// candidateLevels are the proposed price levels for one candidate before
// scoring. Zero levels mean the archetype's geometry could not be resolved
// from the available features; the candidate is still emitted (archetypes are
// never eliminated outright) but scores and caps reflect the gap.
type candidateLevels struct {
	entry   domain.EntryZone
	stop    float64
	trigger string
}

func (c candidateLevels) resolved() bool {
	return c.entry.Low > 0 && c.entry.High > 0 && c.stop > 0
}

// rawStrength scores the archetype-specific geometry in [0, 1] before any
// evidence weighting.
func rawStrength(typ domain.SetupType, side domain.Side, price float64, feats domain.FeatureSet) float64 {
	sign := sideSign(side)
	switch typ {
	case domain.SetupTrendContinuation:
		switch {
		case feats.HTFTrend == "":
			return 0.40
		case (feats.HTFTrend == domain.TrendUp) == (side == domain.SideLong) && feats.HTFTrend != domain.TrendFlat:
			return 0.45 + 0.35*feats.TrendStrength
		case feats.HTFTrend == domain.TrendFlat:
			return 0.40
		default:
			return 0.45 - 0.25*feats.TrendStrength
		}

	case domain.SetupBreakout:
		edge := feats.RangeHigh
		if side == domain.SideShort {
			edge = feats.RangeLow
		}
		if edge <= 0 || feats.ATR <= 0 || price <= 0 {
			return 0.35
		}
		dist := sign * (edge - price) / feats.ATR
		if dist < 0 {
			// Already through the level: momentum continuation, slightly
			// weaker than a fresh break.
			return 0.55
		}
		return clampRange(0.75-0.15*dist, 0.20, 0.75)

	case domain.SetupMeanReversion:
		lo, hi := feats.RangeLow, feats.RangeHigh
		if lo <= 0 || hi <= lo || price <= 0 {
			return 0.35
		}
		pos := (price - lo) / (hi - lo) // 0 at range low, 1 at range high
		edgeProximity := pos
		if side == domain.SideLong {
			edgeProximity = 1 - pos
		}
		raw := 0.25 + 0.40*edgeProximity
		if feats.RSI > 0 {
			if side == domain.SideLong && feats.RSI < 35 {
				raw += 0.10
			}
			if side == domain.SideShort && feats.RSI > 65 {
				raw += 0.10
			}
		}
		return clampRange(raw, 0.10, 0.80)

	case domain.SetupReversalSweep:
		want := "low"
		if side == domain.SideShort {
			want = "high"
		}
		switch feats.SweepSide {
		case want:
			return 0.65
		case "":
			return 0.30
		default:
			return 0.20
		}
	}
	return 0.30
}

// levels proposes the entry zone and protective stop for one candidate, in
// ATR units around the reference geometry. Mirrored for shorts.
func levels(typ domain.SetupType, side domain.Side, price float64, feats domain.FeatureSet) candidateLevels {
	a := feats.ATR
	ref := price
	if feats.ReferenceCandle != nil {
		ref = feats.ReferenceCandle.Close
	}
	if a <= 0 || ref <= 0 {
		return candidateLevels{trigger: "levels unresolved: volatility unavailable"}
	}
	sign := sideSign(side)

	var c candidateLevels
	switch typ {
	case domain.SetupTrendContinuation:
		c.entry = zone(ref-sign*0.50*a, ref-sign*0.10*a)
		c.stop = edge(side, c.entry) - sign*1.00*a
		c.trigger = fmt.Sprintf("pullback into %.4f-%.4f with %s trend intact", c.entry.Low, c.entry.High, feats.HTFTrend)

	case domain.SetupBreakout:
		lvl := feats.RangeHigh
		if side == domain.SideShort {
			lvl = feats.RangeLow
		}
		if lvl <= 0 {
			return candidateLevels{trigger: "levels unresolved: range bounds unavailable"}
		}
		c.entry = zone(lvl, lvl+sign*0.25*a)
		c.stop = lvl - sign*1.20*a
		c.trigger = fmt.Sprintf("break and hold beyond %.4f", lvl)

	case domain.SetupMeanReversion:
		lvl := feats.RangeLow
		if side == domain.SideShort {
			lvl = feats.RangeHigh
		}
		if lvl <= 0 {
			return candidateLevels{trigger: "levels unresolved: range bounds unavailable"}
		}
		c.entry = zone(lvl-sign*0.10*a, lvl+sign*0.40*a)
		c.stop = lvl - sign*1.00*a
		c.trigger = fmt.Sprintf("fade back from range edge %.4f", lvl)

	case domain.SetupReversalSweep:
		base := feats.SwingLow
		if side == domain.SideShort {
			base = feats.SwingHigh
		}
		if base <= 0 {
			base = ref - sign*0.50*a
		}
		c.entry = zone(ref-sign*0.35*a, ref+sign*0.15*a)
		c.stop = base - sign*0.60*a
		c.trigger = "sweep reclaimed, entry on retest"
	}
	if c.stop <= 0 {
		return candidateLevels{trigger: c.trigger}
	}
	return c
}

// zone orders the two bounds regardless of side direction.
func zone(a, b float64) domain.EntryZone {
	return domain.EntryZone{Low: math.Min(a, b), High: math.Max(a, b)}
}

// edge returns the zone bound nearest the stop for the side.
func edge(side domain.Side, z domain.EntryZone) float64 {
	if side == domain.SideLong {
		return z.Low
	}
	return z.High
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
