package setups

import (
	"math"

	"github.com/quantfold/marketfuse/internal/domain"
)

const (
	// capBase is the hard confidence ceiling.
	capBase = 0.85

	// capStrong is the relaxed ceiling, granted only when the strict
	// evidence-strong predicate holds.
	capStrong = 0.92

	// temperature range: weak evidence damps confidence toward 0.5, strong
	// corroboration sharpens it.
	tempMax  = 1.30
	tempStep = 0.10
)

// factor is one evidence contribution in log-odds space.
type factor struct {
	name   string
	delta  float64
	strong bool
}

// combine folds the raw archetype strength and the evidence factors into a
// final confidence. The raw score is compressed toward 0.5 first so a single
// enthusiastic heuristic cannot produce an overconfident prior, and the
// summed log-odds are divided by the evidence temperature before the sigmoid.
func combine(raw float64, factors []factor, strongCap bool) domain.ConfidenceBreakdown {
	raw = clamp01(raw)
	base := 0.5 + (raw-0.5)*0.6

	bd := domain.ConfidenceBreakdown{
		Base:       base,
		Components: make(map[string]float64, len(factors)),
	}

	logOdds := math.Log(base / (1 - base))
	strongCount := 0
	for _, f := range factors {
		bd.Components[f.name] = f.delta
		logOdds += f.delta
		if f.strong {
			strongCount++
		}
	}
	if strongCount > 3 {
		strongCount = 3
	}
	bd.Temperature = tempMax - tempStep*float64(strongCount)

	bd.Raw = sigmoid(logOdds / bd.Temperature)
	bd.Cap = capBase
	if strongCap {
		bd.Cap = capStrong
	}
	bd.Final = math.Min(bd.Raw, bd.Cap)
	return bd
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func clamp01(v float64) float64 {
	return math.Max(0.02, math.Min(0.98, v))
}

func sideSign(side domain.Side) float64 {
	if side == domain.SideLong {
		return 1
	}
	return -1
}

// evidenceFactors builds the per-factor log-odds deltas for one candidate.
func evidenceFactors(typ domain.SetupType, side domain.Side, feats domain.FeatureSet) []factor {
	sign := sideSign(side)
	var out []factor

	// Trend alignment on the higher timeframe.
	if feats.HTFTrend == domain.TrendUp || feats.HTFTrend == domain.TrendDown {
		trendSign := 1.0
		if feats.HTFTrend == domain.TrendDown {
			trendSign = -1
		}
		delta := 0.55 * sign * trendSign * feats.TrendStrength
		out = append(out, factor{
			name:   "trend_alignment",
			delta:  delta,
			strong: delta > 0 && feats.TrendStrength >= 0.5,
		})
	}

	// Cross-source order-flow agreement.
	if feats.FlowAlignment != 0 {
		delta := 0.45 * sign * feats.FlowAlignment
		out = append(out, factor{
			name:   "orderflow",
			delta:  delta,
			strong: delta > 0 && math.Abs(feats.FlowAlignment) >= 0.3,
		})
	}

	// Derivatives positioning only ever penalizes: crowded pressure against
	// the trade direction subtracts, alignment adds nothing.
	if opposing := sign * feats.DerivativesPressure; opposing < 0 {
		out = append(out, factor{name: "derivatives", delta: 0.35 * opposing})
	}

	// Liquidation cascades in the trade direction corroborate it.
	if feats.LiquidationBias != 0 {
		delta := 0.25 * sign * feats.LiquidationBias
		out = append(out, factor{
			name:   "liquidations",
			delta:  delta,
			strong: delta > 0 && math.Abs(feats.LiquidationBias) >= 0.5,
		})
	}

	// Sweep polarity applies to the reversal archetype only: a long reversal
	// wants the lows swept and reclaimed, a short the highs.
	if typ == domain.SetupReversalSweep {
		want := "low"
		if side == domain.SideShort {
			want = "high"
		}
		switch feats.SweepSide {
		case want:
			out = append(out, factor{name: "sweep_polarity", delta: 0.50, strong: true})
		case "":
			out = append(out, factor{name: "sweep_polarity", delta: -0.10})
		default:
			out = append(out, factor{name: "sweep_polarity", delta: -0.60})
		}
	}

	return out
}

// evidenceStrong is the strict predicate that relaxes the confidence cap to
// 0.92: all core price levels resolvable, directional alignment clearly above
// threshold, and order flow not contradicting the direction.
func evidenceStrong(c candidateLevels, side domain.Side, feats domain.FeatureSet) bool {
	if !c.resolved() || feats.SwingHigh <= 0 || feats.SwingLow <= 0 {
		return false
	}
	sign := sideSign(side)
	aligned := (feats.HTFTrend == domain.TrendUp && side == domain.SideLong) ||
		(feats.HTFTrend == domain.TrendDown && side == domain.SideShort)
	if !aligned || feats.TrendStrength < 0.6 {
		return false
	}
	return sign*feats.FlowAlignment >= -0.05
}
