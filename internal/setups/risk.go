package setups

import "github.com/quantfold/marketfuse/internal/domain"

// RiskReward returns reward/risk from entry to target given the protective
// stop. A stop on the wrong side of entry for the trade's direction is
// inverted risk and returns domain.ErrInvertedStop; it is never silently
// corrected.
func RiskReward(side domain.Side, entry, stop, target float64) (float64, error) {
	if entry <= 0 || stop <= 0 || target <= 0 {
		return 0, domain.ErrNoData
	}
	var risk, reward float64
	if side == domain.SideLong {
		risk = entry - stop
		reward = target - entry
	} else {
		risk = stop - entry
		reward = entry - target
	}
	if risk <= 0 {
		return 0, domain.ErrInvertedStop
	}
	if reward <= 0 {
		return 0, nil
	}
	return reward / risk, nil
}

// structuralTarget picks the nearest opposing swing level for the side, or 0
// when structure is unavailable or on the wrong side of entry.
func structuralTarget(side domain.Side, entry float64, feats domain.FeatureSet) float64 {
	if side == domain.SideLong {
		if feats.SwingHigh > entry {
			return feats.SwingHigh
		}
		return 0
	}
	if feats.SwingLow > 0 && feats.SwingLow < entry {
		return feats.SwingLow
	}
	return 0
}
