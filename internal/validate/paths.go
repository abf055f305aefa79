package validate

// Core data paths required before any numeric level may be computed. These
// exact strings are surfaced verbatim in ValidatedSetup.MissingPaths so a
// failure is diagnosable rather than guessed at.
const (
	PathHTFTrend        = "features.htf_trend"
	PathATR             = "features.atr"
	PathReferenceCandle = "features.reference_candle"
	PathSwingHigh       = "features.swing_high"
	PathSwingLow        = "features.swing_low"
	PathLastClosed      = "context.last_closed"
)

// missingCorePaths checks every required path for the active setup
// definition: the higher-timeframe trend label, a volatility measure, the
// reference candle, and the two reference price levels. Absent paths are
// reported, never defaulted.
func missingCorePaths(sctx SymbolContext) []string {
	var missing []string
	f := sctx.Features
	if f.HTFTrend == "" {
		missing = append(missing, PathHTFTrend)
	}
	if f.ATR <= 0 {
		missing = append(missing, PathATR)
	}
	if f.ReferenceCandle == nil {
		missing = append(missing, PathReferenceCandle)
	}
	if f.SwingHigh <= 0 {
		missing = append(missing, PathSwingHigh)
	}
	if f.SwingLow <= 0 {
		missing = append(missing, PathSwingLow)
	}
	return missing
}
