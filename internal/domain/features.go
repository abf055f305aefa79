package domain

// TrendUp, TrendDown and TrendFlat are the higher-timeframe trend labels. An
// empty label means the trend path could not be resolved and downstream
// consumers must treat it as missing, never as flat.
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"
)

// FeatureSet is the derived trend/volatility/structure/orderflow context the
// setup engine and validator consume. Zero values mean "unavailable" for the
// price-level fields and ReferenceCandle; consumers must not guess defaults.
type FeatureSet struct {
	Symbol string

	// Trend on the higher timeframe. HTFTrend is "" when unresolvable.
	HTFTrend      string
	TrendStrength float64 // 0..1

	// Volatility on the entry timeframe. 0 = unavailable.
	ATR float64
	RSI float64

	// Structure: nearest confirmed swing levels and recent range bounds.
	SwingHigh float64
	SwingLow  float64
	RangeHigh float64
	RangeLow  float64

	// Cross-source order-flow agreement in [-1, 1]; positive = net buying on
	// both feeds, negative = net selling, 0 = mixed or unavailable.
	FlowAlignment float64

	// Opaque inputs supplied by collaborators outside this core; neutral (0)
	// when absent.
	DerivativesPressure float64 // [-1, 1], sign is directional pressure
	LiquidationBias     float64 // [-1, 1]

	// SweepSide marks a recent liquidity sweep: "high", "low", or "".
	SweepSide string

	// ReferenceCandle is the latest confirmed bar on the entry timeframe.
	ReferenceCandle *Candle
}
