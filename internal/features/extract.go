// Package features derives the trend/volatility/structure/orderflow context
// that the setup engine and validator consume from a UnifiedSnapshot. All
// indicator math runs on confirmed bars only; fields stay at their zero
// "unavailable" value when the underlying data path cannot be resolved.
package features

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/quantfold/marketfuse/internal/domain"
)

// Config selects the timeframes and indicator periods used for extraction.
type Config struct {
	TrendTF  domain.Timeframe
	EntryTF  domain.Timeframe
	EMAFast  int
	EMASlow  int
	ATR      int
	RSI      int
	Range    int // bars considered for range bounds
	Pivot    int // bars on each side of a swing pivot
	SweepBar int // lookback window for sweep detection
}

// DefaultConfig returns the production extraction parameters.
func DefaultConfig() Config {
	return Config{
		TrendTF:  domain.Timeframe1h,
		EntryTF:  domain.Timeframe15m,
		EMAFast:  20,
		EMASlow:  50,
		ATR:      14,
		RSI:      14,
		Range:    48,
		Pivot:    2,
		SweepBar: 10,
	}
}

// External carries opaque directional inputs supplied by collaborators
// outside this core (derivatives and liquidation telemetry). Zero values are
// neutral.
type External struct {
	DerivativesPressure float64
	LiquidationBias     float64
}

// Extract computes a FeatureSet from the snapshot. It prefers the first live
// exchange with entry-timeframe data and falls back to any exchange that has
// some.
func Extract(snap domain.UnifiedSnapshot, cfg Config, ext External) domain.FeatureSet {
	fs := domain.FeatureSet{
		Symbol:              snap.Symbol,
		DerivativesPressure: ext.DerivativesPressure,
		LiquidationBias:     ext.LiquidationBias,
	}

	exchange := primaryExchange(snap, cfg.EntryTF)
	if exchange == "" {
		return fs
	}

	trendBars := confirmed(snap.CandlesFor(exchange, cfg.TrendTF))
	entryBars := confirmed(snap.CandlesFor(exchange, cfg.EntryTF))

	fs.HTFTrend, fs.TrendStrength = trend(trendBars, cfg)
	fs.ATR = atr(entryBars, cfg.ATR)
	fs.RSI = rsi(entryBars, cfg.RSI)
	fs.SwingHigh, fs.SwingLow = swings(entryBars, cfg.Pivot)
	fs.RangeHigh, fs.RangeLow = rangeBounds(entryBars, cfg.Range)
	fs.FlowAlignment = flowAlignment(snap)
	fs.SweepSide = sweep(entryBars, cfg.SweepBar)
	if len(entryBars) > 0 {
		ref := entryBars[len(entryBars)-1]
		fs.ReferenceCandle = &ref
	}
	return fs
}

func primaryExchange(snap domain.UnifiedSnapshot, tf domain.Timeframe) string {
	var fallback string
	for _, h := range snap.Exchanges {
		if len(snap.CandlesFor(h.Exchange, tf)) == 0 {
			continue
		}
		if h.Live {
			return h.Exchange
		}
		if fallback == "" {
			fallback = h.Exchange
		}
	}
	return fallback
}

func confirmed(series []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, 0, len(series))
	for _, c := range series {
		if c.Confirmed {
			out = append(out, c)
		}
	}
	return out
}

// trend labels the higher timeframe by fast/slow EMA separation, with the
// strength normalized by the slow EMA so it stays in [0, 1] across symbols.
func trend(bars []domain.Candle, cfg Config) (string, float64) {
	if len(bars) <= cfg.EMASlow {
		return "", 0
	}
	closes := closesOf(bars)
	fast := talib.Ema(closes, cfg.EMAFast)
	slow := talib.Ema(closes, cfg.EMASlow)
	f, s := fast[len(fast)-1], slow[len(slow)-1]
	if s <= 0 {
		return "", 0
	}
	sep := (f - s) / s
	strength := math.Min(1, math.Abs(sep)*200) // 0.5% separation saturates
	const flatBand = 0.0005
	switch {
	case sep > flatBand:
		return domain.TrendUp, strength
	case sep < -flatBand:
		return domain.TrendDown, strength
	default:
		return domain.TrendFlat, strength
	}
}

func atr(bars []domain.Candle, period int) float64 {
	if len(bars) <= period {
		return 0
	}
	highs, lows, closes := hlcOf(bars)
	series := talib.Atr(highs, lows, closes, period)
	v := series[len(series)-1]
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	return v
}

func rsi(bars []domain.Candle, period int) float64 {
	if len(bars) <= period {
		return 0
	}
	series := talib.Rsi(closesOf(bars), period)
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// swings returns the most recent confirmed pivot high and pivot low: a bar
// strictly higher (lower) than its pivot-width neighbors on both sides.
func swings(bars []domain.Candle, width int) (high, low float64) {
	for i := len(bars) - 1 - width; i >= width; i-- {
		if high == 0 && isPivotHigh(bars, i, width) {
			high = bars[i].High
		}
		if low == 0 && isPivotLow(bars, i, width) {
			low = bars[i].Low
		}
		if high != 0 && low != 0 {
			break
		}
	}
	return high, low
}

func isPivotHigh(bars []domain.Candle, i, width int) bool {
	for j := i - width; j <= i+width; j++ {
		if j != i && bars[j].High >= bars[i].High {
			return false
		}
	}
	return true
}

func isPivotLow(bars []domain.Candle, i, width int) bool {
	for j := i - width; j <= i+width; j++ {
		if j != i && bars[j].Low <= bars[i].Low {
			return false
		}
	}
	return true
}

func rangeBounds(bars []domain.Candle, n int) (high, low float64) {
	if len(bars) == 0 {
		return 0, 0
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	high, low = bars[0].High, bars[0].Low
	for _, c := range bars[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low
}

// flowAlignment agrees across feeds: when every exchange's recent taker flow
// points the same way the magnitude is the mean normalized delta, otherwise 0.
func flowAlignment(snap domain.UnifiedSnapshot) float64 {
	if len(snap.Timeframes) == 0 {
		return 0
	}
	flows := snap.Timeframes[0].OrderFlow
	var sum float64
	var sign float64
	count := 0
	for _, of := range flows {
		total := of.BuyVolume + of.SellVolume
		if total <= 0 {
			continue
		}
		norm := of.Delta / total
		s := math.Copysign(1, norm)
		if count > 0 && s != sign {
			return 0
		}
		sign = s
		sum += norm
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// sweep detects a liquidity sweep in the last confirmed bar: a poke beyond
// the prior window's extreme with a close back inside it.
func sweep(bars []domain.Candle, window int) string {
	if len(bars) < window+1 {
		return ""
	}
	last := bars[len(bars)-1]
	prior := bars[len(bars)-1-window : len(bars)-1]
	lo, hi := prior[0].Low, prior[0].High
	for _, c := range prior[1:] {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	switch {
	case last.Low < lo && last.Close > lo:
		return "low"
	case last.High > hi && last.Close < hi:
		return "high"
	default:
		return ""
	}
}

func closesOf(bars []domain.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, c := range bars {
		out[i] = c.Close
	}
	return out
}

func hlcOf(bars []domain.Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	for i, c := range bars {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return highs, lows, closes
}
