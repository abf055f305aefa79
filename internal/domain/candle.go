package domain

import "time"

// Timeframe identifies a candle interval in exchange notation.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

// Timeframes lists every tracked interval from shortest to longest. The first
// entry is the order-flow timeframe.
var Timeframes = []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h}

// Duration returns the bar length of the timeframe. Unknown timeframes
// return 0.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	default:
		return 0
	}
}

// Candle is a single OHLCV bar. Confirmed distinguishes a closed bar from one
// that is still forming; a forming candle's Close is provisional and must not
// be treated as a confirmation trigger.
type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Confirmed bool
}

// CloseTime returns the nominal close time of the bar on the given timeframe.
func (c Candle) CloseTime(tf Timeframe) time.Time {
	return c.OpenTime.Add(tf.Duration())
}
