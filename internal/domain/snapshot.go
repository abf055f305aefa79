package domain

import "time"

// Grade is a coarse data-quality verdict derived from the numeric score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// DataQuality carries the snapshot's quality score, its mapped grade, and the
// penalty reasons that produced it.
type DataQuality struct {
	Score   float64
	Grade   Grade
	Reasons []string
}

// ExchangeHealth is the per-exchange liveness verdict at build time. Live is
// the three-way AND of Connected, a fresh heartbeat, and a fresh out-of-band
// reachability probe.
type ExchangeHealth struct {
	Exchange     string
	Connected    bool
	HeartbeatAge time.Duration
	ProbeAge     time.Duration
	Live         bool
}

// OrderFlow summarizes recent trade prints on the shortest timeframe.
type OrderFlow struct {
	Exchange   string
	TradeCount int
	BuyVolume  float64
	SellVolume float64
	Delta      float64
	LastTrade  time.Time
}

// TimeframeNode bundles the per-exchange candle series for one timeframe
// together with staleness diagnostics. Order flow is attached only to the
// shortest timeframe.
type TimeframeNode struct {
	Timeframe Timeframe
	Candles   map[string][]Candle
	Staleness map[string]time.Duration
	OrderFlow []OrderFlow
}

// LeadLag is the cross-exchange lead/lag verdict. Leader is empty when no
// lag produced a correlation above the significance threshold or when either
// side had too few return samples.
type LeadLag struct {
	Leader      string
	LagBars     int
	Correlation float64
	Samples     int
}

// CrossExchange compares the two feeds: price deviation in basis points on
// the most recent common timeframe plus the lead/lag verdict.
type CrossExchange struct {
	DeviationBps float64
	DeviationTF  Timeframe
	LeadLag      LeadLag
}

// UnifiedSnapshot is the immutable fused view of all feed stores produced by
// one build cycle. Once built it is never mutated; every rebuild allocates a
// new snapshot.
type UnifiedSnapshot struct {
	Symbol      string
	GeneratedAt time.Time
	ClockSkew   time.Duration

	BestBid float64
	BestAsk float64
	Mid     float64

	Books      map[string]OrderBook
	Exchanges  []ExchangeHealth
	Timeframes []TimeframeNode
	Cross      *CrossExchange
	Quality    DataQuality
}

// Node returns the timeframe node for tf, or nil when absent.
func (s *UnifiedSnapshot) Node(tf Timeframe) *TimeframeNode {
	for i := range s.Timeframes {
		if s.Timeframes[i].Timeframe == tf {
			return &s.Timeframes[i]
		}
	}
	return nil
}

// CandlesFor returns the candle series for one exchange and timeframe, or nil.
func (s *UnifiedSnapshot) CandlesFor(exchange string, tf Timeframe) []Candle {
	node := s.Node(tf)
	if node == nil {
		return nil
	}
	return node.Candles[exchange]
}

// Live reports whether the named exchange passed the three-way liveness check.
func (s *UnifiedSnapshot) Live(exchange string) bool {
	for _, h := range s.Exchanges {
		if h.Exchange == exchange {
			return h.Live
		}
	}
	return false
}
