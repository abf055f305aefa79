package snapshot

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/feedstore"
)

// healthyState fabricates a feed state that passes every liveness and
// freshness check: fresh heartbeat and probe, usable book, recent trades, and
// two confirmed bars per timeframe closing at lastClose.
func healthyState(name string, now time.Time, lastClose float64) feedstore.FeedState {
	candles := make(map[domain.Timeframe][]domain.Candle, len(domain.Timeframes))
	for _, tf := range domain.Timeframes {
		d := tf.Duration()
		candles[tf] = []domain.Candle{
			{OpenTime: now.Add(-2 * d), Open: lastClose, High: lastClose, Low: lastClose, Close: lastClose, Confirmed: true},
			{OpenTime: now.Add(-d), Open: lastClose, High: lastClose, Low: lastClose, Close: lastClose, Confirmed: true},
		}
	}
	return feedstore.FeedState{
		Exchange:    name,
		Symbol:      "BTCUSDT",
		Connected:   true,
		LastMsgAt:   now,
		LastEventAt: now,
		LastProbeAt: now,
		LastTradeAt: now,
		Candles:     candles,
		Trades: []domain.Trade{
			{Time: now, Price: lastClose, Size: 1, Side: domain.TradeBuy},
		},
		Book: domain.OrderBook{
			Bids: []domain.PriceLevel{{Price: lastClose - 0.5, Size: 1}},
			Asks: []domain.PriceLevel{{Price: lastClose + 0.5, Size: 1}},
			Time: now,
		},
		BookUsable: true,
	}
}

func TestLivenessIsThreeWayAnd(t *testing.T) {
	b := NewBuilder(Config{})
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*feedstore.FeedState)
		live   bool
	}{
		{"all fresh", func(st *feedstore.FeedState) {}, true},
		{"disconnected", func(st *feedstore.FeedState) { st.Connected = false }, false},
		{"stale heartbeat", func(st *feedstore.FeedState) { st.LastMsgAt = now.Add(-time.Minute) }, false},
		{"no heartbeat", func(st *feedstore.FeedState) { st.LastMsgAt = time.Time{} }, false},
		{"stale probe", func(st *feedstore.FeedState) { st.LastProbeAt = now.Add(-time.Minute) }, false},
		{"no probe", func(st *feedstore.FeedState) { st.LastProbeAt = time.Time{} }, false},
	}
	for _, tc := range cases {
		st := healthyState("binance", now, 100)
		tc.mutate(&st)
		snap := b.Build(now, st)
		if got := snap.Exchanges[0].Live; got != tc.live {
			t.Errorf("%s: Live = %v, want %v", tc.name, got, tc.live)
		}
	}
}

func TestHealthySnapshotGradesA(t *testing.T) {
	b := NewBuilder(Config{})
	now := time.Now()

	snap := b.Build(now, healthyState("binance", now, 100), healthyState("bybit", now, 100))

	if snap.Quality.Score != 100 {
		t.Fatalf("Score = %v (reasons %v), want 100", snap.Quality.Score, snap.Quality.Reasons)
	}
	if snap.Quality.Grade != domain.GradeA {
		t.Fatalf("Grade = %s, want A", snap.Quality.Grade)
	}
}

func TestDeadFeedGradesD(t *testing.T) {
	b := NewBuilder(Config{})
	now := time.Now()

	snap := b.Build(now, feedstore.FeedState{Exchange: "binance", Symbol: "BTCUSDT"})

	if snap.Quality.Grade != domain.GradeD {
		t.Fatalf("Grade = %s (score %v), want D", snap.Quality.Grade, snap.Quality.Score)
	}
	if len(snap.Quality.Reasons) == 0 {
		t.Fatal("expected penalty reasons for a dead feed")
	}
}

func TestGradeBreakpoints(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.Grade
	}{
		{100, domain.GradeA}, {85, domain.GradeA},
		{84.9, domain.GradeB}, {70, domain.GradeB},
		{69.9, domain.GradeC}, {50, domain.GradeC},
		{49.9, domain.GradeD}, {0, domain.GradeD},
	}
	for _, tc := range cases {
		if got := gradeFor(tc.score); got != tc.want {
			t.Errorf("gradeFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestIdenticalFeedsDeviateZero(t *testing.T) {
	b := NewBuilder(Config{})
	now := time.Now()

	snap := b.Build(now, healthyState("binance", now, 100), healthyState("bybit", now, 100))

	if snap.Cross == nil {
		t.Fatal("Cross missing with two feeds")
	}
	if snap.Cross.DeviationBps != 0 {
		t.Fatalf("DeviationBps = %v, want 0 for identical closes", snap.Cross.DeviationBps)
	}
	if snap.Cross.DeviationTF != domain.Timeframe1m {
		t.Fatalf("DeviationTF = %s, want 1m", snap.Cross.DeviationTF)
	}
	if snap.Quality.Grade != domain.GradeA && snap.Quality.Grade != domain.GradeB {
		t.Fatalf("Grade = %s, want at least B for two healthy feeds", snap.Quality.Grade)
	}
}

func TestDeviationBps(t *testing.T) {
	open := time.Now().Truncate(time.Minute)
	as := []domain.Candle{{OpenTime: open, Close: 101, Confirmed: true}}
	bs := []domain.Candle{{OpenTime: open, Close: 99, Confirmed: true}}

	bps, ok := deviationBps(as, bs)
	if !ok {
		t.Fatal("deviationBps found no common bar")
	}
	if math.Abs(bps-200) > 1e-9 {
		t.Fatalf("bps = %v, want 200", bps)
	}
}

func TestDeviationSkipsFormingBars(t *testing.T) {
	open := time.Now().Truncate(time.Minute)
	as := []domain.Candle{
		{OpenTime: open.Add(-time.Minute), Close: 100, Confirmed: true},
		{OpenTime: open, Close: 150, Confirmed: false},
	}
	bs := []domain.Candle{
		{OpenTime: open.Add(-time.Minute), Close: 100, Confirmed: true},
		{OpenTime: open, Close: 50, Confirmed: false},
	}

	bps, ok := deviationBps(as, bs)
	if !ok || bps != 0 {
		t.Fatalf("bps = %v, %v; forming bars must not drive deviation", bps, ok)
	}
}

func TestLeadLagNeutralOnFewSamples(t *testing.T) {
	ll := leadLag("binance", []float64{100, 101, 102}, "bybit", []float64{100, 101, 102}, 3)
	if ll.Leader != "" {
		t.Fatalf("Leader = %q, want neutral with %d samples", ll.Leader, ll.Samples)
	}
	if ll.Samples >= minLeadLagSamples {
		t.Fatalf("Samples = %d, expected below threshold", ll.Samples)
	}
}

func TestLeadLagDetectsLeader(t *testing.T) {
	// Build b as a one-bar-delayed copy of a: a's return i becomes b's
	// return i+1, so a leads by exactly one bar.
	const n = 130
	returns := make([]float64, n)
	for i := range returns {
		returns[i] = 0.001 * math.Sin(0.9*float64(i))
	}
	closesA := []float64{100}
	closesB := []float64{100}
	for i := 0; i < n; i++ {
		closesA = append(closesA, closesA[len(closesA)-1]*math.Exp(returns[i]))
		if i == 0 {
			closesB = append(closesB, closesB[len(closesB)-1])
		} else {
			closesB = append(closesB, closesB[len(closesB)-1]*math.Exp(returns[i-1]))
		}
	}

	ll := leadLag("binance", closesA, "bybit", closesB, 3)
	if ll.Leader != "binance" {
		t.Fatalf("Leader = %q (corr %v, lag %d), want binance", ll.Leader, ll.Correlation, ll.LagBars)
	}
	if ll.LagBars != 1 {
		t.Fatalf("LagBars = %d, want 1", ll.LagBars)
	}
	if ll.Correlation < leadLagThreshold {
		t.Fatalf("Correlation = %v, below threshold", ll.Correlation)
	}
}

func TestTopOfBookAcrossFeeds(t *testing.T) {
	b := NewBuilder(Config{})
	now := time.Now()

	a := healthyState("binance", now, 100)
	o := healthyState("bybit", now, 100)
	a.Book.Bids = []domain.PriceLevel{{Price: 99.8, Size: 1}}
	a.Book.Asks = []domain.PriceLevel{{Price: 100.4, Size: 1}}
	o.Book.Bids = []domain.PriceLevel{{Price: 99.9, Size: 1}}
	o.Book.Asks = []domain.PriceLevel{{Price: 100.6, Size: 1}}

	snap := b.Build(now, a, o)
	if snap.BestBid != 99.9 || snap.BestAsk != 100.4 {
		t.Fatalf("top of book = %v/%v, want 99.9/100.4", snap.BestBid, snap.BestAsk)
	}
	if math.Abs(snap.Mid-100.15) > 1e-9 {
		t.Fatalf("Mid = %v, want 100.15", snap.Mid)
	}
}

func TestCrossedBookExcludedAndPenalized(t *testing.T) {
	b := NewBuilder(Config{})
	now := time.Now()

	good := healthyState("binance", now, 100)
	bad := healthyState("bybit", now, 100)
	bad.Book.Bids = []domain.PriceLevel{{Price: 100.6, Size: 1}}
	bad.Book.Asks = []domain.PriceLevel{{Price: 100.4, Size: 1}}
	bad.BookUsable = bad.Book.Usable()
	if bad.BookUsable {
		t.Fatal("crossed book reported usable")
	}

	snap := b.Build(now, good, bad)

	if _, ok := snap.Books["bybit"]; ok {
		t.Fatal("crossed book included in the fused books")
	}
	if _, ok := snap.Books["binance"]; !ok {
		t.Fatal("healthy book missing from the fused books")
	}
	if snap.BestBid != 99.5 || snap.BestAsk != 100.5 {
		t.Fatalf("top of book = %v/%v, want 99.5/100.5 from the healthy feed only", snap.BestBid, snap.BestAsk)
	}

	if snap.Quality.Score != 100-penaltyBook {
		t.Fatalf("Score = %v (reasons %v), want %v", snap.Quality.Score, snap.Quality.Reasons, 100-penaltyBook)
	}
	found := false
	for _, r := range snap.Quality.Reasons {
		if strings.Contains(r, "bybit") && strings.Contains(r, "book") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no book penalty reason for bybit in %v", snap.Quality.Reasons)
	}
}

func TestStalenessSentinelForEmptySeries(t *testing.T) {
	b := NewBuilder(Config{})
	now := time.Now()

	st := healthyState("binance", now, 100)
	st.Candles[domain.Timeframe4h] = nil

	snap := b.Build(now, st)
	node := snap.Node(domain.Timeframe4h)
	if node == nil {
		t.Fatal("4h node missing")
	}
	if got := node.Staleness["binance"]; got != -1 {
		t.Fatalf("Staleness = %v, want -1 sentinel for missing data", got)
	}
}

func TestOrderFlowAggregation(t *testing.T) {
	b := NewBuilder(Config{})
	now := time.Now()

	st := healthyState("binance", now, 100)
	st.Trades = []domain.Trade{
		{Time: now, Price: 100, Size: 2, Side: domain.TradeBuy},
		{Time: now, Price: 100, Size: 3, Side: domain.TradeBuy},
		{Time: now, Price: 100, Size: 1, Side: domain.TradeSell},
	}

	snap := b.Build(now, st)
	flows := snap.Timeframes[0].OrderFlow
	if len(flows) != 1 {
		t.Fatalf("flow entries = %d, want 1", len(flows))
	}
	of := flows[0]
	if of.TradeCount != 3 || of.BuyVolume != 5 || of.SellVolume != 1 || of.Delta != 4 {
		t.Fatalf("order flow = %+v, want count 3, buy 5, sell 1, delta 4", of)
	}
}
