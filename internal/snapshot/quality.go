package snapshot

import (
	"fmt"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/feedstore"
)

// Penalty weights reflect decreasing time-sensitivity: a dead order book is
// worse than silent trades, which is worse than a lagging long-timeframe
// candle series.
const (
	penaltyOffline     = 30.0
	penaltyBook        = 25.0
	penaltyTrades      = 15.0
	penaltyShortCandle = 10.0
	penaltyLongCandle  = 4.0

	tradeStaleAfter = 20 * time.Second
)

// quality computes the data-quality score and grade. The score starts at 100
// and each stale or disconnected signal subtracts its weighted penalty, with
// a floor at 0.
func (b *Builder) quality(now time.Time, snap domain.UnifiedSnapshot, states []feedstore.FeedState) domain.DataQuality {
	score := 100.0
	var reasons []string
	penalize := func(p float64, format string, args ...any) {
		score -= p
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	for i, st := range states {
		if !snap.Exchanges[i].Live {
			penalize(penaltyOffline, "%s: feed offline", st.Exchange)
		}
		if !st.BookUsable || now.Sub(st.Book.Time) > b.cfg.HeartbeatTTL {
			penalize(penaltyBook, "%s: order book unusable or stale", st.Exchange)
		}
		if st.LastTradeAt.IsZero() || now.Sub(st.LastTradeAt) > tradeStaleAfter {
			penalize(penaltyTrades, "%s: no recent trades", st.Exchange)
		}
		for _, tf := range domain.Timeframes {
			age := staleness(now, tf, st.Candles[tf])
			// One full bar plus slack before a series counts as stale.
			if age >= 0 && age <= tf.Duration()+tf.Duration()/2 {
				continue
			}
			if tf == domain.Timeframe1m || tf == domain.Timeframe5m {
				penalize(penaltyShortCandle, "%s: %s candles stale", st.Exchange, tf)
			} else {
				penalize(penaltyLongCandle, "%s: %s candles stale", st.Exchange, tf)
			}
		}
	}

	if score < 0 {
		score = 0
	}
	return domain.DataQuality{Score: score, Grade: gradeFor(score), Reasons: reasons}
}

// gradeFor maps the numeric score onto the fixed grade breakpoints.
func gradeFor(score float64) domain.Grade {
	switch {
	case score >= 85:
		return domain.GradeA
	case score >= 70:
		return domain.GradeB
	case score >= 50:
		return domain.GradeC
	default:
		return domain.GradeD
	}
}
