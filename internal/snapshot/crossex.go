package snapshot

import (
	"math"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/feedstore"
)

// minLeadLagSamples is the minimum number of log-return samples per side
// below which the lead/lag verdict is neutral. Too few samples would produce
// a misleading spurious correlation rather than a signal.
const minLeadLagSamples = 30

// leadLagThreshold is the minimum cross-correlation required to declare a
// leader at all.
const leadLagThreshold = 0.15

// cross compares the first two feeds: close-price deviation in basis points
// on the most recent common timeframe (1m preferred, 5m fallback) and the
// lead/lag verdict from cross-correlated log returns.
func (b *Builder) cross(a, o feedstore.FeedState) *domain.CrossExchange {
	cx := &domain.CrossExchange{}

	for _, tf := range []domain.Timeframe{domain.Timeframe1m, domain.Timeframe5m} {
		if bps, ok := deviationBps(a.Candles[tf], o.Candles[tf]); ok {
			cx.DeviationBps = bps
			cx.DeviationTF = tf
			break
		}
	}

	cx.LeadLag = leadLag(
		a.Exchange, confirmedCloses(a.Candles[domain.Timeframe1m], b.cfg.LeadLagBars+1),
		o.Exchange, confirmedCloses(o.Candles[domain.Timeframe1m], b.cfg.LeadLagBars+1),
		b.cfg.LeadLagMaxLag,
	)
	return cx
}

// deviationBps compares the most recent pair of confirmed bars that share an
// open time: (a - b) / midpoint * 10000.
func deviationBps(as, bs []domain.Candle) (float64, bool) {
	ai, bi := len(as)-1, len(bs)-1
	for ai >= 0 && bi >= 0 {
		ac, bc := as[ai], bs[bi]
		if !ac.Confirmed {
			ai--
			continue
		}
		if !bc.Confirmed {
			bi--
			continue
		}
		switch {
		case ac.OpenTime.Equal(bc.OpenTime):
			mid := (ac.Close + bc.Close) / 2
			if mid <= 0 {
				return 0, false
			}
			return (ac.Close - bc.Close) / mid * 10_000, true
		case ac.OpenTime.After(bc.OpenTime):
			ai--
		default:
			bi--
		}
	}
	return 0, false
}

// confirmedCloses returns up to limit most recent confirmed closes, oldest
// first.
func confirmedCloses(series []domain.Candle, limit int) []float64 {
	out := make([]float64, 0, limit)
	for i := len(series) - 1; i >= 0 && len(out) < limit; i-- {
		if series[i].Confirmed {
			out = append(out, series[i].Close)
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// leadLag cross-correlates log returns of the two close series at integer
// lags in [-maxLag, +maxLag] and declares the exchange whose past returns
// best predict the other's, if the best correlation clears the threshold.
// Insufficient samples on either side return a neutral verdict.
func leadLag(nameA string, closesA []float64, nameB string, closesB []float64, maxLag int) domain.LeadLag {
	ra := logReturns(closesA)
	rb := logReturns(closesB)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < minLeadLagSamples {
		return domain.LeadLag{Samples: n}
	}
	ra = ra[len(ra)-n:]
	rb = rb[len(rb)-n:]

	bestLag := 0
	bestCorr := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		c, ok := corrAtLag(ra, rb, lag)
		if ok && c > bestCorr {
			bestCorr = c
			bestLag = lag
		}
	}

	ll := domain.LeadLag{Correlation: bestCorr, Samples: n}
	if math.IsInf(bestCorr, -1) || bestCorr < leadLagThreshold || bestLag == 0 {
		ll.Correlation = math.Max(bestCorr, 0)
		return ll
	}
	if bestLag > 0 {
		ll.Leader = nameA
		ll.LagBars = bestLag
	} else {
		ll.Leader = nameB
		ll.LagBars = -bestLag
	}
	return ll
}

func logReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}

// corrAtLag computes Pearson correlation between a shifted by lag and b:
// positive lag pairs a's earlier returns with b's later ones.
func corrAtLag(a, b []float64, lag int) (float64, bool) {
	var xs, ys []float64
	if lag >= 0 {
		xs = a[:len(a)-lag]
		ys = b[lag:]
	} else {
		xs = a[-lag:]
		ys = b[:len(b)+lag]
	}
	if len(xs) < 2 {
		return 0, false
	}
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/float64(len(xs)), sy/float64(len(ys))
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}
