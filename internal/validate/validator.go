// Package validate is the fail-fast sibling of the confidence engine. Before
// any numeric stop or target is emitted it proves that every core data path
// is present and that the reference candle is actually closed, walking each
// candidate through the BUILD-UP -> ALMOST_READY -> READY state machine. The
// confidence engine ranks; this package decides whether numbers may exist at
// all.
package validate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/setups"
)

// SymbolContext carries the per-symbol inputs the validator needs beyond the
// snapshot: extracted features, the current price, and the independently
// sourced last-closed timestamps used for the closed-candle proof.
type SymbolContext struct {
	Symbol  string
	Price   float64
	EntryTF domain.Timeframe

	Features domain.FeatureSet

	// LastClosed maps each timeframe to the exchange-confirmed open time of
	// its last closed bar. ProofSource names where those timestamps came
	// from (e.g. "binance:ws").
	LastClosed  map[domain.Timeframe]time.Time
	ProofSource string
}

// Config tunes the validator.
type Config struct {
	// MinRRTP1 is the minimum reward/risk at the first target; below it the
	// entry validity is demoted to ENTRY_OFF regardless of setup quality.
	MinRRTP1 float64

	// LateBufferATR scales the volatility buffer beyond the entry zone after
	// which a READY setup is flagged ENTRY_LATE.
	LateBufferATR float64
}

// DefaultConfig returns the production validation thresholds.
func DefaultConfig() Config {
	return Config{MinRRTP1: 1.5, LateBufferATR: 0.75}
}

// Validator applies the fail-fast discipline. Pure: no I/O, no shared state.
type Validator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Validator.
func New(cfg Config, logger *slog.Logger) *Validator {
	def := DefaultConfig()
	if cfg.MinRRTP1 <= 0 {
		cfg.MinRRTP1 = def.MinRRTP1
	}
	if cfg.LateBufferATR <= 0 {
		cfg.LateBufferATR = def.LateBufferATR
	}
	return &Validator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "validator")),
	}
}

// Evaluate validates each ranked candidate. A single candidate's failure
// degrades only its own record; unrelated candidates are unaffected.
func (v *Validator) Evaluate(snap domain.UnifiedSnapshot, sctx SymbolContext, candidates []domain.SetupCandidate) []domain.ValidatedSetup {
	if sctx.EntryTF == "" {
		sctx.EntryTF = domain.Timeframe15m
	}
	if sctx.Price <= 0 {
		sctx.Price = snap.Mid
	}
	out := make([]domain.ValidatedSetup, 0, len(candidates))
	for i := range candidates {
		out = append(out, v.evaluateOne(sctx, &candidates[i], snap.GeneratedAt))
	}
	return out
}

func (v *Validator) evaluateOne(sctx SymbolContext, c *domain.SetupCandidate, at time.Time) domain.ValidatedSetup {
	vs := domain.ValidatedSetup{
		Symbol:      sctx.Symbol,
		Type:        c.Type,
		Side:        c.Side,
		Candidate:   c,
		EvaluatedAt: at,
	}

	// Stage 1: core data paths. Any gap forces BUILD-UP with nil numerics.
	if missing := missingCorePaths(sctx); len(missing) > 0 {
		vs.State = domain.StateBuildUp
		vs.Validity = domain.EntryWait
		vs.MissingPaths = missing
		return vs
	}

	// Stage 2: closed-candle proof. The reference candle's open time must
	// match the independently sourced last-closed timestamp for the entry
	// timeframe; otherwise the bar may still be forming and its close can
	// still move.
	ref := sctx.Features.ReferenceCandle
	lastClosed, ok := sctx.LastClosed[sctx.EntryTF]
	if !ok || lastClosed.IsZero() {
		vs.State = domain.StateAlmostReady
		vs.Validity = domain.EntryWait
		vs.MissingPaths = []string{PathLastClosed + "." + string(sctx.EntryTF)}
		return vs
	}
	if !ref.Confirmed || !ref.OpenTime.Equal(lastClosed) {
		vs.State = domain.StateAlmostReady
		vs.Validity = domain.EntryWait
		return vs
	}
	vs.Proof = &domain.ClosedCandleProof{LastClosedAt: lastClosed, Source: sctx.ProofSource}

	// Stage 3: numeric levels, only now.
	entry, stop, targets := v.levels(c.Side, sctx.Features)
	vs.Entry = &entry
	vs.Stop = &stop
	vs.Targets = &targets

	rr, err := setups.RiskReward(c.Side, entry.Mid(), stop, targets.TP1)
	if err != nil {
		if errors.Is(err, domain.ErrInvertedStop) {
			// Inverted risk is a hard invalidation, never a low score.
			vs.State = domain.StateInvalid
			vs.Validity = domain.EntryOff
			return vs
		}
		vs.State = domain.StateAlmostReady
		vs.Validity = domain.EntryWait
		return vs
	}
	vs.RRTP1 = &rr
	vs.State = domain.StateReady
	vs.Validity = v.entryValidity(c.Side, sctx.Price, entry, sctx.Features.ATR)

	// Poor reward/risk at the first target switches the trade off no matter
	// how good the setup otherwise looks.
	if rr < v.cfg.MinRRTP1 {
		vs.Validity = domain.EntryOff
	}
	return vs
}

// levels derives the validator's own entry zone, stop, and structural
// targets from the proven reference geometry.
func (v *Validator) levels(side domain.Side, f domain.FeatureSet) (domain.EntryZone, float64, domain.Targets) {
	ref := f.ReferenceCandle.Close
	a := f.ATR
	if side == domain.SideLong {
		entry := domain.EntryZone{Low: ref - 0.25*a, High: ref + 0.10*a}
		stop := f.SwingLow - 0.35*a
		tp1 := f.SwingHigh
		return entry, stop, domain.Targets{TP1: tp1, TP2: tp1 + (tp1 - entry.Mid())}
	}
	entry := domain.EntryZone{Low: ref - 0.10*a, High: ref + 0.25*a}
	stop := f.SwingHigh + 0.35*a
	tp1 := f.SwingLow
	return entry, stop, domain.Targets{TP1: tp1, TP2: tp1 - (entry.Mid() - tp1)}
}

// entryValidity grades the current price against the zone: inside is
// ENTRY_OK; beyond the zone in the trade direction by more than the
// volatility-scaled buffer is ENTRY_LATE; anywhere else the entry simply has
// not triggered yet.
func (v *Validator) entryValidity(side domain.Side, price float64, zone domain.EntryZone, atr float64) domain.EntryValidity {
	if price <= 0 {
		return domain.EntryWait
	}
	if zone.Contains(price) {
		return domain.EntryOK
	}
	buffer := v.cfg.LateBufferATR * atr
	if side == domain.SideLong && price > zone.High+buffer {
		return domain.EntryLate
	}
	if side == domain.SideShort && price < zone.Low-buffer {
		return domain.EntryLate
	}
	return domain.EntryWait
}
