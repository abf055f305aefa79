package domain

import "time"

// SetupType is the archetype of a generated trade candidate.
type SetupType string

const (
	SetupTrendContinuation SetupType = "trend_continuation"
	SetupBreakout          SetupType = "breakout"
	SetupMeanReversion     SetupType = "mean_reversion"
	SetupReversalSweep     SetupType = "reversal_sweep"
)

// SetupTypes lists every archetype the engine generates per side.
var SetupTypes = []SetupType{
	SetupTrendContinuation,
	SetupBreakout,
	SetupMeanReversion,
	SetupReversalSweep,
}

// Side is the trade direction of a candidate.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// EntryZone is the price band inside which an entry is considered valid.
type EntryZone struct {
	Low  float64
	High float64
}

// Contains reports whether p lies inside the zone (inclusive).
func (z EntryZone) Contains(p float64) bool {
	return p >= z.Low && p <= z.High
}

// Mid returns the zone midpoint.
func (z EntryZone) Mid() float64 { return (z.Low + z.High) / 2 }

// Targets are the fixed take-profit levels of a candidate.
type Targets struct {
	TP1 float64
	TP2 float64
}

// ConfidenceBreakdown exposes how a candidate's confidence was combined so
// the result is reproducible from the same inputs.
type ConfidenceBreakdown struct {
	Base        float64            // compressed prior in (0, 1)
	Components  map[string]float64 // per-factor log-odds deltas
	Temperature float64            // evidence temperature divisor, 1.0..1.30
	Raw         float64            // sigmoid output before capping
	Cap         float64            // 0.85, or 0.92 when evidence is strong
	Final       float64
}

// SetupCandidate is one directional trade idea generated for a single
// evaluation cycle. Candidates carry no cross-cycle identity: they are
// created fresh, ranked, and discarded, never mutated in place.
type SetupCandidate struct {
	ID      string
	Symbol  string
	Type    SetupType
	Side    Side
	Trigger string

	Entry   EntryZone
	Stop    float64
	Targets Targets

	RRFixed      float64 // reward/risk to TP1
	RRStructural float64 // to the nearest opposing swing level, 0 when unavailable

	Confidence float64
	Breakdown  ConfidenceBreakdown
	Rationale  []string
	CreatedAt  time.Time
}

// Evaluation is the ranked output of one engine cycle.
type Evaluation struct {
	Symbol      string
	Regime      string
	Primary     *SetupCandidate
	Alternative *SetupCandidate
	Top         []SetupCandidate
	GeneratedAt time.Time
}
