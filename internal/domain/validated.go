package domain

import "time"

// SetupState is the fail-fast pipeline's readiness verdict for a candidate.
type SetupState string

const (
	StateBuildUp     SetupState = "BUILD-UP"
	StateAlmostReady SetupState = "ALMOST_READY"
	StateReady       SetupState = "READY"
	StateInvalid     SetupState = "INVALID"
)

// EntryValidity qualifies whether the current price still permits an entry.
type EntryValidity string

const (
	EntryWait EntryValidity = "ENTRY_WAIT"
	EntryOK   EntryValidity = "ENTRY_OK"
	EntryLate EntryValidity = "ENTRY_LATE"
	EntryOff  EntryValidity = "ENTRY_OFF"
)

// ClosedCandleProof records the evidence that the reference candle used for
// numeric levels was actually closed: the independently-sourced last-closed
// timestamp it was checked against and where that timestamp came from.
type ClosedCandleProof struct {
	LastClosedAt time.Time
	Source       string
}

// ValidatedSetup is the fail-fast variant of a setup record. Numeric fields
// are pointers and stay nil until core data paths are present and the
// closed-candle proof holds; MissingPaths lists the exact unresolved paths so
// a failure is diagnosable rather than guessed at.
type ValidatedSetup struct {
	Symbol    string
	Type      SetupType
	Side      Side
	State     SetupState
	Validity  EntryValidity
	Candidate *SetupCandidate

	MissingPaths []string
	Proof        *ClosedCandleProof

	Entry   *EntryZone
	Stop    *float64
	Targets *Targets
	RRTP1   *float64

	EvaluatedAt time.Time
}
