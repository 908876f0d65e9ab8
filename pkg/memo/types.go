// Package memo encodes and decodes BeRight's on-chain note payloads.
// Every commitment and resolution lives on the ledger only as one of
// these compact strings, so encoding is deterministic and decoding is
// total: arbitrary foreign notes decode to "no parse", never to an error.
package memo

import (
	"github.com/shopspring/decimal"
)

// Wire format constants. The payload is read by independent downstream
// consumers (including humans browsing the raw ledger), so these are fixed.
const (
	// Tag identifies BeRight memos among arbitrary ledger notes.
	Tag = "BR8"
	// Version is the current wire format version.
	Version = 1
	// Delimiter separates fields and is forbidden inside any field value.
	Delimiter = "|"

	// KindPredict and KindResolve are the two memo kinds.
	KindPredict = "PREDICT"
	KindResolve = "RESOLVE"

	// MaxMemoBytes is the SPL memo program's payload ceiling. The encoder
	// rejects anything larger instead of truncating.
	MaxMemoBytes = 566

	// MaxCommitterRefBytes bounds the committer reference field.
	MaxCommitterRefBytes = 32
)

// Direction is the side of a binary market a forecaster is backing.
type Direction int

const (
	DirectionYes Direction = iota
	DirectionNo
)

func (d Direction) String() string {
	if d == DirectionYes {
		return "YES"
	}
	return "NO"
}

// ParseDirection maps a wire token back to a Direction.
func ParseDirection(token string) (Direction, bool) {
	switch token {
	case "YES":
		return DirectionYes, true
	case "NO":
		return DirectionNo, true
	default:
		return 0, false
	}
}

// Outcome tokens for RESOLVE memos.
const (
	tokenOccurred    = "OCCURRED"
	tokenDidNotOccur = "DID_NOT_OCCUR"
)

// PredictionCommitment is a forecaster's stated confidence in a chosen
// direction, created client-side before submission and immutable after.
// Probability is always relative to Direction, never "probability of YES".
type PredictionCommitment struct {
	MarketTicker string          `json:"market_ticker"`
	Probability  decimal.Decimal `json:"probability"` // (0,1) exclusive
	Direction    Direction       `json:"direction"`
	CommitterRef string          `json:"committer_ref"` // truncated pubkey, display/audit only
}

// Resolution records which way a market went relative to the committed
// direction, plus the resulting calibration score.
type Resolution struct {
	MarketTicker      string          `json:"market_ticker"`
	DirectionOccurred bool            `json:"direction_occurred"`
	BrierScore        decimal.Decimal `json:"brier_score"` // [0,1]
}

// Parsed is the discriminated result of decoding a memo. Exactly one of
// Prediction or Resolution is set, selected by Kind.
type Parsed struct {
	Kind       string                `json:"kind"`
	Prediction *PredictionCommitment `json:"prediction,omitempty"`
	Resolution *Resolution           `json:"resolution,omitempty"`
}
