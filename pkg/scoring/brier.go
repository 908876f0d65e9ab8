// Package scoring computes calibration scores for resolved commitments.
// Everything here is pure: no I/O, no state, safe for concurrent use.
package scoring

import (
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// BrierScore is (probability - indicator)^2, where the indicator is 1 if
// the committed direction occurred and 0 otherwise. The probability must
// already be relative to the committed direction - this is never
// "probability that YES happens" when the commitment backed NO.
// Range is [0,1]; 0 is a perfect forecast, 1 maximally wrong.
func BrierScore(probability decimal.Decimal, directionOccurred bool) decimal.Decimal {
	indicator := decimal.Zero
	if directionOccurred {
		indicator = one
	}
	diff := probability.Sub(indicator)
	return diff.Mul(diff)
}

// Band is a qualitative read of a Brier score. Lower scores map to better
// bands, always.
type Band int

const (
	BandExcellent Band = iota
	BandGood
	BandFair
	BandPoor
)

func (b Band) String() string {
	switch b {
	case BandExcellent:
		return "EXCELLENT"
	case BandGood:
		return "GOOD"
	case BandFair:
		return "FAIR"
	case BandPoor:
		return "POOR"
	default:
		return "UNKNOWN"
	}
}

// Thresholds are the upper bounds (exclusive) of the first three bands.
// They are a product decision carried as configuration; the only hard
// requirements are monotonicity and totality over [0,1].
type Thresholds struct {
	Excellent decimal.Decimal // scores below this are EXCELLENT
	Good      decimal.Decimal // below this, GOOD
	Fair      decimal.Decimal // below this, FAIR; everything else POOR
}

// DefaultThresholds returns the banding used across BeRight surfaces.
// A coin flip scores 0.25, so GOOD ends exactly there.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Excellent: decimal.NewFromFloat(0.10),
		Good:      decimal.NewFromFloat(0.25),
		Fair:      decimal.NewFromFloat(0.50),
	}
}

// Interpret maps a score to its band. Total over any input, deterministic,
// and monotone: a lower score never lands in a worse band.
func (t Thresholds) Interpret(score decimal.Decimal) Band {
	switch {
	case score.LessThan(t.Excellent):
		return BandExcellent
	case score.LessThan(t.Good):
		return BandGood
	case score.LessThan(t.Fair):
		return BandFair
	default:
		return BandPoor
	}
}

// Interpret bands a score with the default thresholds.
func Interpret(score decimal.Decimal) Band {
	return DefaultThresholds().Interpret(score)
}
