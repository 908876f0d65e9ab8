package memo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Encoding failures. Callers match with errors.Is; none of these are
// retryable without changing the input.
var (
	// ErrInvalidCommitment means a precondition was violated (probability
	// out of range, empty ticker). The encoder never repairs bad input.
	ErrInvalidCommitment = errors.New("invalid commitment")
	// ErrUnencodableField means a field contains the delimiter, a control
	// character, or exceeds its field budget.
	ErrUnencodableField = errors.New("unencodable field")
	// ErrPayloadTooLarge means the assembled payload exceeds MaxMemoBytes.
	ErrPayloadTooLarge = errors.New("memo payload too large")
)

var (
	bpsScale = decimal.NewFromInt(10000)
	one      = decimal.NewFromInt(1)
)

// EncodePrediction serializes a commitment into its wire payload:
//
//	BR8|1|PREDICT|<ticker>|<bps>|<YES|NO>|<ref>
//
// Probability is carried as basis points in [1,9999] so the
// encode -> decode -> encode round trip is byte-identical regardless of
// platform float formatting. Identical input always yields an identical
// string.
func EncodePrediction(c PredictionCommitment) (string, error) {
	if c.MarketTicker == "" {
		return "", fmt.Errorf("%w: empty market ticker", ErrInvalidCommitment)
	}
	if !probabilityInRange(c.Probability) {
		return "", fmt.Errorf("%w: probability %s not in (0,1) exclusive", ErrInvalidCommitment, c.Probability)
	}
	if c.Direction != DirectionYes && c.Direction != DirectionNo {
		return "", fmt.Errorf("%w: unknown direction %d", ErrInvalidCommitment, int(c.Direction))
	}
	if err := checkField("market ticker", c.MarketTicker); err != nil {
		return "", err
	}
	if err := checkField("committer ref", c.CommitterRef); err != nil {
		return "", err
	}
	if len(c.CommitterRef) > MaxCommitterRefBytes {
		return "", fmt.Errorf("%w: committer ref is %d bytes, budget %d", ErrUnencodableField, len(c.CommitterRef), MaxCommitterRefBytes)
	}

	payload := strings.Join([]string{
		Tag,
		strconv.Itoa(Version),
		KindPredict,
		c.MarketTicker,
		strconv.FormatInt(probabilityToBps(c.Probability), 10),
		c.Direction.String(),
		c.CommitterRef,
	}, Delimiter)

	if len(payload) > MaxMemoBytes {
		return "", fmt.Errorf("%w: %d bytes, ceiling %d", ErrPayloadTooLarge, len(payload), MaxMemoBytes)
	}
	return payload, nil
}

// EncodeResolution serializes a resolution into its wire payload:
//
//	BR8|1|RESOLVE|<ticker>|<OCCURRED|DID_NOT_OCCUR>|<bps>
//
// The score rides along so the resolution is self-describing without a
// lookup of the original commitment.
func EncodeResolution(marketTicker string, directionOccurred bool, brierScore decimal.Decimal) (string, error) {
	if marketTicker == "" {
		return "", fmt.Errorf("%w: empty market ticker", ErrInvalidCommitment)
	}
	if brierScore.IsNegative() || brierScore.GreaterThan(one) {
		return "", fmt.Errorf("%w: brier score %s not in [0,1]", ErrInvalidCommitment, brierScore)
	}
	if err := checkField("market ticker", marketTicker); err != nil {
		return "", err
	}

	outcome := tokenDidNotOccur
	if directionOccurred {
		outcome = tokenOccurred
	}

	payload := strings.Join([]string{
		Tag,
		strconv.Itoa(Version),
		KindResolve,
		marketTicker,
		outcome,
		strconv.FormatInt(scoreToBps(brierScore), 10),
	}, Delimiter)

	if len(payload) > MaxMemoBytes {
		return "", fmt.Errorf("%w: %d bytes, ceiling %d", ErrPayloadTooLarge, len(payload), MaxMemoBytes)
	}
	return payload, nil
}

// Decode parses a ledger note back into a tagged record. It is total:
// foreign memos, wrong versions, malformed fields, and random bytes all
// return (nil, false). It never panics and never returns an error, so
// scanning arbitrary ledger history is side-effect-free.
func Decode(raw string) (*Parsed, bool) {
	if len(raw) == 0 || len(raw) > MaxMemoBytes {
		return nil, false
	}

	fields := strings.Split(raw, Delimiter)
	if len(fields) < 3 || fields[0] != Tag {
		return nil, false
	}
	if v, ok := parseWireInt(fields[1]); !ok || v != Version {
		return nil, false
	}

	switch fields[2] {
	case KindPredict:
		return decodePrediction(fields)
	case KindResolve:
		return decodeResolution(fields)
	default:
		return nil, false
	}
}

func decodePrediction(fields []string) (*Parsed, bool) {
	if len(fields) != 7 {
		return nil, false
	}
	ticker, bpsStr, dirToken, ref := fields[3], fields[4], fields[5], fields[6]
	if ticker == "" {
		return nil, false
	}

	bps, ok := parseWireInt(bpsStr)
	if !ok || bps < 1 || bps > 9999 {
		return nil, false
	}
	dir, ok := ParseDirection(dirToken)
	if !ok {
		return nil, false
	}

	return &Parsed{
		Kind: KindPredict,
		Prediction: &PredictionCommitment{
			MarketTicker: ticker,
			Probability:  decimal.NewFromInt(bps).Div(bpsScale),
			Direction:    dir,
			CommitterRef: ref,
		},
	}, true
}

func decodeResolution(fields []string) (*Parsed, bool) {
	if len(fields) != 6 {
		return nil, false
	}
	ticker, outcome, bpsStr := fields[3], fields[4], fields[5]
	if ticker == "" {
		return nil, false
	}

	var occurred bool
	switch outcome {
	case tokenOccurred:
		occurred = true
	case tokenDidNotOccur:
		occurred = false
	default:
		return nil, false
	}

	bps, ok := parseWireInt(bpsStr)
	if !ok || bps > 10000 {
		return nil, false
	}

	return &Parsed{
		Kind: KindResolve,
		Resolution: &Resolution{
			MarketTicker:      ticker,
			DirectionOccurred: occurred,
			BrierScore:        decimal.NewFromInt(bps).Div(bpsScale),
		},
	}, true
}

func probabilityInRange(p decimal.Decimal) bool {
	return p.IsPositive() && p.LessThan(one)
}

// parseWireInt parses a canonical non-negative integer field: digits
// only, no sign, no leading zeros. strconv tolerates "+5000" and "01",
// which re-encode to different bytes; rejecting them keeps Decode the
// exact left inverse of the encoders.
func parseWireInt(s string) (int64, bool) {
	if s == "" || len(s) > 5 {
		return 0, false
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, false
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

// probabilityToBps quantizes to basis points. The extremes are clamped to
// [1,9999]: 0 and 10000 encode false certainty and are not representable.
// The loss is bounded by half a basis point.
func probabilityToBps(p decimal.Decimal) int64 {
	bps := p.Mul(bpsScale).Round(0).IntPart()
	if bps < 1 {
		bps = 1
	}
	if bps > 9999 {
		bps = 9999
	}
	return bps
}

func scoreToBps(s decimal.Decimal) int64 {
	bps := s.Mul(bpsScale).Round(0).IntPart()
	if bps < 0 {
		bps = 0
	}
	if bps > 10000 {
		bps = 10000
	}
	return bps
}

// checkField rejects values that would corrupt the wire format. Length is
// enforced by the overall ceiling (and the ref budget), not per character
// class beyond what the delimiter and line discipline require.
func checkField(name, value string) error {
	if strings.Contains(value, Delimiter) {
		return fmt.Errorf("%w: %s contains the delimiter %q", ErrUnencodableField, name, Delimiter)
	}
	for _, r := range value {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %s contains a control character", ErrUnencodableField, name)
		}
	}
	return nil
}
