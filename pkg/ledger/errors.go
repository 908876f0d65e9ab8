package ledger

import (
	"errors"
	"fmt"
)

// Kind is the closed set of gateway failure categories. Callers switch on
// it exhaustively instead of sniffing error strings.
type Kind int

const (
	// KindUnreachable: the RPC node could not be queried at all. Distinct
	// from a successful query reporting zero affordability. Retryable.
	KindUnreachable Kind = iota
	// KindNetworkFailure: transport failed mid-operation before the
	// transaction was accepted for broadcast. Retryable with backoff.
	KindNetworkFailure
	// KindInsufficientFunds: the ledger refused for lack of lamports.
	// Not retryable without topping up.
	KindInsufficientFunds
	// KindRejected: the ledger explicitly refused the transaction.
	// Not retryable as-is.
	KindRejected
	// KindAmbiguous: broadcast status unknown (timeout after send).
	// Ledger state must be reconciled before any retry.
	KindAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "LEDGER_UNREACHABLE"
	case KindNetworkFailure:
		return "NETWORK_FAILURE"
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case KindRejected:
		return "REJECTED"
	case KindAmbiguous:
		return "AMBIGUOUS"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether blind retry with backoff is safe for this kind.
// Ambiguous is deliberately not retryable: reconcile first.
func (k Kind) Retryable() bool {
	return k == KindUnreachable || k == KindNetworkFailure
}

// Error is a categorized gateway failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the category from an error chain. The second return is
// false when the error did not originate in this gateway.
func KindOf(err error) (Kind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}
