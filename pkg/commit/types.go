// Package commit orchestrates prediction commitments: validation,
// affordability gating, memo encoding, and ledger submission.
package commit

import (
	"time"

	"github.com/shivamSspirit/beright-sub000/pkg/ledger"
	"github.com/shivamSspirit/beright-sub000/pkg/memo"
	"github.com/shopspring/decimal"
)

// Stage is the commitment state machine:
// Validating -> CheckingAffordability -> Encoding -> Submitting ->
// Succeeded | Failed. There is no automatic retry inside the machine;
// retry policy belongs to the caller.
type Stage int

const (
	StageValidating Stage = iota
	StageCheckingAffordability
	StageEncoding
	StageSubmitting
	StageSucceeded
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "VALIDATING"
	case StageCheckingAffordability:
		return "CHECKING_AFFORDABILITY"
	case StageEncoding:
		return "ENCODING"
	case StageSubmitting:
		return "SUBMITTING"
	case StageSucceeded:
		return "SUCCEEDED"
	case StageFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FailureKind is the closed taxonomy of user-visible failure reasons.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureInvalidCommitment: bad input, caller's fault. Never retry as-is.
	FailureInvalidCommitment
	// FailureUnencodableField: a field would corrupt the wire format.
	// Sanitize the input; never retry unchanged.
	FailureUnencodableField
	// FailurePayloadTooLarge: the memo exceeds the ledger's note ceiling.
	// Shorten the input; never retry unchanged.
	FailurePayloadTooLarge
	// FailureInsufficientFunds: the affordability gate said no. Surfaced
	// verbatim; no retry without topping up.
	FailureInsufficientFunds
	// FailureLedgerUnreachable: the RPC node could not be queried.
	// Transient; safe to retry with backoff.
	FailureLedgerUnreachable
	// FailureNetworkFailure: transport failed before broadcast.
	// Transient; safe to retry with backoff.
	FailureNetworkFailure
	// FailureRejected: the ledger explicitly refused. Needs investigation.
	FailureRejected
	// FailureAmbiguous: broadcast status unknown. Reconcile ledger state
	// before any retry; never blindly resubmit.
	FailureAmbiguous
	// FailureInternal: an invariant violation on our side, never the
	// user's fault.
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "NONE"
	case FailureInvalidCommitment:
		return "INVALID_COMMITMENT"
	case FailureUnencodableField:
		return "UNENCODABLE_FIELD"
	case FailurePayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case FailureInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case FailureLedgerUnreachable:
		return "LEDGER_UNREACHABLE"
	case FailureNetworkFailure:
		return "NETWORK_FAILURE"
	case FailureRejected:
		return "REJECTED"
	case FailureAmbiguous:
		return "AMBIGUOUS"
	case FailureInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether the failure is transient enough for blind
// retry with backoff. Ambiguous is deliberately excluded.
func (k FailureKind) Retryable() bool {
	return k == FailureLedgerUnreachable || k == FailureNetworkFailure
}

// Result is the uniform outcome of a commit or resolve call.
type Result struct {
	AttemptID string `json:"attempt_id"`
	Kind      string `json:"kind"` // PREDICT or RESOLVE
	Stage     Stage  `json:"-"`
	StageName string `json:"stage"`
	Memo      string `json:"memo,omitempty"`

	// Success
	Signature   string `json:"signature,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`

	// Failure
	Failure     FailureKind `json:"-"`
	FailureName string      `json:"failure,omitempty"`
	Message     string      `json:"message,omitempty"`

	// Resolve-only: the computed score and its band.
	BrierScore *decimal.Decimal `json:"brier_score,omitempty"`
	Band       string           `json:"band,omitempty"`

	Affordability *ledger.Affordability `json:"affordability,omitempty"`
}

// Succeeded reports whether the attempt reached the terminal success state.
func (r *Result) Succeeded() bool {
	return r.Stage == StageSucceeded
}

// Attempt is the service's record of one submission attempt. Attempts are
// tracked explicitly so an ambiguous failure can be reconciled instead of
// blindly resubmitted.
type Attempt struct {
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	MarketTicker string      `json:"market_ticker"`
	Stage        Stage       `json:"-"`
	StageName    string      `json:"stage"`
	Failure      FailureKind `json:"-"`
	FailureName  string      `json:"failure,omitempty"`
	Memo         string      `json:"memo,omitempty"`
	Signature    string      `json:"signature,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Reconciliation is the outcome of scanning recent ledger history for a
// PREDICT memo matching a market, before retrying an ambiguous failure.
type Reconciliation struct {
	Found      bool                       `json:"found"`
	Note       *ledger.Note               `json:"note,omitempty"`
	Commitment *memo.PredictionCommitment `json:"commitment,omitempty"`
}
