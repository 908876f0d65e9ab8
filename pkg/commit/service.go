package commit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/shivamSspirit/beright-sub000/pkg/ledger"
	"github.com/shivamSspirit/beright-sub000/pkg/memo"
	"github.com/shivamSspirit/beright-sub000/pkg/metrics"
	"github.com/shivamSspirit/beright-sub000/pkg/scoring"
)

// Ledger is the gateway surface the service needs. *ledger.Gateway
// implements it; tests substitute a mock.
type Ledger interface {
	GetAffordability(ctx context.Context, account solana.PublicKey) (*ledger.Affordability, error)
	Submit(ctx context.Context, w *ledger.Wallet, memoText string) (*ledger.Receipt, error)
	RecentMemos(ctx context.Context, account solana.PublicKey, limit int) ([]ledger.Note, error)
}

// reconcileScanDepth is how many recent transactions are scanned when
// looking for a prior PREDICT memo.
const reconcileScanDepth = 50

var one = decimal.NewFromInt(1)

// Service drives a commitment through the state machine. All state it
// keeps is the explicit, mutex-guarded attempt ledger - no ambient
// balance caches, no singletons.
type Service struct {
	ledger     Ledger
	metrics    *metrics.CommitmentMetrics
	thresholds scoring.Thresholds
	logger     zerolog.Logger

	mu       sync.RWMutex
	attempts map[string]*Attempt
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.CommitmentMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithThresholds overrides the quality band thresholds.
func WithThresholds(t scoring.Thresholds) ServiceOption {
	return func(s *Service) {
		s.thresholds = t
	}
}

// NewService creates a commitment service on top of a ledger gateway.
func NewService(l Ledger, opts ...ServiceOption) *Service {
	s := &Service{
		ledger:     l,
		thresholds: scoring.DefaultThresholds(),
		logger:     log.With().Str("component", "commitment_service").Logger(),
		attempts:   make(map[string]*Attempt),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCommitmentMetrics()
	}
	return s
}

// Metrics returns the service's metrics collector.
func (s *Service) Metrics() *metrics.CommitmentMetrics {
	return s.metrics
}

// Commit validates a prediction, gates it on affordability, encodes the
// PREDICT memo, and submits it. Gateway failure categories propagate
// unchanged. The result is always non-nil and terminal: Succeeded or
// Failed with exactly one categorized reason.
func (s *Service) Commit(ctx context.Context, w *ledger.Wallet, marketTicker string, probability decimal.Decimal, direction memo.Direction) *Result {
	started := time.Now()
	attempt := s.newAttempt(memo.KindPredict, marketTicker)
	res := &Result{AttemptID: attempt.ID, Kind: memo.KindPredict}

	commitment := memo.PredictionCommitment{
		MarketTicker: marketTicker,
		Probability:  probability,
		Direction:    direction,
		CommitterRef: w.ShortRef(),
	}

	// Validating: reject bad input before touching the ledger. The dry
	// encode applies every wire-format precondition, so a later encode
	// failure can only be a defect.
	s.setStage(attempt, res, StageValidating)
	if _, err := memo.EncodePrediction(commitment); err != nil {
		return s.fail(attempt, res, encodeFailureKind(err), err.Error(), started)
	}

	// CheckingAffordability: "can't check" and "can't afford" are
	// different failures and stay different.
	s.setStage(attempt, res, StageCheckingAffordability)
	aff, err := s.ledger.GetAffordability(ctx, w.PublicKey())
	if err != nil {
		return s.fail(attempt, res, ledgerFailureKind(err), "ledger balance check failed", started)
	}
	res.Affordability = aff
	s.metrics.RecordAffordability(aff.CanCommit, aff.SpendableLamports, aff.EstimatedRemaining)
	if !aff.CanCommit {
		msg := fmt.Sprintf("spendable balance %s SOL does not cover one commitment", aff.SpendableSOL)
		return s.fail(attempt, res, FailureInsufficientFunds, msg, started)
	}

	// Encoding: cannot fail for input that passed validation; if it does,
	// that is our bug and is never presented as the user's fault.
	s.setStage(attempt, res, StageEncoding)
	payload, err := memo.EncodePrediction(commitment)
	if err != nil {
		s.logger.Error().Err(err).Str("attempt", attempt.ID).Msg("encoder rejected validated input")
		return s.fail(attempt, res, FailureInternal, "internal error", started)
	}
	res.Memo = payload
	attempt.Memo = payload
	s.metrics.RecordMemoSize(len(payload))

	return s.submit(ctx, w, attempt, res, payload, started)
}

// Resolve scores a resolved market against the originally committed
// probability, encodes the RESOLVE memo, and submits it through the same
// gate as a commitment.
func (s *Service) Resolve(ctx context.Context, w *ledger.Wallet, marketTicker string, directionOccurred bool, committedProbability decimal.Decimal) *Result {
	started := time.Now()
	attempt := s.newAttempt(memo.KindResolve, marketTicker)
	res := &Result{AttemptID: attempt.ID, Kind: memo.KindResolve}

	// Validating: the committed probability must be checked directly, not
	// through the derived score. An impossible probability can square into
	// a plausible score (-0.5 against DID_NOT_OCCUR scores 0.25) and would
	// otherwise produce a permanently wrong ledger record.
	s.setStage(attempt, res, StageValidating)
	if !committedProbability.IsPositive() || committedProbability.GreaterThanOrEqual(one) {
		msg := fmt.Sprintf("committed probability %s not in (0,1) exclusive", committedProbability)
		return s.fail(attempt, res, FailureInvalidCommitment, msg, started)
	}
	score := scoring.BrierScore(committedProbability, directionOccurred)
	if _, err := memo.EncodeResolution(marketTicker, directionOccurred, score); err != nil {
		return s.fail(attempt, res, encodeFailureKind(err), err.Error(), started)
	}
	band := s.thresholds.Interpret(score)
	res.BrierScore = &score
	res.Band = band.String()

	s.setStage(attempt, res, StageCheckingAffordability)
	aff, err := s.ledger.GetAffordability(ctx, w.PublicKey())
	if err != nil {
		return s.fail(attempt, res, ledgerFailureKind(err), "ledger balance check failed", started)
	}
	res.Affordability = aff
	s.metrics.RecordAffordability(aff.CanCommit, aff.SpendableLamports, aff.EstimatedRemaining)
	if !aff.CanCommit {
		msg := fmt.Sprintf("spendable balance %s SOL does not cover the resolution", aff.SpendableSOL)
		return s.fail(attempt, res, FailureInsufficientFunds, msg, started)
	}

	s.setStage(attempt, res, StageEncoding)
	payload, err := memo.EncodeResolution(marketTicker, directionOccurred, score)
	if err != nil {
		s.logger.Error().Err(err).Str("attempt", attempt.ID).Msg("encoder rejected validated input")
		return s.fail(attempt, res, FailureInternal, "internal error", started)
	}
	res.Memo = payload
	attempt.Memo = payload
	s.metrics.RecordMemoSize(len(payload))

	out := s.submit(ctx, w, attempt, res, payload, started)
	if out.Succeeded() {
		s.metrics.RecordResolution(directionOccurred, score, band.String())
	}
	return out
}

// Reconcile scans the account's recent ledger notes for a PREDICT memo
// matching the market. Callers must run this after an ambiguous failure,
// before any retry, so a landed-but-unconfirmed commitment is recovered
// instead of duplicated.
func (s *Service) Reconcile(ctx context.Context, account solana.PublicKey, marketTicker string) (*Reconciliation, error) {
	notes, err := s.ledger.RecentMemos(ctx, account, reconcileScanDepth)
	if err != nil {
		return nil, fmt.Errorf("scan ledger history: %w", err)
	}

	for i := range notes {
		parsed, ok := memo.Decode(notes[i].Memo)
		if !ok || parsed.Kind != memo.KindPredict {
			continue // foreign or non-PREDICT note
		}
		if parsed.Prediction.MarketTicker != marketTicker {
			continue
		}
		s.resolveAmbiguous(marketTicker, notes[i].Signature)
		s.metrics.RecordReconciliation(true)
		s.logger.Info().
			Str("market", marketTicker).
			Str("signature", notes[i].Signature).
			Msg("reconciliation recovered a prior commitment")
		return &Reconciliation{
			Found:      true,
			Note:       &notes[i],
			Commitment: parsed.Prediction,
		}, nil
	}

	s.metrics.RecordReconciliation(false)
	return &Reconciliation{Found: false}, nil
}

// CommitWithRetry wraps Commit with caller-side retry policy: exponential
// backoff on transient failures only, reconcile-first on ambiguous ones.
// It never blindly resubmits after an ambiguous failure.
func (s *Service) CommitWithRetry(ctx context.Context, w *ledger.Wallet, marketTicker string, probability decimal.Decimal, direction memo.Direction, maxElapsed time.Duration) *Result {
	var last *Result

	operation := func() error {
		last = s.Commit(ctx, w, marketTicker, probability, direction)
		if last.Succeeded() {
			return nil
		}

		if last.Failure == FailureAmbiguous {
			rec, err := s.Reconcile(ctx, w.PublicKey(), marketTicker)
			if err != nil {
				return err // reconciliation itself failed; retry the scan
			}
			if rec.Found {
				// The earlier broadcast landed; recover it as a success.
				last = &Result{
					AttemptID: last.AttemptID,
					Kind:      memo.KindPredict,
					Stage:     StageSucceeded,
					StageName: StageSucceeded.String(),
					Memo:      rec.Note.Memo,
					Signature: rec.Note.Signature,
					Message:   "recovered a previously landed commitment",
				}
				return nil
			}
			// Nothing landed; the intent is still open, safe to resubmit.
			return errors.New("ambiguous submit, ledger shows nothing landed")
		}

		if last.Failure.Retryable() {
			return fmt.Errorf("transient failure: %s", last.Failure)
		}
		return backoff.Permanent(fmt.Errorf("non-retryable failure: %s", last.Failure))
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil && last == nil {
		last = &Result{
			Stage:       StageFailed,
			StageName:   StageFailed.String(),
			Failure:     FailureInternal,
			FailureName: FailureInternal.String(),
			Message:     err.Error(),
		}
	}
	return last
}

// Attempts returns a snapshot of every tracked submission attempt.
func (s *Service) Attempts() []Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, *a)
	}
	return out
}

// PendingReconciliation returns attempts that failed ambiguously and have
// not been resolved; these must be reconciled before any retry.
func (s *Service) PendingReconciliation() []Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Attempt
	for _, a := range s.attempts {
		if a.Failure == FailureAmbiguous {
			out = append(out, *a)
		}
	}
	return out
}

// --- Internal helpers ---

func (s *Service) submit(ctx context.Context, w *ledger.Wallet, attempt *Attempt, res *Result, payload string, started time.Time) *Result {
	s.setStage(attempt, res, StageSubmitting)
	receipt, err := s.ledger.Submit(ctx, w, payload)
	if err != nil {
		kind := ledgerFailureKind(err)
		return s.fail(attempt, res, kind, submitFailureMessage(kind), started)
	}

	s.setStage(attempt, res, StageSucceeded)
	res.Signature = receipt.Signature
	res.ExplorerURL = receipt.ExplorerURL
	attempt.Signature = receipt.Signature
	s.metrics.RecordCommit(res.Kind, "succeeded")
	s.metrics.RecordSubmitDuration(res.Kind, time.Since(started))
	s.logger.Info().
		Str("attempt", attempt.ID).
		Str("kind", res.Kind).
		Str("market", attempt.MarketTicker).
		Str("signature", receipt.Signature).
		Msg("memo committed")
	return res
}

// resolveAmbiguous closes out ambiguously failed attempts for a market
// once a landed commitment has been recovered from the ledger, so they
// stop showing up as pending reconciliation.
func (s *Service) resolveAmbiguous(marketTicker, signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.MarketTicker != marketTicker || a.Failure != FailureAmbiguous {
			continue
		}
		a.Stage = StageSucceeded
		a.StageName = StageSucceeded.String()
		a.Failure = FailureNone
		a.FailureName = ""
		a.Signature = signature
		a.UpdatedAt = time.Now().UTC()
	}
}

func (s *Service) newAttempt(kind, marketTicker string) *Attempt {
	a := &Attempt{
		ID:           uuid.NewString(),
		Kind:         kind,
		MarketTicker: marketTicker,
		StartedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	s.mu.Lock()
	s.attempts[a.ID] = a
	s.mu.Unlock()
	return a
}

func (s *Service) setStage(attempt *Attempt, res *Result, stage Stage) {
	s.mu.Lock()
	attempt.Stage = stage
	attempt.StageName = stage.String()
	attempt.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	res.Stage = stage
	res.StageName = stage.String()
}

func (s *Service) fail(attempt *Attempt, res *Result, kind FailureKind, message string, started time.Time) *Result {
	// The latency histogram only tracks attempts that reached the ledger.
	reachedLedger := res.Stage == StageSubmitting

	s.mu.Lock()
	attempt.Stage = StageFailed
	attempt.StageName = StageFailed.String()
	attempt.Failure = kind
	attempt.FailureName = kind.String()
	attempt.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	res.Stage = StageFailed
	res.StageName = StageFailed.String()
	res.Failure = kind
	res.FailureName = kind.String()
	res.Message = message

	s.metrics.RecordCommit(res.Kind, "failed")
	if reachedLedger {
		s.metrics.RecordSubmitDuration(res.Kind, time.Since(started))
	}
	s.metrics.RecordFailure(kind.String())
	s.logger.Warn().
		Str("attempt", attempt.ID).
		Str("kind", res.Kind).
		Str("market", attempt.MarketTicker).
		Str("failure", kind.String()).
		Msg(message)
	return res
}

// encodeFailureKind maps codec errors onto the failure taxonomy.
func encodeFailureKind(err error) FailureKind {
	switch {
	case errors.Is(err, memo.ErrPayloadTooLarge):
		return FailurePayloadTooLarge
	case errors.Is(err, memo.ErrUnencodableField):
		return FailureUnencodableField
	case errors.Is(err, memo.ErrInvalidCommitment):
		return FailureInvalidCommitment
	default:
		return FailureInternal
	}
}

// ledgerFailureKind propagates the gateway's categorization unchanged.
func ledgerFailureKind(err error) FailureKind {
	kind, ok := ledger.KindOf(err)
	if !ok {
		return FailureInternal
	}
	switch kind {
	case ledger.KindUnreachable:
		return FailureLedgerUnreachable
	case ledger.KindNetworkFailure:
		return FailureNetworkFailure
	case ledger.KindInsufficientFunds:
		return FailureInsufficientFunds
	case ledger.KindRejected:
		return FailureRejected
	case ledger.KindAmbiguous:
		return FailureAmbiguous
	default:
		return FailureInternal
	}
}

func submitFailureMessage(kind FailureKind) string {
	switch kind {
	case FailureAmbiguous:
		return "submission timed out with unknown outcome; reconcile ledger state before retrying"
	case FailureInsufficientFunds:
		return "the ledger refused the transaction for lack of funds"
	case FailureRejected:
		return "the ledger rejected the transaction"
	case FailureNetworkFailure, FailureLedgerUnreachable:
		return "network failure while submitting; safe to retry with backoff"
	default:
		return "submission failed"
	}
}
