package commit

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/shivamSspirit/beright-sub000/pkg/ledger"
	"github.com/shivamSspirit/beright-sub000/pkg/memo"
	"github.com/shivamSspirit/beright-sub000/pkg/metrics"
)

// mockLedger implements Ledger for testing.
type mockLedger struct {
	affordability *ledger.Affordability
	affordErr     error
	receipt       *ledger.Receipt
	submitErrs    []error // consumed in order; nil entries mean success
	notes         []ledger.Note
	notesErr      error

	affordCalls    int
	submitCalls    int
	submittedMemos []string
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		affordability: &ledger.Affordability{
			SpendableLamports:  10_000_000,
			SpendableSOL:       decimal.NewFromFloat(0.01),
			CanCommit:          true,
			EstimatedRemaining: 100,
			CheckedAt:          time.Now(),
		},
		receipt: &ledger.Receipt{
			Signature:   "testsig111",
			ExplorerURL: "https://explorer.solana.com/tx/testsig111?cluster=devnet",
		},
	}
}

func (m *mockLedger) GetAffordability(ctx context.Context, account solana.PublicKey) (*ledger.Affordability, error) {
	m.affordCalls++
	if m.affordErr != nil {
		return nil, m.affordErr
	}
	return m.affordability, nil
}

func (m *mockLedger) Submit(ctx context.Context, w *ledger.Wallet, memoText string) (*ledger.Receipt, error) {
	m.submitCalls++
	m.submittedMemos = append(m.submittedMemos, memoText)
	if len(m.submitErrs) > 0 {
		err := m.submitErrs[0]
		m.submitErrs = m.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.receipt, nil
}

func (m *mockLedger) RecentMemos(ctx context.Context, account solana.PublicKey, limit int) ([]ledger.Note, error) {
	if m.notesErr != nil {
		return nil, m.notesErr
	}
	return m.notes, nil
}

func testWallet(t *testing.T) *ledger.Wallet {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey failed: %v", err)
	}
	w, err := ledger.NewWallet(key.String())
	if err != nil {
		t.Fatalf("NewWallet failed: %v", err)
	}
	return w
}

func TestCommit_Success(t *testing.T) {
	ml := newMockLedger()
	svc := NewService(ml)
	w := testWallet(t)

	res := svc.Commit(context.Background(), w, "KXBTC-26DEC31-T100K", decimal.NewFromFloat(0.72), memo.DirectionYes)

	if !res.Succeeded() {
		t.Fatalf("commit failed: stage=%s failure=%s msg=%s", res.StageName, res.FailureName, res.Message)
	}
	if res.Signature != "testsig111" {
		t.Errorf("signature = %q", res.Signature)
	}
	if res.ExplorerURL == "" {
		t.Error("explorer URL missing")
	}
	if ml.affordCalls != 1 || ml.submitCalls != 1 {
		t.Errorf("calls: afford=%d submit=%d, want 1/1", ml.affordCalls, ml.submitCalls)
	}

	// The submitted memo must decode back to the same commitment.
	parsed, ok := memo.Decode(ml.submittedMemos[0])
	if !ok || parsed.Kind != memo.KindPredict {
		t.Fatalf("submitted memo %q does not decode as PREDICT", ml.submittedMemos[0])
	}
	if parsed.Prediction.MarketTicker != "KXBTC-26DEC31-T100K" {
		t.Errorf("ticker = %q", parsed.Prediction.MarketTicker)
	}
	if parsed.Prediction.Direction != memo.DirectionYes {
		t.Errorf("direction = %v", parsed.Prediction.Direction)
	}
	if parsed.Prediction.CommitterRef != w.ShortRef() {
		t.Errorf("committer ref = %q, want %q", parsed.Prediction.CommitterRef, w.ShortRef())
	}
}

func TestCommit_InvalidInputFailsFast(t *testing.T) {
	ml := newMockLedger()
	svc := NewService(ml)
	w := testWallet(t)

	cases := []struct {
		name        string
		ticker      string
		probability decimal.Decimal
		direction   memo.Direction
		want        FailureKind
	}{
		{"zero probability", "TICK", decimal.Zero, memo.DirectionYes, FailureInvalidCommitment},
		{"probability one", "TICK", decimal.NewFromInt(1), memo.DirectionNo, FailureInvalidCommitment},
		{"empty ticker", "", decimal.NewFromFloat(0.5), memo.DirectionYes, FailureInvalidCommitment},
		{"unknown direction", "TICK", decimal.NewFromFloat(0.5), memo.Direction(7), FailureInvalidCommitment},
		{"delimiter in ticker", "BAD|TICK", decimal.NewFromFloat(0.5), memo.DirectionYes, FailureUnencodableField},
	}

	for _, tc := range cases {
		res := svc.Commit(context.Background(), w, tc.ticker, tc.probability, tc.direction)
		if res.Succeeded() {
			t.Errorf("%s: commit unexpectedly succeeded", tc.name)
		}
		if res.Failure != tc.want {
			t.Errorf("%s: failure = %s, want %s", tc.name, res.FailureName, tc.want)
		}
	}

	// Validation failures must never touch the ledger.
	if ml.affordCalls != 0 || ml.submitCalls != 0 {
		t.Errorf("ledger touched on invalid input: afford=%d submit=%d", ml.affordCalls, ml.submitCalls)
	}
}

func TestCommit_OversizedTickerRejected(t *testing.T) {
	ml := newMockLedger()
	svc := NewService(ml)
	w := testWallet(t)

	long := make([]byte, memo.MaxMemoBytes)
	for i := range long {
		long[i] = 'T'
	}
	res := svc.Commit(context.Background(), w, string(long), decimal.NewFromFloat(0.5), memo.DirectionYes)
	if res.Failure != FailurePayloadTooLarge {
		t.Errorf("failure = %s, want PAYLOAD_TOO_LARGE", res.FailureName)
	}
	if ml.submitCalls != 0 {
		t.Error("oversized payload must never reach submission")
	}
}

func TestCommit_AffordabilityGate(t *testing.T) {
	ml := newMockLedger()
	ml.affordability = &ledger.Affordability{
		SpendableLamports:  100,
		SpendableSOL:       decimal.NewFromFloat(0.0000001),
		CanCommit:          false,
		EstimatedRemaining: 0,
	}
	svc := NewService(ml)
	w := testWallet(t)

	res := svc.Commit(context.Background(), w, "TICK", decimal.NewFromFloat(0.6), memo.DirectionNo)

	if res.Failure != FailureInsufficientFunds {
		t.Errorf("failure = %s, want INSUFFICIENT_FUNDS", res.FailureName)
	}
	// The gating property: submit is never called when CanCommit is false.
	if ml.submitCalls != 0 {
		t.Errorf("submit called %d times despite failed affordability gate", ml.submitCalls)
	}
	if res.Affordability == nil {
		t.Error("result should carry the affordability snapshot")
	}
}

func TestCommit_UnreachableIsNotInsufficient(t *testing.T) {
	ml := newMockLedger()
	ml.affordErr = &ledger.Error{Kind: ledger.KindUnreachable, Msg: "rpc down"}
	svc := NewService(ml)
	w := testWallet(t)

	res := svc.Commit(context.Background(), w, "TICK", decimal.NewFromFloat(0.6), memo.DirectionYes)

	if res.Failure != FailureLedgerUnreachable {
		t.Errorf("failure = %s, want LEDGER_UNREACHABLE", res.FailureName)
	}
	if ml.submitCalls != 0 {
		t.Error("submit must not run when the balance check cannot complete")
	}
}

func TestCommit_SubmitFailurePropagation(t *testing.T) {
	cases := []struct {
		kind ledger.Kind
		want FailureKind
	}{
		{ledger.KindInsufficientFunds, FailureInsufficientFunds},
		{ledger.KindNetworkFailure, FailureNetworkFailure},
		{ledger.KindRejected, FailureRejected},
		{ledger.KindAmbiguous, FailureAmbiguous},
	}

	for _, tc := range cases {
		ml := newMockLedger()
		ml.submitErrs = []error{&ledger.Error{Kind: tc.kind, Msg: "submit failed"}}
		svc := NewService(ml)
		w := testWallet(t)

		res := svc.Commit(context.Background(), w, "TICK", decimal.NewFromFloat(0.4), memo.DirectionYes)
		if res.Failure != tc.want {
			t.Errorf("ledger kind %s: failure = %s, want %s", tc.kind, res.FailureName, tc.want)
		}
	}
}

func TestCommit_AmbiguousTracked(t *testing.T) {
	ml := newMockLedger()
	ml.submitErrs = []error{&ledger.Error{Kind: ledger.KindAmbiguous, Msg: "timeout"}}
	svc := NewService(ml)
	w := testWallet(t)

	res := svc.Commit(context.Background(), w, "TICK", decimal.NewFromFloat(0.4), memo.DirectionYes)
	if res.Failure != FailureAmbiguous {
		t.Fatalf("failure = %s, want AMBIGUOUS", res.FailureName)
	}

	pending := svc.PendingReconciliation()
	if len(pending) != 1 {
		t.Fatalf("pending reconciliation count = %d, want 1", len(pending))
	}
	if pending[0].MarketTicker != "TICK" {
		t.Errorf("pending ticker = %q", pending[0].MarketTicker)
	}

	// Once reconciliation finds the landed memo, the attempt is closed out.
	ml.notes = []ledger.Note{{Signature: "landed", Memo: res.Memo}}
	rec, err := svc.Reconcile(context.Background(), w.PublicKey(), "TICK")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !rec.Found {
		t.Fatal("expected the landed memo to be found")
	}
	if remaining := svc.PendingReconciliation(); len(remaining) != 0 {
		t.Errorf("pending reconciliation = %d after a found reconcile, want 0", len(remaining))
	}
}

func TestResolve_Success(t *testing.T) {
	ml := newMockLedger()
	svc := NewService(ml)
	w := testWallet(t)

	res := svc.Resolve(context.Background(), w, "KXBTC-26DEC31-T100K", true, decimal.NewFromFloat(0.72))

	if !res.Succeeded() {
		t.Fatalf("resolve failed: %s %s", res.FailureName, res.Message)
	}
	if res.BrierScore == nil || !res.BrierScore.Equal(decimal.NewFromFloat(0.0784)) {
		t.Errorf("brier score = %v, want 0.0784", res.BrierScore)
	}
	if res.Band != "EXCELLENT" {
		t.Errorf("band = %q, want EXCELLENT", res.Band)
	}

	parsed, ok := memo.Decode(ml.submittedMemos[0])
	if !ok || parsed.Kind != memo.KindResolve {
		t.Fatalf("submitted memo %q does not decode as RESOLVE", ml.submittedMemos[0])
	}
	if !parsed.Resolution.DirectionOccurred {
		t.Error("DirectionOccurred = false, want true")
	}
	if !parsed.Resolution.BrierScore.Equal(decimal.NewFromFloat(0.0784)) {
		t.Errorf("decoded score = %s, want 0.0784", parsed.Resolution.BrierScore)
	}
}

func TestResolve_InvalidProbability(t *testing.T) {
	// The committed probability is validated directly, not through the
	// derived score: an impossible probability can square into a score
	// that looks plausible (-0.5 against DID_NOT_OCCUR scores 0.25) and
	// would otherwise become a permanently wrong ledger record.
	cases := []struct {
		name        string
		probability decimal.Decimal
		occurred    bool
	}{
		{"negative, plausible score", decimal.NewFromFloat(-0.5), false},
		{"above one, plausible score", decimal.NewFromFloat(1.8), true},
		{"above one, score out of range", decimal.NewFromFloat(1.2), false},
		{"zero", decimal.Zero, true},
		{"exactly one", decimal.NewFromInt(1), true},
	}

	ml := newMockLedger()
	svc := NewService(ml)
	w := testWallet(t)

	for _, tc := range cases {
		res := svc.Resolve(context.Background(), w, "TICK", tc.occurred, tc.probability)
		if res.Succeeded() {
			t.Errorf("%s: resolve unexpectedly succeeded with memo %q", tc.name, res.Memo)
		}
		if res.Failure != FailureInvalidCommitment {
			t.Errorf("%s: failure = %s, want INVALID_COMMITMENT", tc.name, res.FailureName)
		}
	}
	if ml.submitCalls != 0 {
		t.Errorf("invalid resolutions reached the ledger %d times", ml.submitCalls)
	}
}

func TestReconcile(t *testing.T) {
	ml := newMockLedger()
	ml.notes = []ledger.Note{
		{Signature: "sig1", Memo: "gm from another app"},
		{Signature: "sig2", Memo: "BR8|1|RESOLVE|OTHER|OCCURRED|784"},
		{Signature: "sig3", Memo: "BR8|1|PREDICT|OTHER|5000|NO|aaaa..bbbb"},
		{Signature: "sig4", Memo: "BR8|1|PREDICT|TICK|7200|YES|aaaa..bbbb"},
	}
	svc := NewService(ml)

	rec, err := svc.Reconcile(context.Background(), solana.PublicKey{}, "TICK")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !rec.Found {
		t.Fatal("expected a matching PREDICT memo")
	}
	if rec.Note.Signature != "sig4" {
		t.Errorf("matched signature = %q, want sig4", rec.Note.Signature)
	}
	if rec.Commitment.MarketTicker != "TICK" {
		t.Errorf("matched ticker = %q", rec.Commitment.MarketTicker)
	}

	rec, err = svc.Reconcile(context.Background(), solana.PublicKey{}, "ABSENT")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if rec.Found {
		t.Error("no memo should match an absent market")
	}
}

func TestCommitWithRetry_TransientThenSuccess(t *testing.T) {
	ml := newMockLedger()
	ml.submitErrs = []error{
		&ledger.Error{Kind: ledger.KindNetworkFailure, Msg: "connection reset"},
		nil,
	}
	svc := NewService(ml)
	w := testWallet(t)

	res := svc.CommitWithRetry(context.Background(), w, "TICK", decimal.NewFromFloat(0.6), memo.DirectionYes, 10*time.Second)

	if !res.Succeeded() {
		t.Fatalf("retry did not recover: %s %s", res.FailureName, res.Message)
	}
	if ml.submitCalls != 2 {
		t.Errorf("submit calls = %d, want 2", ml.submitCalls)
	}
}

func TestCommitWithRetry_AmbiguousRecoversFromLedger(t *testing.T) {
	ml := newMockLedger()
	ml.submitErrs = []error{&ledger.Error{Kind: ledger.KindAmbiguous, Msg: "timeout"}}
	svc := NewService(ml)
	w := testWallet(t)

	// The earlier broadcast actually landed: reconciliation must recover
	// it instead of resubmitting.
	landed, err := memo.EncodePrediction(memo.PredictionCommitment{
		MarketTicker: "TICK",
		Probability:  decimal.NewFromFloat(0.6),
		Direction:    memo.DirectionYes,
		CommitterRef: w.ShortRef(),
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	ml.notes = []ledger.Note{{Signature: "landedsig", Memo: landed}}

	res := svc.CommitWithRetry(context.Background(), w, "TICK", decimal.NewFromFloat(0.6), memo.DirectionYes, 10*time.Second)

	if !res.Succeeded() {
		t.Fatalf("ambiguous recovery failed: %s %s", res.FailureName, res.Message)
	}
	if res.Signature != "landedsig" {
		t.Errorf("signature = %q, want the landed transaction", res.Signature)
	}
	if ml.submitCalls != 1 {
		t.Errorf("submit calls = %d, want 1 (no blind resubmit)", ml.submitCalls)
	}

	// The recovered attempt is resolved, not stuck as ambiguous.
	if pending := svc.PendingReconciliation(); len(pending) != 0 {
		t.Errorf("pending reconciliation = %d after recovery, want 0", len(pending))
	}
	for _, a := range svc.Attempts() {
		if a.Stage != StageSucceeded {
			t.Errorf("attempt stage = %s after recovery, want SUCCEEDED", a.StageName)
		}
		if a.Signature != "landedsig" {
			t.Errorf("attempt signature = %q, want the landed transaction", a.Signature)
		}
	}
}

func TestCommitWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	ml := newMockLedger()
	ml.submitErrs = []error{&ledger.Error{Kind: ledger.KindRejected, Msg: "refused"}}
	svc := NewService(ml)
	w := testWallet(t)

	res := svc.CommitWithRetry(context.Background(), w, "TICK", decimal.NewFromFloat(0.6), memo.DirectionYes, 10*time.Second)

	if res.Succeeded() {
		t.Fatal("rejected submit must not succeed")
	}
	if res.Failure != FailureRejected {
		t.Errorf("failure = %s, want REJECTED", res.FailureName)
	}
	if ml.submitCalls != 1 {
		t.Errorf("submit calls = %d, want 1", ml.submitCalls)
	}
}

func TestCommit_LatencyOnlyObservedForSubmissions(t *testing.T) {
	ml := newMockLedger()
	m := metrics.NewCommitmentMetrics()
	svc := NewService(ml, WithMetrics(m))
	w := testWallet(t)

	// Failures before the ledger is reached leave the histogram empty.
	svc.Commit(context.Background(), w, "", decimal.NewFromFloat(0.5), memo.DirectionYes)
	if n := testutil.CollectAndCount(m.SubmitDuration); n != 0 {
		t.Errorf("latency series after a validation failure = %d, want 0", n)
	}

	ml.affordability.CanCommit = false
	svc.Commit(context.Background(), w, "TICK", decimal.NewFromFloat(0.5), memo.DirectionYes)
	if n := testutil.CollectAndCount(m.SubmitDuration); n != 0 {
		t.Errorf("latency series after an affordability failure = %d, want 0", n)
	}

	// A submission, successful or not, is observed.
	ml.affordability.CanCommit = true
	svc.Commit(context.Background(), w, "TICK", decimal.NewFromFloat(0.5), memo.DirectionYes)
	if n := testutil.CollectAndCount(m.SubmitDuration); n != 1 {
		t.Errorf("latency series after a submission = %d, want 1", n)
	}
}

func TestAttempts_Snapshot(t *testing.T) {
	ml := newMockLedger()
	svc := NewService(ml)
	w := testWallet(t)

	svc.Commit(context.Background(), w, "A", decimal.NewFromFloat(0.5), memo.DirectionYes)
	svc.Commit(context.Background(), w, "B", decimal.NewFromFloat(0.7), memo.DirectionNo)

	attempts := svc.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	for _, a := range attempts {
		if a.Stage != StageSucceeded {
			t.Errorf("attempt %s stage = %s, want SUCCEEDED", a.MarketTicker, a.StageName)
		}
	}
}
