package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// memoProgram is the SPL memo program (v2).
var memoProgram = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

// Cluster selects the explorer link target.
type Cluster string

const (
	ClusterMainnet Cluster = "mainnet-beta"
	ClusterDevnet  Cluster = "devnet"
	ClusterTestnet Cluster = "testnet"
)

// CostModel holds the conversion constants for affordability math. They
// are owned by the ledger, not this subsystem, so they arrive as
// configuration rather than hard-coded values.
type CostModel struct {
	// ReservedLamports is the rent-exempt floor the account must keep.
	ReservedLamports uint64
	// CommitCostLamports is the worst-case cost of one commitment:
	// base transaction fee plus the per-memo surcharge.
	CommitCostLamports uint64
	// SafetyMarginLamports is extra headroom required before CanCommit
	// turns true.
	SafetyMarginLamports uint64
}

// DefaultCostModel returns conservative devnet/mainnet defaults:
// rent-exempt minimum for a zero-data account, one signature's base fee
// plus surcharge, one extra fee of headroom.
func DefaultCostModel() CostModel {
	return CostModel{
		ReservedLamports:     890_880,
		CommitCostLamports:   10_000,
		SafetyMarginLamports: 5_000,
	}
}

// Affordability is a point-in-time read of what an account can still
// commit. It has no persisted identity; compute it fresh for every check.
type Affordability struct {
	SpendableLamports  uint64          `json:"spendable_lamports"`
	SpendableSOL       decimal.Decimal `json:"spendable_sol"`
	CanCommit          bool            `json:"can_commit"`
	EstimatedRemaining uint64          `json:"estimated_remaining_commitments"`
	CheckedAt          time.Time       `json:"checked_at"`
}

// ComputeAffordability applies the cost model to a raw balance. Pure; the
// RPC round trip lives in GetAffordability.
func ComputeAffordability(balanceLamports uint64, cm CostModel) Affordability {
	floor := cm.ReservedLamports + cm.SafetyMarginLamports

	var usable uint64
	if balanceLamports > floor {
		usable = balanceLamports - floor
	}

	var remaining uint64
	if cm.CommitCostLamports > 0 {
		remaining = usable / cm.CommitCostLamports
	}

	return Affordability{
		SpendableLamports:  balanceLamports,
		SpendableSOL:       decimal.NewFromUint64(balanceLamports).Div(lamportsPerSOL),
		CanCommit:          remaining >= 1,
		EstimatedRemaining: remaining,
		CheckedAt:          time.Now().UTC(),
	}
}

// Receipt is a successful submission: the transaction signature plus a
// human-viewable explorer link.
type Receipt struct {
	Signature   string `json:"signature"`
	ExplorerURL string `json:"explorer_url"`
}

// Note is a memo-bearing entry from the account's recent ledger history.
type Note struct {
	Signature string    `json:"signature"`
	Memo      string    `json:"memo"`
	Slot      uint64    `json:"slot"`
	BlockTime time.Time `json:"block_time,omitempty"`
}

// Gateway talks to a Solana RPC node. Submissions are not idempotent:
// an ambiguous failure means the transaction may or may not have landed,
// and the caller must reconcile before retrying.
type Gateway struct {
	client  *rpc.Client
	cluster Cluster
	cost    CostModel
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// GatewayOption configures the gateway.
type GatewayOption func(*Gateway)

// WithCluster sets the cluster used for explorer links.
func WithCluster(cluster Cluster) GatewayOption {
	return func(g *Gateway) {
		g.cluster = cluster
	}
}

// WithCostModel overrides the affordability cost model.
func WithCostModel(cm CostModel) GatewayOption {
	return func(g *Gateway) {
		g.cost = cm
	}
}

// WithRateLimit overrides the RPC rate limit.
func WithRateLimit(perSec float64, burst int) GatewayOption {
	return func(g *Gateway) {
		g.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// NewGateway creates a gateway against the given RPC endpoint.
func NewGateway(endpoint string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client:  rpc.New(endpoint),
		cluster: ClusterDevnet,
		cost:    DefaultCostModel(),
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		logger:  log.With().Str("component", "ledger_gateway").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CostModel returns the active cost model.
func (g *Gateway) CostModel() CostModel {
	return g.cost
}

// GetAffordability queries the spendable balance and applies the cost
// model. An RPC failure comes back as KindUnreachable - never conflate
// "can't check" with "can't afford".
func (g *Gateway) GetAffordability(ctx context.Context, account solana.PublicKey) (*Affordability, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindUnreachable, Msg: "rate limiter", Err: err}
	}

	res, err := g.client.GetBalance(ctx, account, rpc.CommitmentFinalized)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Msg: "balance query failed", Err: err}
	}

	aff := ComputeAffordability(res.Value, g.cost)
	g.logger.Debug().
		Str("account", ShortRef(account)).
		Uint64("lamports", aff.SpendableLamports).
		Uint64("remaining", aff.EstimatedRemaining).
		Bool("can_commit", aff.CanCommit).
		Msg("affordability checked")
	return &aff, nil
}

// Submit broadcasts exactly one transaction carrying memoText as its
// attached note, signed by the wallet. On success the receipt carries the
// signature and explorer link; on failure the error is categorized. A
// timeout after broadcast is KindAmbiguous: the transaction may have
// landed, so the caller must reconcile before any retry.
func (g *Gateway) Submit(ctx context.Context, w *Wallet, memoText string) (*Receipt, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindUnreachable, Msg: "rate limiter", Err: err}
	}

	recent, err := g.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		// Nothing has been broadcast yet; safe to call again.
		return nil, &Error{Kind: KindUnreachable, Msg: "blockhash query failed", Err: err}
	}

	ins := solana.NewInstruction(
		memoProgram,
		solana.AccountMetaSlice{solana.Meta(w.PublicKey()).SIGNER()},
		[]byte(memoText),
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ins},
		recent.Value.Blockhash,
		solana.TransactionPayer(w.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(w.signerFor()); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := g.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("account", w.ShortRef()).Msg("submission failed")
		return nil, classifySendError(ctx, err)
	}

	receipt := &Receipt{
		Signature:   sig.String(),
		ExplorerURL: ExplorerURL(g.cluster, sig.String()),
	}
	g.logger.Info().
		Str("account", w.ShortRef()).
		Str("signature", receipt.Signature).
		Int("memo_bytes", len(memoText)).
		Msg("memo transaction submitted")
	return receipt, nil
}

// RecentMemos returns the memo-bearing entries among the account's most
// recent transactions, newest first. Entries without a memo are skipped.
func (g *Gateway) RecentMemos(ctx context.Context, account solana.PublicKey, limit int) ([]Note, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindUnreachable, Msg: "rate limiter", Err: err}
	}
	if limit <= 0 {
		limit = 50
	}

	sigs, err := g.client.GetSignaturesForAddressWithOpts(ctx, account, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Msg: "signature listing failed", Err: err}
	}

	notes := make([]Note, 0, len(sigs))
	for _, s := range sigs {
		if s.Memo == nil || *s.Memo == "" {
			continue
		}
		note := Note{
			Signature: s.Signature.String(),
			Memo:      stripMemoPrefix(*s.Memo),
			Slot:      s.Slot,
		}
		if s.BlockTime != nil {
			note.BlockTime = s.BlockTime.Time()
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// ExplorerURL builds the human-viewable link for a transaction signature.
func ExplorerURL(cluster Cluster, signature string) string {
	if cluster == ClusterMainnet || cluster == "" {
		return "https://explorer.solana.com/tx/" + signature
	}
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", signature, cluster)
}

// stripMemoPrefix removes the "[len] " prefix getSignaturesForAddress
// prepends to memo contents.
func stripMemoPrefix(memoText string) string {
	if !strings.HasPrefix(memoText, "[") {
		return memoText
	}
	end := strings.Index(memoText, "] ")
	if end < 0 {
		return memoText
	}
	return memoText[end+2:]
}

// classifySendError converts an RPC send failure into the closed error
// taxonomy. The RPC layer only exposes message text, so the mapping
// happens here, once, at the boundary; nothing downstream ever matches
// on strings.
func classifySendError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &Error{Kind: KindAmbiguous, Msg: "broadcast status unknown, reconcile before retrying", Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient lamports"),
		strings.Contains(msg, "insufficient funds"):
		return &Error{Kind: KindInsufficientFunds, Msg: "account cannot cover the transaction", Err: err}
	case strings.Contains(msg, "blockhash not found"),
		strings.Contains(msg, "transaction simulation failed"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "custom program error"):
		return &Error{Kind: KindRejected, Msg: "ledger refused the transaction", Err: err}
	default:
		return &Error{Kind: KindNetworkFailure, Msg: "broadcast failed", Err: err}
	}
}
