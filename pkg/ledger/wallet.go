// Package ledger is the gateway to the Solana ledger: balance queries,
// affordability estimates, and memo-carrying transaction submission.
package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet wraps an ed25519 private key for Solana signing.
type Wallet struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// NewWallet creates a wallet from a base58-encoded private key.
func NewWallet(base58Key string) (*Wallet, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Wallet{
		key: key,
		pub: key.PublicKey(),
	}, nil
}

// PublicKey returns the wallet's public key.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.pub
}

// Address returns the base58 account address.
func (w *Wallet) Address() string {
	return w.pub.String()
}

// ShortRef returns the truncated, non-reversible committer reference
// embedded in PREDICT memos: first four and last four base58 characters.
func (w *Wallet) ShortRef() string {
	return ShortRef(w.pub)
}

// ShortRef truncates any account address for display and audit use.
func ShortRef(pub solana.PublicKey) string {
	addr := pub.String()
	if len(addr) <= 10 {
		return addr
	}
	return addr[:4] + ".." + addr[len(addr)-4:]
}

// signerFor returns the key getter used by transaction signing.
func (w *Wallet) signerFor() func(key solana.PublicKey) *solana.PrivateKey {
	return func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.pub) {
			return &w.key
		}
		return nil
	}
}
