package wallet

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// Actions that require a signed intent message.
const (
	ActionUnstake  = "unstake"
	ActionWithdraw = "withdraw"
)

var (
	ErrStaleIntent  = errors.New("signed intent has expired")
	ErrFutureIntent = errors.New("signed intent is from the future")
	ErrBadSignature = errors.New("signature verification failed")
	ErrBadMessage   = errors.New("message does not match the expected intent")
)

// Tolerated clock skew for intent timestamps.
const maxClockSkew = 30 * time.Second

// Intent is a client-signed proof of recent intent to move funds. Replaying
// a captured intent outside the freshness window must fail.
type Intent struct {
	Wallet    string
	Action    string
	Message   string
	Signature string // base58
	IssuedAt  time.Time
}

// Message builds the canonical intent message a client signs.
func Message(action, wallet string, issuedAt time.Time) string {
	return fmt.Sprintf("StakeVault %s\nWallet: %s\nTimestamp: %d", action, wallet, issuedAt.UnixMilli())
}

// Verify checks an intent's freshness, canonical form, and ed25519
// signature. The wallet address doubles as the base58-encoded public key.
func Verify(intent Intent, now time.Time, maxAge time.Duration) error {
	age := now.Sub(intent.IssuedAt)
	if age > maxAge {
		return fmt.Errorf("%w: issued %s ago", ErrStaleIntent, age.Truncate(time.Second))
	}
	if age < -maxClockSkew {
		return ErrFutureIntent
	}

	if intent.Message != Message(intent.Action, intent.Wallet, intent.IssuedAt) {
		return ErrBadMessage
	}

	pub, err := base58.Decode(intent.Wallet)
	if err != nil {
		return fmt.Errorf("invalid wallet address: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid wallet address: expected %d key bytes, got %d", ed25519.PublicKeySize, len(pub))
	}

	sig, err := base58.Decode(intent.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature: expected %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(intent.Message), sig) {
		return ErrBadSignature
	}
	return nil
}
