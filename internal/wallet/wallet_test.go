package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedIntent(t *testing.T, action string, issuedAt time.Time) (Intent, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	wallet := base58.Encode(pub)
	msg := Message(action, wallet, issuedAt)
	sig := ed25519.Sign(priv, []byte(msg))

	return Intent{
		Wallet:    wallet,
		Action:    action,
		Message:   msg,
		Signature: base58.Encode(sig),
		IssuedAt:  issuedAt,
	}, priv
}

func TestVerify(t *testing.T) {
	now := time.Now()
	maxAge := 5 * time.Minute

	t.Run("should accept a fresh, well-signed intent", func(t *testing.T) {
		intent, _ := signedIntent(t, ActionUnstake, now.Add(-time.Minute))
		assert.NoError(t, Verify(intent, now, maxAge))
	})

	t.Run("should reject an expired intent", func(t *testing.T) {
		intent, _ := signedIntent(t, ActionUnstake, now.Add(-6*time.Minute))
		assert.ErrorIs(t, Verify(intent, now, maxAge), ErrStaleIntent)
	})

	t.Run("should reject an intent from the future", func(t *testing.T) {
		intent, _ := signedIntent(t, ActionUnstake, now.Add(2*time.Minute))
		assert.ErrorIs(t, Verify(intent, now, maxAge), ErrFutureIntent)
	})

	t.Run("should reject a message that does not match the canonical form", func(t *testing.T) {
		intent, priv := signedIntent(t, ActionUnstake, now)
		intent.Message = "StakeVault unstake\nWallet: someone-else\nTimestamp: 0"
		intent.Signature = base58.Encode(ed25519.Sign(priv, []byte(intent.Message)))
		assert.ErrorIs(t, Verify(intent, now, maxAge), ErrBadMessage)
	})

	t.Run("should reject a signature from a different key", func(t *testing.T) {
		intent, _ := signedIntent(t, ActionUnstake, now)
		_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		intent.Signature = base58.Encode(ed25519.Sign(otherPriv, []byte(intent.Message)))
		assert.ErrorIs(t, Verify(intent, now, maxAge), ErrBadSignature)
	})

	t.Run("should reject an action swap in the message", func(t *testing.T) {
		intent, priv := signedIntent(t, ActionWithdraw, now)
		// Signed a withdraw message but claims an unstake intent.
		intent.Action = ActionUnstake
		intent.Signature = base58.Encode(ed25519.Sign(priv, []byte(intent.Message)))
		assert.ErrorIs(t, Verify(intent, now, maxAge), ErrBadMessage)
	})

	t.Run("should reject malformed wallet addresses", func(t *testing.T) {
		intent, _ := signedIntent(t, ActionUnstake, now)
		intent.Wallet = "0OIl" // not valid base58
		intent.Message = Message(intent.Action, intent.Wallet, intent.IssuedAt)
		assert.Error(t, Verify(intent, now, maxAge))
	})

	t.Run("should reject truncated signatures", func(t *testing.T) {
		intent, _ := signedIntent(t, ActionUnstake, now)
		intent.Signature = base58.Encode([]byte{1, 2, 3})
		assert.Error(t, Verify(intent, now, maxAge))
	})
}
