package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateReference rejects a settlement whose external reference was
	// already recorded.
	ErrDuplicateReference = errors.New("external reference already settled")

	// ErrAccountBusy means another settlement holds the per-account lock.
	ErrAccountBusy = errors.New("another settlement is in progress for this account")

	// ErrNothingToWithdraw means the account has no payable rewards.
	ErrNothingToWithdraw = errors.New("no rewards available to withdraw")

	// ErrInsufficientVault means the vault cannot cover the payout plus the
	// fee buffer.
	ErrInsufficientVault = errors.New("vault balance cannot cover payout")
)

// RateLimitError carries the wait until the next admission.
type RateLimitError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Operation, e.RetryAfter)
}

// VerificationError means the claimed external transfer did not check out.
// No ledger state was touched.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "transfer verification failed: " + e.Reason
}

// ReconciliationError marks a settlement where the external leg succeeded
// but a local step failed. It is never auto-retried: retrying would resubmit
// a transfer or double-credit. The payload is everything an operator needs.
type ReconciliationError struct {
	Operation   string
	Wallet      string
	Amount      decimal.Decimal
	TxSignature string
	Err         error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("manual reconciliation required: %s for %s amount %s ref %s: %v",
		e.Operation, e.Wallet, e.Amount, e.TxSignature, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
