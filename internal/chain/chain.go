package chain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrTransferNotFound means the external ledger never indexed the
	// referenced transfer within the retry budget.
	ErrTransferNotFound = errors.New("transfer not found on external ledger")

	// ErrTransferFailed means the transfer exists but failed on the ledger.
	ErrTransferFailed = errors.New("transfer failed on external ledger")

	// ErrConfirmationTimeout means an outbound transfer was submitted but
	// did not confirm within the polling budget. The funds may still land;
	// callers must treat this as unresolved, not as a clean failure.
	ErrConfirmationTimeout = errors.New("transfer confirmation timed out")
)

// Assets the vault can move.
const (
	AssetToken      = "token"      // the staked token
	AssetSettlement = "settlement" // the reward currency
)

// VerifyResult is the outcome of checking a client-claimed inbound
// transfer. Valid=false with a Reason is a hard validation failure;
// infrastructure trouble is reported as an error instead.
type VerifyResult struct {
	Valid        bool
	ActualAmount decimal.Decimal
	FromAddress  string
	Reason       string
}

// TransferRequest describes an outbound transfer from the vault.
type TransferRequest struct {
	Recipient string
	Amount    decimal.Decimal
	Asset     string
	// CreateRecipientAccount provisions the destination token account when
	// it does not exist yet. Only meaningful for AssetToken.
	CreateRecipientAccount bool
}

// Client is the opaque external-ledger capability: verify an inbound
// transfer, move funds out of the vault, wait for confirmation, and read
// the vault's settlement-currency balance. Transaction construction and
// signing live behind this interface; the settlement core never sees keys.
type Client interface {
	VerifyStakeTransfer(ctx context.Context, signature, expectedWallet string, expectedAmount decimal.Decimal) (*VerifyResult, error)
	SubmitTransfer(ctx context.Context, req TransferRequest) (string, error)
	AwaitConfirmation(ctx context.Context, signature string, attempts int, interval time.Duration) error
	VaultBalance(ctx context.Context) (decimal.Decimal, error)
}
