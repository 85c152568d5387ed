package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects
const (
	EventTypeStakeRecorded      = "staking.stake.recorded"
	EventTypeUnstakeSettled     = "staking.unstake.settled"
	EventTypeRewardsWithdrawn   = "staking.rewards.withdrawn"
	EventTypeRewardsDistributed = "staking.rewards.distributed"
	EventTypeVaultDeposit       = "staking.vault.deposit"

	// EventTypeReconciliationRequired marks settlements where the external
	// transfer succeeded but a local write failed. Consumed by operator
	// tooling, never auto-retried.
	EventTypeReconciliationRequired = "staking.reconciliation.required"
)

// StakeEvent is emitted after a stake or unstake settles.
type StakeEvent struct {
	EventID      uuid.UUID `json:"event_id"`
	Wallet       string    `json:"wallet"`
	Amount       string    `json:"amount"`
	NewPrincipal string    `json:"new_principal"`
	TxSignature  string    `json:"tx_signature"`
	Timestamp    time.Time `json:"timestamp"`
}

// WithdrawalEvent is emitted after a reward payout settles.
type WithdrawalEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	Wallet      string    `json:"wallet"`
	Amount      string    `json:"amount"`
	TxSignature string    `json:"tx_signature"`
	Timestamp   time.Time `json:"timestamp"`
}

// DistributionEvent summarizes a reward engine run.
type DistributionEvent struct {
	EventID         uuid.UUID `json:"event_id"`
	Stakers         int       `json:"stakers"`
	TotalRewards    string    `json:"total_rewards"`
	VaultBalance    string    `json:"vault_balance"`
	DistributionRun string    `json:"distribution_run"`
	Timestamp       time.Time `json:"timestamp"`
}

// VaultDepositEvent is emitted when a webhook reports a deposit to the vault.
type VaultDepositEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	Amount      string    `json:"amount"`
	TxSignature string    `json:"tx_signature"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReconciliationEvent carries everything an operator needs to repair a
// half-settled operation by hand.
type ReconciliationEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	Wallet      string    `json:"wallet"`
	Operation   string    `json:"operation"`
	Amount      string    `json:"amount"`
	TxSignature string    `json:"tx_signature"`
	Detail      string    `json:"detail"`
	Timestamp   time.Time `json:"timestamp"`
}
