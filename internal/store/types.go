package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrStakerNotFound       = errors.New("staker not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already recorded")
	ErrStatsNotFound        = errors.New("platform stats not found")
)

// Transaction kinds
const (
	TxTypeStake   = "stake"
	TxTypeUnstake = "unstake"
	TxTypeReward  = "reward"
)

// Transaction statuses
const (
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Staker is one row per participating wallet. StakedAmount and
// PendingRewards never go negative; Version increases by one per committed
// mutation and guards every conditional write.
type Staker struct {
	ID             uuid.UUID
	WalletAddress  string
	StakedAmount   decimal.Decimal
	PendingRewards decimal.Decimal
	FirstStakedAt  sql.NullTime
	LastAccrualAt  sql.NullTime
	Version        int64
	CreatedAt      time.Time
	LastUpdated    time.Time
}

// Transaction is an append-only settlement log entry. TxSignature is the
// idempotency key and carries a unique index.
type Transaction struct {
	ID            uuid.UUID
	WalletAddress string
	Type          string
	Amount        decimal.Decimal
	Token         string
	TxSignature   string
	Status        string
	CreatedAt     time.Time
}

// RewardRecord is one reward payout history row.
type RewardRecord struct {
	ID               uuid.UUID
	WalletAddress    string
	Amount           decimal.Decimal
	DistributionDate string
	TxSignature      string
	DistributedAt    time.Time
}

// PlatformStats is derived state, recomputed from stakers after every
// settlement. Safe to lose.
type PlatformStats struct {
	ID               uuid.UUID
	TotalStaked      decimal.Decimal
	NumberOfStakers  int64
	VaultBalance     decimal.Decimal
	WeeklyRewardPool decimal.Decimal
	LastUpdated      time.Time
}

// WebhookLog records every inbound external-ledger notification, recognized
// or not.
type WebhookLog struct {
	ID          uuid.UUID
	EventType   string
	Payload     json.RawMessage
	Processed   bool
	ProcessedAt sql.NullTime
	CreatedAt   time.Time
}

// AdminAction is an audit row for privileged operations.
type AdminAction struct {
	ID          uuid.UUID
	AdminWallet string
	ActionType  string
	Details     json.RawMessage
	CreatedAt   time.Time
}

// Store provides Postgres persistence for the staking ledger.
type Store struct {
	db *sql.DB
}

// New creates a store backed by db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}
