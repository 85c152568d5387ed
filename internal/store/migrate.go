package store

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS stakers (
		id UUID PRIMARY KEY,
		wallet_address TEXT NOT NULL UNIQUE,
		staked_amount NUMERIC(20,6) NOT NULL DEFAULT 0 CHECK (staked_amount >= 0),
		pending_rewards NUMERIC(20,9) NOT NULL DEFAULT 0 CHECK (pending_rewards >= 0),
		first_staked_at TIMESTAMPTZ,
		last_accrual_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		wallet_address TEXT NOT NULL,
		type TEXT NOT NULL,
		amount NUMERIC(20,9) NOT NULL,
		token TEXT NOT NULL,
		tx_signature TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	// The unique index is the hard idempotency guarantee; the duplicate
	// guard lookup is only defense in depth.
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_tx_signature_idx ON transactions (tx_signature)`,
	`CREATE INDEX IF NOT EXISTS transactions_wallet_idx ON transactions (wallet_address, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS rewards (
		id UUID PRIMARY KEY,
		wallet_address TEXT NOT NULL,
		amount NUMERIC(20,9) NOT NULL,
		distribution_date DATE NOT NULL,
		tx_signature TEXT,
		distributed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS platform_stats (
		id UUID PRIMARY KEY,
		total_staked NUMERIC(20,6) NOT NULL DEFAULT 0,
		number_of_stakers BIGINT NOT NULL DEFAULT 0,
		vault_balance NUMERIC(20,9) NOT NULL DEFAULT 0,
		weekly_reward_pool NUMERIC(20,9) NOT NULL DEFAULT 0,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS webhook_logs (
		id UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT false,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS admin_actions (
		id UUID PRIMARY KEY,
		admin_wallet TEXT NOT NULL,
		action_type TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
