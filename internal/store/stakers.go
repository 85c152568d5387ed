package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const stakerColumns = `id, wallet_address, staked_amount, pending_rewards, first_staked_at, last_accrual_at, version, created_at, last_updated`

func scanStaker(row *sql.Row) (*Staker, error) {
	var st Staker
	err := row.Scan(&st.ID, &st.WalletAddress, &st.StakedAmount, &st.PendingRewards,
		&st.FirstStakedAt, &st.LastAccrualAt, &st.Version, &st.CreatedAt, &st.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrStakerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan staker: %w", err)
	}
	return &st, nil
}

// GetStaker retrieves a staker by wallet address.
func (s *Store) GetStaker(ctx context.Context, wallet string) (*Staker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stakerColumns+` FROM stakers WHERE wallet_address = $1`, wallet)
	return scanStaker(row)
}

// CreateStaker inserts a zero-balance staker row. A concurrent insert for
// the same wallet loses silently and the existing row is returned.
func (s *Store) CreateStaker(ctx context.Context, wallet string) (*Staker, error) {
	now := time.Now().UTC()
	st := &Staker{
		ID:             uuid.New(),
		WalletAddress:  wallet,
		StakedAmount:   decimal.Zero,
		PendingRewards: decimal.Zero,
		Version:        1,
		CreatedAt:      now,
		LastUpdated:    now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stakers (id, wallet_address, staked_amount, pending_rewards, version, created_at, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.ID, st.WalletAddress, st.StakedAmount, st.PendingRewards, st.Version, st.CreatedAt, st.LastUpdated,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return s.GetStaker(ctx, wallet)
		}
		return nil, fmt.Errorf("failed to create staker: %w", err)
	}
	return st, nil
}

// UpdateStakerCAS writes the staker's mutable fields conditionally on the
// version still matching expectedVersion. Returns false with no error when
// the row was modified concurrently; the caller retries the whole
// read-modify-write cycle.
func (s *Store) UpdateStakerCAS(ctx context.Context, st *Staker, expectedVersion int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE stakers
		 SET staked_amount = $1, pending_rewards = $2, first_staked_at = $3,
		     last_accrual_at = $4, version = version + 1, last_updated = $5
		 WHERE wallet_address = $6 AND version = $7`,
		st.StakedAmount, st.PendingRewards, st.FirstStakedAt, st.LastAccrualAt,
		time.Now().UTC(), st.WalletAddress, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update staker: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListActiveStakers returns all stakers with positive principal.
func (s *Store) ListActiveStakers(ctx context.Context) ([]Staker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stakerColumns+` FROM stakers WHERE staked_amount > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active stakers: %w", err)
	}
	defer rows.Close()

	var stakers []Staker
	for rows.Next() {
		var st Staker
		err := rows.Scan(&st.ID, &st.WalletAddress, &st.StakedAmount, &st.PendingRewards,
			&st.FirstStakedAt, &st.LastAccrualAt, &st.Version, &st.CreatedAt, &st.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staker: %w", err)
		}
		stakers = append(stakers, st)
	}
	return stakers, rows.Err()
}

// AggregateStakers returns the sum of all principal and the count of
// stakers with positive principal in one pass.
func (s *Store) AggregateStakers(ctx context.Context) (decimal.Decimal, int64, error) {
	var total decimal.Decimal
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(staked_amount), 0), COUNT(*) FILTER (WHERE staked_amount > 0) FROM stakers`,
	).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to aggregate stakers: %w", err)
	}
	return total, count, nil
}
