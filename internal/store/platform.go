package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GetPlatformStats returns the single derived-stats row.
func (s *Store) GetPlatformStats(ctx context.Context) (*PlatformStats, error) {
	var ps PlatformStats
	err := s.db.QueryRowContext(ctx,
		`SELECT id, total_staked, number_of_stakers, vault_balance, weekly_reward_pool, last_updated
		 FROM platform_stats LIMIT 1`,
	).Scan(&ps.ID, &ps.TotalStaked, &ps.NumberOfStakers, &ps.VaultBalance, &ps.WeeklyRewardPool, &ps.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrStatsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get platform stats: %w", err)
	}
	return &ps, nil
}

// UpsertPlatformTotals writes the recomputed principal totals, creating the
// stats row on first use.
func (s *Store) UpsertPlatformTotals(ctx context.Context, totalStaked decimal.Decimal, numberOfStakers int64) error {
	existing, err := s.GetPlatformStats(ctx)
	if err == ErrStatsNotFound {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO platform_stats (id, total_staked, number_of_stakers, last_updated)
			 VALUES ($1, $2, $3, $4)`,
			uuid.New(), totalStaked, numberOfStakers, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert platform stats: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE platform_stats SET total_staked = $1, number_of_stakers = $2, last_updated = $3 WHERE id = $4`,
		totalStaked, numberOfStakers, time.Now().UTC(), existing.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update platform stats: %w", err)
	}
	return nil
}

// SetVaultBalance records the observed vault settlement-currency balance and
// the derived weekly reward pool.
func (s *Store) SetVaultBalance(ctx context.Context, balance, rewardPool decimal.Decimal) error {
	existing, err := s.GetPlatformStats(ctx)
	if err == ErrStatsNotFound {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO platform_stats (id, vault_balance, weekly_reward_pool, last_updated)
			 VALUES ($1, $2, $3, $4)`,
			uuid.New(), balance, rewardPool, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert platform stats: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE platform_stats SET vault_balance = $1, weekly_reward_pool = $2, last_updated = $3 WHERE id = $4`,
		balance, rewardPool, time.Now().UTC(), existing.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update vault balance: %w", err)
	}
	return nil
}

// AddVaultBalance increments the observed vault balance by delta. Used by
// the webhook path, which sees deposits as they land.
func (s *Store) AddVaultBalance(ctx context.Context, delta decimal.Decimal) error {
	existing, err := s.GetPlatformStats(ctx)
	if err == ErrStatsNotFound {
		return s.SetVaultBalance(ctx, delta, decimal.Zero)
	}
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE platform_stats SET vault_balance = vault_balance + $1, last_updated = $2 WHERE id = $3`,
		delta, time.Now().UTC(), existing.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to add vault balance: %w", err)
	}
	return nil
}
