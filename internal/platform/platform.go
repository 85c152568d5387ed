package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/stakevault/internal/store"
	"github.com/terminal-bench/stakevault/pkg/amount"
)

var daysPerWeek = decimal.NewFromInt(7)

// StatsStore is the persistence surface for derived platform state.
type StatsStore interface {
	AggregateStakers(ctx context.Context) (decimal.Decimal, int64, error)
	UpsertPlatformTotals(ctx context.Context, totalStaked decimal.Decimal, numberOfStakers int64) error
	SetVaultBalance(ctx context.Context, balance, rewardPool decimal.Decimal) error
	GetPlatformStats(ctx context.Context) (*store.PlatformStats, error)
}

// BalanceSource reports the live vault balance.
type BalanceSource interface {
	VaultBalance(ctx context.Context) (decimal.Decimal, error)
}

// Aggregator maintains the derived platform totals. Everything it writes is
// recomputable from the stakers table and the external ledger; a stale or
// lost row is repaired by the next settlement.
type Aggregator struct {
	stats        StatsStore
	balance      BalanceSource
	poolFraction decimal.Decimal
}

// NewAggregator creates a platform aggregator.
func NewAggregator(stats StatsStore, balance BalanceSource, poolFraction decimal.Decimal) *Aggregator {
	return &Aggregator{stats: stats, balance: balance, poolFraction: poolFraction}
}

// RecomputeTotals re-derives total principal and staker count from the
// ledger and persists them. Called after every settlement commit.
func (a *Aggregator) RecomputeTotals(ctx context.Context) error {
	total, count, err := a.stats.AggregateStakers(ctx)
	if err != nil {
		return fmt.Errorf("failed to recompute platform totals: %w", err)
	}
	if err := a.stats.UpsertPlatformTotals(ctx, total, count); err != nil {
		return fmt.Errorf("failed to persist platform totals: %w", err)
	}
	return nil
}

// RefreshVaultBalance reads the live vault balance and stores it together
// with the weekly reward pool it implies.
func (a *Aggregator) RefreshVaultBalance(ctx context.Context) error {
	balance, err := a.balance.VaultBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to read vault balance: %w", err)
	}
	pool := balance.Mul(a.poolFraction)
	if err := a.stats.SetVaultBalance(ctx, balance, pool); err != nil {
		return fmt.Errorf("failed to persist vault balance: %w", err)
	}
	return nil
}

// Overview returns the current derived stats. A missing row reads as an
// empty platform rather than an error.
func (a *Aggregator) Overview(ctx context.Context) (*store.PlatformStats, error) {
	stats, err := a.stats.GetPlatformStats(ctx)
	if errors.Is(err, store.ErrStatsNotFound) {
		return &store.PlatformStats{
			TotalStaked:      decimal.Zero,
			VaultBalance:     decimal.Zero,
			WeeklyRewardPool: decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// EstimatedDailyReward projects one wallet's daily reward from the weekly
// pool and its share of total principal. Loyalty multipliers shift the split
// between wallets at distribution time; the projection ignores them.
func EstimatedDailyReward(principal, totalStaked, weeklyPool decimal.Decimal) decimal.Decimal {
	if !principal.IsPositive() || !totalStaked.IsPositive() || !weeklyPool.IsPositive() {
		return decimal.Zero
	}
	daily := weeklyPool.Div(daysPerWeek)
	return daily.Mul(principal).Div(totalStaked).RoundDown(amount.TokenDecimals)
}
