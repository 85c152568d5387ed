package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/stakevault/internal/store"
)

type fakeStats struct {
	aggregateTotal decimal.Decimal
	aggregateCount int64
	aggregateErr   error

	stats    *store.PlatformStats
	statsErr error

	savedTotal   decimal.Decimal
	savedCount   int64
	savedBalance decimal.Decimal
	savedPool    decimal.Decimal
}

func (f *fakeStats) AggregateStakers(ctx context.Context) (decimal.Decimal, int64, error) {
	return f.aggregateTotal, f.aggregateCount, f.aggregateErr
}

func (f *fakeStats) UpsertPlatformTotals(ctx context.Context, totalStaked decimal.Decimal, numberOfStakers int64) error {
	f.savedTotal = totalStaked
	f.savedCount = numberOfStakers
	return nil
}

func (f *fakeStats) SetVaultBalance(ctx context.Context, balance, rewardPool decimal.Decimal) error {
	f.savedBalance = balance
	f.savedPool = rewardPool
	return nil
}

func (f *fakeStats) GetPlatformStats(ctx context.Context) (*store.PlatformStats, error) {
	return f.stats, f.statsErr
}

type fakeBalance struct {
	balance decimal.Decimal
	err     error
}

func (f *fakeBalance) VaultBalance(ctx context.Context) (decimal.Decimal, error) {
	return f.balance, f.err
}

func TestRecomputeTotals(t *testing.T) {
	stats := &fakeStats{aggregateTotal: decimal.NewFromInt(1500), aggregateCount: 3}
	agg := NewAggregator(stats, &fakeBalance{}, decimal.RequireFromString("0.5"))

	require.NoError(t, agg.RecomputeTotals(context.Background()))
	assert.True(t, stats.savedTotal.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, int64(3), stats.savedCount)
}

func TestRecomputeTotalsPropagatesStoreError(t *testing.T) {
	stats := &fakeStats{aggregateErr: errors.New("db down")}
	agg := NewAggregator(stats, &fakeBalance{}, decimal.RequireFromString("0.5"))
	assert.Error(t, agg.RecomputeTotals(context.Background()))
}

func TestRefreshVaultBalance(t *testing.T) {
	stats := &fakeStats{}
	agg := NewAggregator(stats, &fakeBalance{balance: decimal.NewFromInt(200)}, decimal.RequireFromString("0.5"))

	require.NoError(t, agg.RefreshVaultBalance(context.Background()))
	assert.True(t, stats.savedBalance.Equal(decimal.NewFromInt(200)))
	assert.True(t, stats.savedPool.Equal(decimal.NewFromInt(100)))
}

func TestOverviewMissingRowReadsEmpty(t *testing.T) {
	stats := &fakeStats{statsErr: store.ErrStatsNotFound}
	agg := NewAggregator(stats, &fakeBalance{}, decimal.RequireFromString("0.5"))

	overview, err := agg.Overview(context.Background())
	require.NoError(t, err)
	assert.True(t, overview.TotalStaked.IsZero())
	assert.Equal(t, int64(0), overview.NumberOfStakers)
}

func TestEstimatedDailyReward(t *testing.T) {
	// weekly pool 70 -> daily 10; wallet holds a quarter of principal.
	got := EstimatedDailyReward(decimal.NewFromInt(25), decimal.NewFromInt(100), decimal.NewFromInt(70))
	assert.True(t, got.Equal(decimal.RequireFromString("2.5")), "got %s", got)

	assert.True(t, EstimatedDailyReward(decimal.Zero, decimal.NewFromInt(100), decimal.NewFromInt(70)).IsZero())
	assert.True(t, EstimatedDailyReward(decimal.NewFromInt(25), decimal.Zero, decimal.NewFromInt(70)).IsZero())
	assert.True(t, EstimatedDailyReward(decimal.NewFromInt(25), decimal.NewFromInt(100), decimal.Zero).IsZero())
}
