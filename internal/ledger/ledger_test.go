package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/stakevault/internal/store"
)

// fakeStakerStore is an in-memory StakerStore with real CAS semantics.
type fakeStakerStore struct {
	mu       sync.Mutex
	stakers  map[string]store.Staker
	failCAS  int // force this many CAS rejections
	casCalls int
}

func newFakeStakerStore() *fakeStakerStore {
	return &fakeStakerStore{stakers: make(map[string]store.Staker)}
}

func (f *fakeStakerStore) GetStaker(ctx context.Context, wallet string) (*store.Staker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stakers[wallet]
	if !ok {
		return nil, store.ErrStakerNotFound
	}
	cp := st
	return &cp, nil
}

func (f *fakeStakerStore) CreateStaker(ctx context.Context, wallet string) (*store.Staker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.stakers[wallet]; ok {
		cp := st
		return &cp, nil
	}
	st := store.Staker{
		ID:             uuid.New(),
		WalletAddress:  wallet,
		StakedAmount:   decimal.Zero,
		PendingRewards: decimal.Zero,
		Version:        1,
		CreatedAt:      time.Now(),
		LastUpdated:    time.Now(),
	}
	f.stakers[wallet] = st
	cp := st
	return &cp, nil
}

func (f *fakeStakerStore) UpdateStakerCAS(ctx context.Context, st *store.Staker, expectedVersion int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casCalls++
	if f.failCAS > 0 {
		f.failCAS--
		return false, nil
	}
	current, ok := f.stakers[st.WalletAddress]
	if !ok || current.Version != expectedVersion {
		return false, nil
	}
	updated := *st
	updated.Version = expectedVersion + 1
	f.stakers[st.WalletAddress] = updated
	return true, nil
}

func TestCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("should create staker and start loyalty anchor on first stake", func(t *testing.T) {
		fs := newFakeStakerStore()
		l := New(fs)

		st, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(100))
		require.NoError(t, err)
		assert.True(t, st.StakedAmount.Equal(decimal.NewFromInt(100)))
		assert.True(t, st.FirstStakedAt.Valid)
	})

	t.Run("should not reset loyalty anchor on top-up", func(t *testing.T) {
		fs := newFakeStakerStore()
		l := New(fs)

		first, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(100))
		require.NoError(t, err)
		anchor := first.FirstStakedAt.Time

		second, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(50))
		require.NoError(t, err)
		assert.True(t, second.StakedAmount.Equal(decimal.NewFromInt(150)))
		assert.Equal(t, anchor, second.FirstStakedAt.Time)
	})

	t.Run("should reject non-positive amounts", func(t *testing.T) {
		l := New(newFakeStakerStore())
		_, err := l.Credit(ctx, "wallet-1", decimal.Zero)
		assert.ErrorIs(t, err, ErrNonPositiveAmount)
	})

	t.Run("should retry through transient version conflicts", func(t *testing.T) {
		fs := newFakeStakerStore()
		fs.failCAS = 2
		l := New(fs)

		st, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.True(t, st.StakedAmount.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, 3, fs.casCalls)
	})

	t.Run("should give up after bounded retries", func(t *testing.T) {
		fs := newFakeStakerStore()
		fs.failCAS = 10
		l := New(fs)

		_, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(10))
		assert.ErrorIs(t, err, ErrVersionConflict)
	})
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, principal int64) (*Ledger, *fakeStakerStore) {
		fs := newFakeStakerStore()
		l := New(fs)
		_, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(principal))
		require.NoError(t, err)
		return l, fs
	}

	t.Run("should decrease principal", func(t *testing.T) {
		l, _ := setup(t, 100)
		st, err := l.Debit(ctx, "wallet-1", decimal.NewFromInt(40), true)
		require.NoError(t, err)
		assert.True(t, st.StakedAmount.Equal(decimal.NewFromInt(60)))
	})

	t.Run("should reject debits above principal", func(t *testing.T) {
		l, fs := setup(t, 100)
		_, err := l.Debit(ctx, "wallet-1", decimal.NewFromInt(101), true)
		assert.ErrorIs(t, err, ErrInsufficientStake)

		st, err := fs.GetStaker(ctx, "wallet-1")
		require.NoError(t, err)
		assert.True(t, st.StakedAmount.Equal(decimal.NewFromInt(100)), "failed debit must not touch principal")
	})

	t.Run("should clear loyalty anchor when reset policy is on", func(t *testing.T) {
		l, _ := setup(t, 100)
		st, err := l.Debit(ctx, "wallet-1", decimal.NewFromInt(1), true)
		require.NoError(t, err)
		assert.False(t, st.FirstStakedAt.Valid)
	})

	t.Run("should keep loyalty anchor when reset policy is off", func(t *testing.T) {
		l, _ := setup(t, 100)
		st, err := l.Debit(ctx, "wallet-1", decimal.NewFromInt(1), false)
		require.NoError(t, err)
		assert.True(t, st.FirstStakedAt.Valid)
	})

	t.Run("should reject debit for unknown staker", func(t *testing.T) {
		l := New(newFakeStakerStore())
		_, err := l.Debit(ctx, "nobody", decimal.NewFromInt(1), true)
		assert.ErrorIs(t, err, store.ErrStakerNotFound)
	})
}

func TestRewards(t *testing.T) {
	ctx := context.Background()

	t.Run("accrue should be additive", func(t *testing.T) {
		fs := newFakeStakerStore()
		l := New(fs)
		_, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(100))
		require.NoError(t, err)

		_, err = l.AccrueRewards(ctx, "wallet-1", decimal.RequireFromString("1.5"))
		require.NoError(t, err)
		st, err := l.AccrueRewards(ctx, "wallet-1", decimal.RequireFromString("0.5"))
		require.NoError(t, err)

		assert.True(t, st.PendingRewards.Equal(decimal.NewFromInt(2)))
		assert.True(t, st.LastAccrualAt.Valid)
	})

	t.Run("settle should zero pending and return the amount", func(t *testing.T) {
		fs := newFakeStakerStore()
		l := New(fs)
		_, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(100))
		require.NoError(t, err)
		_, err = l.AccrueRewards(ctx, "wallet-1", decimal.RequireFromString("3.25"))
		require.NoError(t, err)

		settled, err := l.SettleRewards(ctx, "wallet-1")
		require.NoError(t, err)
		assert.True(t, settled.Equal(decimal.RequireFromString("3.25")))

		st, err := fs.GetStaker(ctx, "wallet-1")
		require.NoError(t, err)
		assert.True(t, st.PendingRewards.IsZero())
	})

	t.Run("restore should re-credit a failed payout", func(t *testing.T) {
		fs := newFakeStakerStore()
		l := New(fs)
		_, err := l.Credit(ctx, "wallet-1", decimal.NewFromInt(100))
		require.NoError(t, err)
		_, err = l.AccrueRewards(ctx, "wallet-1", decimal.NewFromInt(2))
		require.NoError(t, err)

		settled, err := l.SettleRewards(ctx, "wallet-1")
		require.NoError(t, err)
		require.NoError(t, l.RestoreRewards(ctx, "wallet-1", settled))

		st, err := fs.GetStaker(ctx, "wallet-1")
		require.NoError(t, err)
		assert.True(t, st.PendingRewards.Equal(decimal.NewFromInt(2)))
	})
}

func TestInvariantsUnderRandomSequence(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStakerStore()
	l := New(fs)

	// Deterministic pseudo-random walk over the four mutation kinds.
	ops := []int{0, 1, 2, 0, 3, 1, 1, 2, 3, 0, 1, 3, 2, 1, 0, 3, 3, 1, 2, 0}
	for i, op := range ops {
		amt := decimal.NewFromInt(int64(i%7 + 1))
		switch op {
		case 0:
			_, err := l.Credit(ctx, "w", amt)
			require.NoError(t, err)
		case 1:
			_, err := l.Debit(ctx, "w", amt, true)
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientStake)
			}
		case 2:
			_, err := l.AccrueRewards(ctx, "w", amt)
			require.NoError(t, err)
		case 3:
			_, err := l.SettleRewards(ctx, "w")
			require.NoError(t, err)
		}

		st, err := fs.GetStaker(ctx, "w")
		require.NoError(t, err)
		assert.False(t, st.StakedAmount.IsNegative(), "principal must never go negative")
		assert.False(t, st.PendingRewards.IsNegative(), "pending rewards must never go negative")
	}
}

func TestVersionStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStakerStore()
	l := New(fs)

	st, err := l.Credit(ctx, "w", decimal.NewFromInt(5))
	require.NoError(t, err)
	prev := st.Version

	for i := 0; i < 5; i++ {
		st, err = l.Credit(ctx, "w", decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.Greater(t, st.Version, prev)
		prev = st.Version
	}
}
