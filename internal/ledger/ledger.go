package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/stakevault/internal/store"
)

var (
	// ErrInsufficientStake is a domain rejection, not a ledger fault: the
	// requested debit exceeds the account's principal.
	ErrInsufficientStake = errors.New("insufficient staked balance")

	// ErrVersionConflict means the bounded optimistic-concurrency retry was
	// exhausted. Callers surface it as a conflict, never drop the mutation.
	ErrVersionConflict = errors.New("concurrent modification, retries exhausted")

	ErrNonPositiveAmount = errors.New("amount must be positive")
)

const (
	casRetries = 3
	casBackoff = 50 * time.Millisecond
)

// StakerStore is the persistence surface the ledger mutates through.
type StakerStore interface {
	GetStaker(ctx context.Context, wallet string) (*store.Staker, error)
	CreateStaker(ctx context.Context, wallet string) (*store.Staker, error)
	UpdateStakerCAS(ctx context.Context, st *store.Staker, expectedVersion int64) (bool, error)
}

// Ledger is the data authority for principal and pending rewards. Every
// mutation is a read-modify-write guarded by the staker's version column;
// a failed conditional write retries the whole cycle, bounded.
type Ledger struct {
	stakers StakerStore
}

// New creates a ledger over the given staker store.
func New(stakers StakerStore) *Ledger {
	return &Ledger{stakers: stakers}
}

// mutate runs one bounded read-modify-write cycle. apply edits the staker
// in place; returning an error aborts without retrying.
func (l *Ledger) mutate(ctx context.Context, wallet string, createIfAbsent bool, apply func(st *store.Staker) error) (*store.Staker, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		st, err := l.stakers.GetStaker(ctx, wallet)
		if err == store.ErrStakerNotFound && createIfAbsent {
			st, err = l.stakers.CreateStaker(ctx, wallet)
		}
		if err != nil {
			return nil, err
		}

		expectedVersion := st.Version
		if err := apply(st); err != nil {
			return nil, err
		}

		ok, err := l.stakers.UpdateStakerCAS(ctx, st, expectedVersion)
		if err != nil {
			return nil, err
		}
		if ok {
			st.Version = expectedVersion + 1
			return st, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(casBackoff):
		}
	}
	return nil, ErrVersionConflict
}

// Credit increases principal after a verified inbound stake transfer. The
// loyalty anchor starts only when it is not already running: topping up an
// active streak must not reset it.
func (l *Ledger) Credit(ctx context.Context, wallet string, amt decimal.Decimal) (*store.Staker, error) {
	if !amt.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	return l.mutate(ctx, wallet, true, func(st *store.Staker) error {
		st.StakedAmount = st.StakedAmount.Add(amt)
		if !st.FirstStakedAt.Valid {
			st.FirstStakedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		}
		return nil
	})
}

// Debit decreases principal for an unstake. resetLoyalty clears the loyalty
// anchor; whether a partial unstake forfeits the whole streak is a product
// policy decided by the caller's configuration.
func (l *Ledger) Debit(ctx context.Context, wallet string, amt decimal.Decimal, resetLoyalty bool) (*store.Staker, error) {
	if !amt.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	return l.mutate(ctx, wallet, false, func(st *store.Staker) error {
		if amt.GreaterThan(st.StakedAmount) {
			return fmt.Errorf("%w: have %s, requested %s", ErrInsufficientStake, st.StakedAmount, amt)
		}
		st.StakedAmount = st.StakedAmount.Sub(amt)
		if resetLoyalty {
			st.FirstStakedAt = sql.NullTime{}
		}
		return nil
	})
}

// AccrueRewards adds to pendingRewards and stamps the accrual time. Additive
// only; existing unclaimed rewards are never overwritten.
func (l *Ledger) AccrueRewards(ctx context.Context, wallet string, amt decimal.Decimal) (*store.Staker, error) {
	if amt.IsNegative() {
		return nil, ErrNonPositiveAmount
	}

	return l.mutate(ctx, wallet, false, func(st *store.Staker) error {
		st.PendingRewards = st.PendingRewards.Add(amt)
		st.LastAccrualAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		return nil
	})
}

// SettleRewards atomically reads and zeroes pendingRewards, returning the
// settled amount for payout.
func (l *Ledger) SettleRewards(ctx context.Context, wallet string) (decimal.Decimal, error) {
	var settled decimal.Decimal

	_, err := l.mutate(ctx, wallet, false, func(st *store.Staker) error {
		settled = st.PendingRewards
		st.PendingRewards = decimal.Zero
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return settled, nil
}

// RestoreRewards re-credits a settled amount after a payout attempt that
// never left the vault. Only valid before the external transfer is
// submitted; once funds move, reconciliation is manual.
func (l *Ledger) RestoreRewards(ctx context.Context, wallet string, amt decimal.Decimal) error {
	if !amt.IsPositive() {
		return nil
	}
	_, err := l.mutate(ctx, wallet, false, func(st *store.Staker) error {
		st.PendingRewards = st.PendingRewards.Add(amt)
		return nil
	})
	return err
}
