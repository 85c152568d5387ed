package settlement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/stakevault/internal/chain"
	"github.com/terminal-bench/stakevault/internal/ledger"
	"github.com/terminal-bench/stakevault/internal/platform"
	"github.com/terminal-bench/stakevault/internal/ratelimit"
	"github.com/terminal-bench/stakevault/internal/store"
	"github.com/terminal-bench/stakevault/internal/wallet"
	"github.com/terminal-bench/stakevault/pkg/amount"
	"github.com/terminal-bench/stakevault/pkg/messaging"
	"github.com/terminal-bench/stakevault/pkg/metrics"
)

const secondsPerDay = 86400

// Ledger is the mutation surface of the staking ledger.
type Ledger interface {
	Credit(ctx context.Context, wallet string, amt decimal.Decimal) (*store.Staker, error)
	Debit(ctx context.Context, wallet string, amt decimal.Decimal, resetLoyalty bool) (*store.Staker, error)
	AccrueRewards(ctx context.Context, wallet string, amt decimal.Decimal) (*store.Staker, error)
	SettleRewards(ctx context.Context, wallet string) (decimal.Decimal, error)
	RestoreRewards(ctx context.Context, wallet string, amt decimal.Decimal) error
}

// Accounts is the read surface the sagas consult before mutating.
type Accounts interface {
	GetStaker(ctx context.Context, wallet string) (*store.Staker, error)
	AggregateStakers(ctx context.Context) (decimal.Decimal, int64, error)
}

// TxLog appends settlement and reward history rows.
type TxLog interface {
	InsertTransaction(ctx context.Context, tx *store.Transaction) error
	InsertReward(ctx context.Context, r *store.RewardRecord) error
}

// Locker serializes settlement per account.
type Locker interface {
	Acquire(ctx context.Context, account string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, account, token string) error
}

// Limiter admits or rejects requests per operation budget.
type Limiter interface {
	Check(ctx context.Context, op, identifier string) ratelimit.Result
}

// Deduper flags already-settled external references.
type Deduper interface {
	IsDuplicate(ctx context.Context, sig string) (bool, *store.Transaction)
}

// Aggregates refreshes derived platform totals after a commit.
type Aggregates interface {
	RecomputeTotals(ctx context.Context) error
}

// Publisher emits post-commit events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Config holds settlement policy.
type Config struct {
	TokenMint             string
	LockTTL               time.Duration
	SignatureExpiry       time.Duration
	ConfirmAttempts       int
	ConfirmInterval       time.Duration
	WithdrawFeeBuffer     decimal.Decimal
	RewardPoolFraction    decimal.Decimal
	LoyaltyResetOnUnstake bool
}

// Service sequences the stake, unstake, and withdraw sagas. Each saga is a
// strict step order with defined lock-retention rules under partial failure:
// a failure after the external leg succeeded keeps the account locked (or,
// for withdraw, restores nothing) and escalates to ReconciliationError.
type Service struct {
	ledger        Ledger
	accounts      Accounts
	txlog         TxLog
	dedup         Deduper
	limiter       Limiter
	settleLocks   Locker
	withdrawLocks Locker
	chain         chain.Client
	aggregates    Aggregates
	publisher     Publisher
	recorder      *metrics.Recorder
	cfg           Config
	now           func() time.Time
}

// Deps bundles the service's collaborators. Publisher and Recorder are
// optional; everything else is required.
type Deps struct {
	Ledger        Ledger
	Accounts      Accounts
	TxLog         TxLog
	Dedup         Deduper
	Limiter       Limiter
	SettleLocks   Locker
	WithdrawLocks Locker
	Chain         chain.Client
	Aggregates    Aggregates
	Publisher     Publisher
	Recorder      *metrics.Recorder
}

// NewService creates the settlement orchestrator.
func NewService(deps Deps, cfg Config) *Service {
	return &Service{
		ledger:        deps.Ledger,
		accounts:      deps.Accounts,
		txlog:         deps.TxLog,
		dedup:         deps.Dedup,
		limiter:       deps.Limiter,
		settleLocks:   deps.SettleLocks,
		withdrawLocks: deps.WithdrawLocks,
		chain:         deps.Chain,
		aggregates:    deps.Aggregates,
		publisher:     deps.Publisher,
		recorder:      deps.Recorder,
		cfg:           cfg,
		now:           time.Now,
	}
}

// StakeResult reports a committed stake.
type StakeResult struct {
	Staker      *store.Staker
	TxSignature string
}

// UnstakeResult reports a committed unstake.
type UnstakeResult struct {
	Staker      *store.Staker
	Amount      decimal.Decimal
	TxSignature string
}

// WithdrawResult reports a committed reward payout.
type WithdrawResult struct {
	Amount      decimal.Decimal
	TxSignature string
}

func (s *Service) admit(ctx context.Context, op, identifier string) error {
	res := s.limiter.Check(ctx, op, identifier)
	if res.Allowed {
		return nil
	}
	s.recorder.RateLimited(ctx, op)
	return &RateLimitError{Operation: op, RetryAfter: res.RetryAfter}
}

// Stake records a verified inbound transfer as new principal. The external
// leg already happened client-side, so verification gates every ledger
// touch: an unverifiable transfer aborts with no partial state.
func (s *Service) Stake(ctx context.Context, walletAddr string, amt decimal.Decimal, txSig string) (*StakeResult, error) {
	started := s.now()

	if err := s.admit(ctx, ratelimit.OpStake, walletAddr); err != nil {
		return nil, err
	}

	if dup, existing := s.dedup.IsDuplicate(ctx, txSig); dup {
		return nil, fmt.Errorf("%w: recorded at %s", ErrDuplicateReference, existing.CreatedAt.Format(time.RFC3339))
	}

	verdict, err := s.chain.VerifyStakeTransfer(ctx, txSig, walletAddr, amt)
	if err != nil {
		if err == chain.ErrTransferNotFound {
			return nil, &VerificationError{Reason: "transfer not found on external ledger"}
		}
		return nil, fmt.Errorf("failed to verify stake transfer: %w", err)
	}
	if !verdict.Valid {
		return nil, &VerificationError{Reason: verdict.Reason}
	}

	token, ok, err := s.settleLocks.Acquire(ctx, walletAddr, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccountBusy
	}

	// Re-check under the lock: a concurrent settlement of the same signature
	// may have committed between the first check and the acquire. Catching it
	// here keeps the principal credit exactly-once instead of relying on the
	// transaction insert to fail after the credit is already written.
	if dup, existing := s.dedup.IsDuplicate(ctx, txSig); dup {
		if err := s.settleLocks.Release(ctx, walletAddr, token); err != nil {
			log.Printf("failed to release settle lock for %s: %v", walletAddr, err)
		}
		return nil, fmt.Errorf("%w: recorded at %s", ErrDuplicateReference, existing.CreatedAt.Format(time.RFC3339))
	}

	// The inbound transfer is already final, so from here every local
	// failure is a reconciliation case: the lock stays held and the saga is
	// never retried with a fresh external leg.
	st, err := s.ledger.Credit(ctx, walletAddr, amt)
	if err != nil {
		return nil, s.reconcile(ctx, "stake", walletAddr, amt, txSig, err)
	}

	if err := s.txlog.InsertTransaction(ctx, &store.Transaction{
		WalletAddress: walletAddr,
		Type:          store.TxTypeStake,
		Amount:        amt,
		Token:         s.cfg.TokenMint,
		TxSignature:   txSig,
		Status:        store.TxStatusCompleted,
	}); err != nil {
		return nil, s.reconcile(ctx, "stake", walletAddr, amt, txSig, err)
	}

	if err := s.aggregates.RecomputeTotals(ctx); err != nil {
		log.Printf("platform totals refresh failed after stake for %s: %v", walletAddr, err)
	}

	if err := s.settleLocks.Release(ctx, walletAddr, token); err != nil {
		log.Printf("failed to release settle lock for %s: %v", walletAddr, err)
	}

	s.publish(ctx, messaging.EventTypeStakeRecorded, messaging.StakeEvent{
		EventID:      uuid.New(),
		Wallet:       walletAddr,
		Amount:       amt.String(),
		NewPrincipal: st.StakedAmount.String(),
		TxSignature:  txSig,
		Timestamp:    s.now().UTC(),
	})
	s.recorder.Settlement(ctx, "stake", walletAddr, amt.String(), s.now().Sub(started), true)

	return &StakeResult{Staker: st, TxSignature: txSig}, nil
}

// Unstake returns principal to the wallet. The external transfer goes first
// and the ledger debit only happens after confirmation; if the transfer
// succeeded and a later local step fails, the account lock is deliberately
// kept so no second payout can start before an operator intervenes.
func (s *Service) Unstake(ctx context.Context, intent wallet.Intent, amt decimal.Decimal) (*UnstakeResult, error) {
	started := s.now()
	walletAddr := intent.Wallet

	if err := s.admit(ctx, ratelimit.OpUnstake, walletAddr); err != nil {
		return nil, err
	}

	if err := wallet.Verify(intent, s.now(), s.cfg.SignatureExpiry); err != nil {
		return nil, err
	}

	token, ok, err := s.settleLocks.Acquire(ctx, walletAddr, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccountBusy
	}
	release := func() {
		if err := s.settleLocks.Release(ctx, walletAddr, token); err != nil {
			log.Printf("failed to release settle lock for %s: %v", walletAddr, err)
		}
	}

	st, err := s.accounts.GetStaker(ctx, walletAddr)
	if err != nil {
		release()
		return nil, err
	}
	if amt.GreaterThan(st.StakedAmount) {
		release()
		return nil, fmt.Errorf("%w: have %s, requested %s", ledger.ErrInsufficientStake, st.StakedAmount, amt)
	}

	// An external transfer is irrevocable: once submitted the saga runs to
	// completion server-side even if the client disconnects.
	dctx := context.WithoutCancel(ctx)

	txSig, err := s.chain.SubmitTransfer(dctx, chain.TransferRequest{
		Recipient:              walletAddr,
		Amount:                 amt,
		Asset:                  chain.AssetToken,
		CreateRecipientAccount: true,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to submit unstake transfer: %w", err)
	}

	if err := s.chain.AwaitConfirmation(dctx, txSig, s.cfg.ConfirmAttempts, s.cfg.ConfirmInterval); err != nil {
		if err == chain.ErrTransferFailed {
			// The transfer failed on the external ledger; no funds moved.
			release()
			return nil, fmt.Errorf("unstake transfer failed: %w", err)
		}
		// Timed out with the transfer in flight: it may still land. Lock
		// stays held.
		return nil, s.reconcile(dctx, "unstake", walletAddr, amt, txSig, err)
	}

	st, err = s.ledger.Debit(dctx, walletAddr, amt, s.cfg.LoyaltyResetOnUnstake)
	if err != nil {
		return nil, s.reconcile(dctx, "unstake", walletAddr, amt, txSig, err)
	}

	if err := s.txlog.InsertTransaction(dctx, &store.Transaction{
		WalletAddress: walletAddr,
		Type:          store.TxTypeUnstake,
		Amount:        amt,
		Token:         s.cfg.TokenMint,
		TxSignature:   txSig,
		Status:        store.TxStatusCompleted,
	}); err != nil {
		return nil, s.reconcile(dctx, "unstake", walletAddr, amt, txSig, err)
	}

	if err := s.aggregates.RecomputeTotals(dctx); err != nil {
		log.Printf("platform totals refresh failed after unstake for %s: %v", walletAddr, err)
	}

	release()

	s.publish(dctx, messaging.EventTypeUnstakeSettled, messaging.StakeEvent{
		EventID:      uuid.New(),
		Wallet:       walletAddr,
		Amount:       amt.String(),
		NewPrincipal: st.StakedAmount.String(),
		TxSignature:  txSig,
		Timestamp:    s.now().UTC(),
	})
	s.recorder.Settlement(ctx, "unstake", walletAddr, amt.String(), s.now().Sub(started), true)

	return &UnstakeResult{Staker: st, Amount: amt, TxSignature: txSig}, nil
}

// Withdraw pays out pending rewards. Accrual is caught up to now first, the
// ledger is zeroed before the transfer is submitted, and the withdraw lock
// is always released: the zero-first ordering caps the damage of a failed
// payout at a support ticket instead of an uncapped double payout.
func (s *Service) Withdraw(ctx context.Context, intent wallet.Intent) (*WithdrawResult, error) {
	started := s.now()
	walletAddr := intent.Wallet

	if err := s.admit(ctx, ratelimit.OpWithdraw, walletAddr); err != nil {
		return nil, err
	}

	if err := wallet.Verify(intent, s.now(), s.cfg.SignatureExpiry); err != nil {
		return nil, err
	}

	token, ok, err := s.withdrawLocks.Acquire(ctx, walletAddr, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccountBusy
	}
	defer func() {
		if err := s.withdrawLocks.Release(ctx, walletAddr, token); err != nil {
			log.Printf("failed to release withdraw lock for %s: %v", walletAddr, err)
		}
	}()

	st, err := s.accounts.GetStaker(ctx, walletAddr)
	if err != nil {
		return nil, err
	}

	vaultBalance, err := s.chain.VaultBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault balance: %w", err)
	}

	accrued, err := s.catchUpAccrual(ctx, st, vaultBalance)
	if err != nil {
		return nil, err
	}

	payable := st.PendingRewards.Add(accrued)
	if !payable.IsPositive() {
		return nil, ErrNothingToWithdraw
	}
	if payable.Add(s.cfg.WithdrawFeeBuffer).GreaterThan(vaultBalance) {
		return nil, fmt.Errorf("%w: payout %s, vault %s", ErrInsufficientVault, payable, vaultBalance)
	}

	if accrued.IsPositive() {
		if _, err := s.ledger.AccrueRewards(ctx, walletAddr, accrued); err != nil {
			return nil, err
		}
	}

	// Zero first, pay second.
	settled, err := s.ledger.SettleRewards(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	if !settled.IsPositive() {
		return nil, ErrNothingToWithdraw
	}

	dctx := context.WithoutCancel(ctx)

	// Rewards are paid in the settlement currency, the same asset the vault
	// balance check above was made in.
	txSig, err := s.chain.SubmitTransfer(dctx, chain.TransferRequest{
		Recipient: walletAddr,
		Amount:    settled,
		Asset:     chain.AssetSettlement,
	})
	if err != nil {
		// Nothing left the vault; put the rewards back.
		if restoreErr := s.ledger.RestoreRewards(dctx, walletAddr, settled); restoreErr != nil {
			return nil, s.reconcile(dctx, "withdraw", walletAddr, settled, "", restoreErr)
		}
		return nil, fmt.Errorf("failed to submit reward payout: %w", err)
	}

	if err := s.chain.AwaitConfirmation(dctx, txSig, s.cfg.ConfirmAttempts, s.cfg.ConfirmInterval); err != nil {
		if err == chain.ErrTransferFailed {
			if restoreErr := s.ledger.RestoreRewards(dctx, walletAddr, settled); restoreErr != nil {
				return nil, s.reconcile(dctx, "withdraw", walletAddr, settled, txSig, restoreErr)
			}
			return nil, fmt.Errorf("reward payout failed: %w", err)
		}
		return nil, s.reconcile(dctx, "withdraw", walletAddr, settled, txSig, err)
	}

	if err := s.txlog.InsertTransaction(dctx, &store.Transaction{
		WalletAddress: walletAddr,
		Type:          store.TxTypeReward,
		Amount:        settled,
		Token:         chain.AssetSettlement,
		TxSignature:   txSig,
		Status:        store.TxStatusCompleted,
	}); err != nil {
		return nil, s.reconcile(dctx, "withdraw", walletAddr, settled, txSig, err)
	}

	if err := s.txlog.InsertReward(dctx, &store.RewardRecord{
		WalletAddress:    walletAddr,
		Amount:           settled,
		DistributionDate: s.now().UTC().Format("2006-01-02"),
		TxSignature:      txSig,
	}); err != nil {
		log.Printf("reward history write failed for %s: %v", walletAddr, err)
	}

	s.publish(dctx, messaging.EventTypeRewardsWithdrawn, messaging.WithdrawalEvent{
		EventID:     uuid.New(),
		Wallet:      walletAddr,
		Amount:      settled.String(),
		TxSignature: txSig,
		Timestamp:   s.now().UTC(),
	})
	s.recorder.Settlement(ctx, "withdraw", walletAddr, settled.String(), s.now().Sub(started), true)

	return &WithdrawResult{Amount: settled, TxSignature: txSig}, nil
}

// catchUpAccrual computes rewards earned since the last accrual at the
// wallet's live per-second rate, so a withdrawal does not forfeit the tail
// since the last engine run.
func (s *Service) catchUpAccrual(ctx context.Context, st *store.Staker, vaultBalance decimal.Decimal) (decimal.Decimal, error) {
	if !st.LastAccrualAt.Valid || !st.StakedAmount.IsPositive() {
		return decimal.Zero, nil
	}

	elapsed := s.now().UTC().Sub(st.LastAccrualAt.Time)
	if elapsed <= 0 {
		return decimal.Zero, nil
	}

	totalStaked, _, err := s.accounts.AggregateStakers(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute accrual rate: %w", err)
	}

	weeklyPool := vaultBalance.Mul(s.cfg.RewardPoolFraction)
	daily := platform.EstimatedDailyReward(st.StakedAmount, totalStaked, weeklyPool)
	if !daily.IsPositive() {
		return decimal.Zero, nil
	}

	seconds := decimal.NewFromFloat(elapsed.Seconds())
	return daily.Mul(seconds).Div(decimal.NewFromInt(secondsPerDay)).
		RoundDown(amount.TokenDecimals), nil
}

// reconcile logs, publishes, and wraps a succeeded-externally
// failed-internally condition.
func (s *Service) reconcile(ctx context.Context, op, walletAddr string, amt decimal.Decimal, txSig string, cause error) error {
	rec := &ReconciliationError{
		Operation:   op,
		Wallet:      walletAddr,
		Amount:      amt,
		TxSignature: txSig,
		Err:         cause,
	}
	log.Printf("%v", rec)

	s.publish(ctx, messaging.EventTypeReconciliationRequired, messaging.ReconciliationEvent{
		EventID:     uuid.New(),
		Wallet:      walletAddr,
		Operation:   op,
		Amount:      amt.String(),
		TxSignature: txSig,
		Detail:      cause.Error(),
		Timestamp:   s.now().UTC(),
	})
	s.recorder.Settlement(ctx, op, walletAddr, amt.String(), 0, false)

	return rec
}

func (s *Service) publish(ctx context.Context, subject string, event interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		log.Printf("failed to publish %s: %v", subject, err)
	}
}
