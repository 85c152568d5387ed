package rewards

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/stakevault/internal/store"
	"github.com/terminal-bench/stakevault/pkg/amount"
	"github.com/terminal-bench/stakevault/pkg/messaging"
	"github.com/terminal-bench/stakevault/pkg/metrics"
)

var (
	ErrNoActiveStakers     = errors.New("no active stakers to distribute to")
	ErrNothingToDistribute = errors.New("reward pool is empty")
)

// creditConcurrency bounds the accrual fan-out so a large staker set does
// not exhaust the database pool.
const creditConcurrency = 8

// StakerSource lists the accounts eligible for a distribution.
type StakerSource interface {
	ListActiveStakers(ctx context.Context) ([]store.Staker, error)
}

// Crediter applies a computed reward to one account.
type Crediter interface {
	AccrueRewards(ctx context.Context, wallet string, amt decimal.Decimal) (*store.Staker, error)
}

// AuditLog records distribution history and the privileged action that
// triggered it.
type AuditLog interface {
	InsertReward(ctx context.Context, r *store.RewardRecord) error
	InsertAdminAction(ctx context.Context, adminWallet, actionType string, details interface{}) error
}

// BalanceSource reports the vault's current balance, which funds the pool.
type BalanceSource interface {
	VaultBalance(ctx context.Context) (decimal.Decimal, error)
}

// Publisher emits post-run events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Engine computes and applies loyalty-weighted pro-rata reward
// distributions.
type Engine struct {
	stakers      StakerSource
	crediter     Crediter
	audit        AuditLog
	balance      BalanceSource
	publisher    Publisher
	recorder     *metrics.Recorder
	poolFraction decimal.Decimal
	now          func() time.Time
}

// Config holds reward engine dependencies. Publisher and Recorder are
// optional.
type Config struct {
	Stakers      StakerSource
	Crediter     Crediter
	Audit        AuditLog
	Balance      BalanceSource
	Publisher    Publisher
	Recorder     *metrics.Recorder
	PoolFraction decimal.Decimal
}

// NewEngine creates a reward engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		stakers:      cfg.Stakers,
		crediter:     cfg.Crediter,
		audit:        cfg.Audit,
		balance:      cfg.Balance,
		publisher:    cfg.Publisher,
		recorder:     cfg.Recorder,
		poolFraction: cfg.PoolFraction,
		now:          time.Now,
	}
}

// Allocation is one staker's share of a distribution run.
type Allocation struct {
	Wallet     string
	Principal  decimal.Decimal
	Days       int
	Multiplier decimal.Decimal
	Reward     decimal.Decimal
}

// Summary reports the outcome of a distribution run.
type Summary struct {
	RunID            uuid.UUID
	VaultBalance     decimal.Decimal
	Pool             decimal.Decimal
	Stakers          int
	TotalDistributed decimal.Decimal
	Allocations      []Allocation
	FailedWallets    []string
}

// Plan computes the allocation for every active staker without applying it.
// Shares are weighted by principal times the loyalty multiplier and rewards
// are truncated to token precision, so a run never overdraws the pool.
func (e *Engine) Plan(ctx context.Context, pool decimal.Decimal) ([]Allocation, error) {
	if !pool.IsPositive() {
		return nil, ErrNothingToDistribute
	}

	stakers, err := e.stakers.ListActiveStakers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active stakers: %w", err)
	}
	if len(stakers) == 0 {
		return nil, ErrNoActiveStakers
	}

	now := e.now().UTC()
	allocations := make([]Allocation, 0, len(stakers))
	totalWeighted := decimal.Zero

	for _, st := range stakers {
		days := 0
		if st.FirstStakedAt.Valid {
			days = StakingDays(st.FirstStakedAt.Time, now)
		}
		mult := Multiplier(days)
		allocations = append(allocations, Allocation{
			Wallet:     st.WalletAddress,
			Principal:  st.StakedAmount,
			Days:       days,
			Multiplier: mult,
		})
		totalWeighted = totalWeighted.Add(st.StakedAmount.Mul(mult))
	}

	if !totalWeighted.IsPositive() {
		return nil, ErrNoActiveStakers
	}

	for i := range allocations {
		weighted := allocations[i].Principal.Mul(allocations[i].Multiplier)
		allocations[i].Reward = pool.Mul(weighted).Div(totalWeighted).
			RoundDown(amount.TokenDecimals)
	}
	return allocations, nil
}

// Run executes one full distribution: size the pool off the live vault
// balance, plan the allocations, and credit each staker. Per-wallet credit
// failures are collected, never fatal; the run reports them and moves on.
func (e *Engine) Run(ctx context.Context, initiator string) (*Summary, error) {
	started := e.now()

	vaultBalance, err := e.balance.VaultBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to size reward pool: %w", err)
	}
	pool := vaultBalance.Mul(e.poolFraction)

	allocations, err := e.Plan(ctx, pool)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:        uuid.New(),
		VaultBalance: vaultBalance,
		Pool:         pool,
		Stakers:      len(allocations),
		Allocations:  allocations,
	}
	runDate := e.now().UTC().Format("2006-01-02")
	runSignature := "distribution:" + summary.RunID.String()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(creditConcurrency)

	for i := range allocations {
		alloc := allocations[i]
		if alloc.Reward.IsZero() {
			continue
		}

		g.Go(func() error {
			if _, err := e.crediter.AccrueRewards(gctx, alloc.Wallet, alloc.Reward); err != nil {
				log.Printf("reward credit failed for %s: %v", alloc.Wallet, err)
				mu.Lock()
				summary.FailedWallets = append(summary.FailedWallets, alloc.Wallet)
				mu.Unlock()
				return nil
			}

			if err := e.audit.InsertReward(gctx, &store.RewardRecord{
				WalletAddress:    alloc.Wallet,
				Amount:           alloc.Reward,
				DistributionDate: runDate,
				TxSignature:      runSignature,
			}); err != nil {
				// The credit landed; history is best-effort.
				log.Printf("reward history write failed for %s: %v", alloc.Wallet, err)
			}

			mu.Lock()
			summary.TotalDistributed = summary.TotalDistributed.Add(alloc.Reward)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	if err := e.audit.InsertAdminAction(ctx, initiator, "reward_distribution", map[string]interface{}{
		"run_id":            summary.RunID.String(),
		"vault_balance":     vaultBalance.String(),
		"pool":              pool.String(),
		"stakers":           summary.Stakers,
		"total_distributed": summary.TotalDistributed.String(),
		"failed_wallets":    summary.FailedWallets,
	}); err != nil {
		log.Printf("failed to record distribution audit row: %v", err)
	}

	if e.publisher != nil {
		event := messaging.DistributionEvent{
			EventID:         summary.RunID,
			Stakers:         summary.Stakers,
			TotalRewards:    summary.TotalDistributed.String(),
			VaultBalance:    vaultBalance.String(),
			DistributionRun: runDate,
			Timestamp:       e.now().UTC(),
		}
		if err := e.publisher.Publish(ctx, messaging.EventTypeRewardsDistributed, event); err != nil {
			log.Printf("failed to publish distribution event: %v", err)
		}
	}

	e.recorder.Distribution(ctx, summary.Stakers, summary.TotalDistributed.String(), e.now().Sub(started))
	return summary, nil
}
