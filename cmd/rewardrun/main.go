package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/terminal-bench/stakevault/internal/chain"
	"github.com/terminal-bench/stakevault/internal/config"
	"github.com/terminal-bench/stakevault/internal/ledger"
	"github.com/terminal-bench/stakevault/internal/platform"
	"github.com/terminal-bench/stakevault/internal/rewards"
	"github.com/terminal-bench/stakevault/internal/store"
	"github.com/terminal-bench/stakevault/pkg/messaging"
	"github.com/terminal-bench/stakevault/pkg/metrics"
)

// One-shot reward distribution job, intended to be scheduled externally
// once per reward period.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	st := store.New(db)

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NatsURL,
		Name:           "stakevault-rewardrun",
		ReconnectWait:  time.Second,
		MaxReconnects:  3,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Printf("NATS unavailable, events disabled: %v", err)
		natsClient = nil
	} else {
		defer natsClient.Close()
	}

	recorder := metrics.NewRecorder(metrics.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	})
	defer recorder.Close()

	chainClient := chain.NewRPCClient(chain.RPCConfig{
		RPCURL:       cfg.ChainRPCURL,
		CustodyURL:   cfg.CustodyURL,
		CustodyToken: cfg.CustodyToken,
		VaultAddress: cfg.VaultAddress,
		TokenMint:    cfg.TokenMint,
	})

	engine := rewards.NewEngine(rewards.Config{
		Stakers:      st,
		Crediter:     ledger.New(st),
		Audit:        st,
		Balance:      chainClient,
		Publisher:    publisher(natsClient),
		Recorder:     recorder,
		PoolFraction: cfg.RewardPoolFraction,
	})

	initiator := os.Getenv("REWARD_RUN_INITIATOR")
	if initiator == "" {
		initiator = "scheduler"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := engine.Run(ctx, initiator)
	if err != nil {
		log.Fatalf("Distribution failed: %v", err)
	}

	log.Printf("Distributed %s to %d stakers (run %s, pool %s)",
		summary.TotalDistributed, summary.Stakers, summary.RunID, summary.Pool)
	if len(summary.FailedWallets) > 0 {
		log.Printf("Failed wallets: %v", summary.FailedWallets)
		os.Exit(1)
	}

	// Refresh the derived vault stats so reads reflect the new pool.
	aggregator := platform.NewAggregator(st, chainClient, cfg.RewardPoolFraction)
	if err := aggregator.RefreshVaultBalance(ctx); err != nil {
		log.Printf("Vault balance refresh failed: %v", err)
	}
}

func publisher(c *messaging.Client) rewards.Publisher {
	if c == nil {
		return nil
	}
	return c
}
