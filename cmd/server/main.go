package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/stakevault/internal/auth"
	"github.com/terminal-bench/stakevault/internal/chain"
	"github.com/terminal-bench/stakevault/internal/config"
	"github.com/terminal-bench/stakevault/internal/dedup"
	"github.com/terminal-bench/stakevault/internal/ledger"
	"github.com/terminal-bench/stakevault/internal/lock"
	"github.com/terminal-bench/stakevault/internal/platform"
	"github.com/terminal-bench/stakevault/internal/ratelimit"
	"github.com/terminal-bench/stakevault/internal/rewards"
	"github.com/terminal-bench/stakevault/internal/server"
	"github.com/terminal-bench/stakevault/internal/settlement"
	"github.com/terminal-bench/stakevault/internal/store"
	"github.com/terminal-bench/stakevault/pkg/messaging"
	"github.com/terminal-bench/stakevault/pkg/metrics"
)

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
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	st := store.New(db)
	if err := st.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NatsURL,
		Name:           "stakevault-server",
		ReconnectWait:  time.Second,
		MaxReconnects:  10,
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

	ldg := ledger.New(st)
	limiter := ratelimit.New(rdb)
	aggregator := platform.NewAggregator(st, chainClient, cfg.RewardPoolFraction)

	settler := settlement.NewService(settlement.Deps{
		Ledger:        ldg,
		Accounts:      st,
		TxLog:         st,
		Dedup:         dedup.New(st),
		Limiter:       limiter,
		SettleLocks:   lock.New(rdb, "settle"),
		WithdrawLocks: lock.New(rdb, "withdraw"),
		Chain:         chainClient,
		Aggregates:    aggregator,
		Publisher:     publisher(natsClient),
		Recorder:      recorder,
	}, settlement.Config{
		TokenMint:             cfg.TokenMint,
		LockTTL:               cfg.LockTTL,
		SignatureExpiry:       cfg.SignatureExpiry,
		ConfirmAttempts:       cfg.ConfirmAttempts,
		ConfirmInterval:       cfg.ConfirmInterval,
		WithdrawFeeBuffer:     cfg.WithdrawFeeBuffer,
		RewardPoolFraction:    cfg.RewardPoolFraction,
		LoyaltyResetOnUnstake: cfg.LoyaltyResetOnUnstake,
	})

	engine := rewards.NewEngine(rewards.Config{
		Stakers:      st,
		Crediter:     ldg,
		Audit:        st,
		Balance:      chainClient,
		Publisher:    publisher(natsClient),
		Recorder:     recorder,
		PoolFraction: cfg.RewardPoolFraction,
	})

	srv := server.New(server.Deps{
		Settler:    settler,
		Rewards:    engine,
		Platform:   aggregator,
		Accounts:   st,
		Webhooks:   st,
		WebhookPub: publisher(natsClient),
		Limiter:    limiter,
		Auth:       auth.NewService(cfg.JWTSecret),
		Ping:       db.PingContext,
	}, server.Config{
		Debug:            cfg.Debug,
		WebhookSecret:    cfg.WebhookSecret,
		VaultAddress:     cfg.VaultAddress,
		MaxStakeAmount:   cfg.MaxStakeAmount,
		MaxUnstakeAmount: cfg.MaxUnstakeAmount,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Settlement server listening on :%s", cfg.Port)
	if err := srv.Run(ctx, ":"+cfg.Port); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

// publisher returns nil as an untyped interface when NATS is down, so the
// services' nil checks work.
func publisher(c *messaging.Client) settlement.Publisher {
	if c == nil {
		return nil
	}
	return c
}
