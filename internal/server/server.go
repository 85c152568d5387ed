package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/stakevault/internal/auth"
	"github.com/terminal-bench/stakevault/internal/ledger"
	"github.com/terminal-bench/stakevault/internal/ratelimit"
	"github.com/terminal-bench/stakevault/internal/rewards"
	"github.com/terminal-bench/stakevault/internal/settlement"
	"github.com/terminal-bench/stakevault/internal/store"
	"github.com/terminal-bench/stakevault/internal/wallet"
)

// Settler is the settlement surface the handlers drive.
type Settler interface {
	Stake(ctx context.Context, walletAddr string, amt decimal.Decimal, txSig string) (*settlement.StakeResult, error)
	Unstake(ctx context.Context, intent wallet.Intent, amt decimal.Decimal) (*settlement.UnstakeResult, error)
	Withdraw(ctx context.Context, intent wallet.Intent) (*settlement.WithdrawResult, error)
}

// RewardRunner triggers a reward distribution run.
type RewardRunner interface {
	Run(ctx context.Context, initiator string) (*rewards.Summary, error)
}

// PlatformView serves the aggregate read endpoints.
type PlatformView interface {
	Overview(ctx context.Context) (*store.PlatformStats, error)
}

// AccountReader serves the per-wallet read endpoint.
type AccountReader interface {
	GetStaker(ctx context.Context, walletAddr string) (*store.Staker, error)
	ListTransactions(ctx context.Context, walletAddr string, limit int) ([]store.Transaction, error)
	SumTransactions(ctx context.Context, walletAddr, txType string) (decimal.Decimal, error)
}

// Limiter admits read requests under the general budget.
type Limiter interface {
	Check(ctx context.Context, op, identifier string) ratelimit.Result
}

// Config holds server policy.
type Config struct {
	Debug            bool
	WebhookSecret    string
	VaultAddress     string
	MaxStakeAmount   decimal.Decimal
	MaxUnstakeAmount decimal.Decimal
}

// Server is the HTTP surface of the settlement core.
type Server struct {
	router     *gin.Engine
	settler    Settler
	rewards    RewardRunner
	platform   PlatformView
	accounts   AccountReader
	webhooks   WebhookStore
	webhookPub WebhookPublisher
	limiter    Limiter
	auth       *auth.Service
	ping       func(ctx context.Context) error
	cfg        Config
}

func (s *Server) vaultAddress() string {
	return s.cfg.VaultAddress
}

// Deps bundles the server's collaborators.
type Deps struct {
	Settler  Settler
	Rewards  RewardRunner
	Platform PlatformView
	Accounts AccountReader
	Webhooks WebhookStore

	// WebhookPub emits vault deposit events. Optional.
	WebhookPub WebhookPublisher
	Limiter    Limiter
	Auth       *auth.Service
	// Ping reports store liveness for the health endpoint. Optional.
	Ping func(ctx context.Context) error
}

// New creates the HTTP server.
func New(deps Deps, cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:     gin.Default(),
		settler:    deps.Settler,
		rewards:    deps.Rewards,
		platform:   deps.Platform,
		accounts:   deps.Accounts,
		webhooks:   deps.Webhooks,
		webhookPub: deps.WebhookPub,
		limiter:    deps.Limiter,
		auth:       deps.Auth,
		ping:       deps.Ping,
		cfg:        cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/stake", s.stake)
		v1.POST("/unstake", s.unstake)
		v1.POST("/withdraw", s.withdraw)
		v1.POST("/rewards/run", s.requireRewardRun(), s.runRewards)

		v1.GET("/stakers/:address", s.generalLimit(), s.getStaker)
		v1.GET("/platform", s.generalLimit(), s.getPlatform)

		v1.POST("/webhook", s.requireWebhookSecret(), s.webhook)
	}
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	if s.ping != nil {
		if err := s.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// generalLimit applies the general read budget keyed by client IP.
func (s *Server) generalLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := s.limiter.Check(c.Request.Context(), ratelimit.OpGeneral, c.ClientIP())
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// requireRewardRun gates the distribution trigger behind an admin or
// scheduler token.
func (s *Server) requireRewardRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		claims, err := s.auth.VerifyToken(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if err := claims.RequireRewardRun(); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "insufficient privileges"})
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

// requireWebhookSecret authenticates the external-ledger notifier.
func (s *Server) requireWebhookSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Webhook-Secret")
		if s.cfg.WebhookSecret == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

// fail maps a settlement error onto the HTTP failure classes: 400
// validation, 401 signature, 409 conflict, 429 rate limited, 500
// infrastructure.
func fail(c *gin.Context, err error) {
	var rl *settlement.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}

	var verr *settlement.VerificationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, wallet.ErrStaleIntent),
		errors.Is(err, wallet.ErrFutureIntent),
		errors.Is(err, wallet.ErrBadSignature),
		errors.Is(err, wallet.ErrBadMessage):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})

	case errors.Is(err, settlement.ErrDuplicateReference),
		errors.Is(err, settlement.ErrAccountBusy),
		errors.Is(err, ledger.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, ledger.ErrInsufficientStake),
		errors.Is(err, ledger.ErrNonPositiveAmount),
		errors.Is(err, settlement.ErrNothingToWithdraw),
		errors.Is(err, settlement.ErrInsufficientVault):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, store.ErrStakerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
