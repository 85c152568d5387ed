package ratelimit

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Operation budgets. Each settlement operation has its own window so a
// burst of stakes cannot starve withdrawals, and vice versa.
const (
	OpStake    = "stake"
	OpUnstake  = "unstake"
	OpWithdraw = "withdraw"
	OpGeneral  = "general"
)

// Config is one sliding-window budget.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Configs mirrors the platform's admission budgets.
var Configs = map[string]Config{
	OpStake:    {MaxRequests: 2, Window: time.Minute},
	OpUnstake:  {MaxRequests: 2, Window: time.Minute},
	OpWithdraw: {MaxRequests: 1, Window: 5 * time.Minute},
	OpGeneral:  {MaxRequests: 30, Window: time.Minute},
}

// Result reports an admission decision.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Client is the subset of redis commands the limiter uses.
type Client interface {
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Limiter is a per-identifier sliding-window counter over redis sorted
// sets. It fails open on any store error: availability of the money-moving
// path is prioritized over strict admission control.
type Limiter struct {
	rdb Client
}

// New creates a limiter.
func New(rdb Client) *Limiter {
	return &Limiter{rdb: rdb}
}

func key(op, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", op, identifier)
}

// Check admits or rejects one request for the given operation and
// identifier. A rejection carries the time until the oldest admission
// leaves the window.
func (l *Limiter) Check(ctx context.Context, op, identifier string) Result {
	cfg, ok := Configs[op]
	if !ok {
		cfg = Configs[OpGeneral]
	}

	k := key(op, identifier)
	now := time.Now()
	windowStart := now.Add(-cfg.Window)

	if err := l.rdb.ZRemRangeByScore(ctx, k, "0", strconv.FormatInt(windowStart.UnixNano(), 10)).Err(); err != nil {
		log.Printf("rate limit prune failed for %s, failing open: %v", k, err)
		return Result{Allowed: true}
	}

	count, err := l.rdb.ZCard(ctx, k).Result()
	if err != nil {
		log.Printf("rate limit count failed for %s, failing open: %v", k, err)
		return Result{Allowed: true}
	}

	if count >= int64(cfg.MaxRequests) {
		retryAfter := cfg.Window
		oldest, err := l.rdb.ZRangeWithScores(ctx, k, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(cfg.Window).Sub(now)
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
		}
		return Result{Allowed: false, RetryAfter: retryAfter}
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	if err := l.rdb.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		log.Printf("rate limit record failed for %s, failing open: %v", k, err)
		return Result{Allowed: true}
	}
	if err := l.rdb.Expire(ctx, k, cfg.Window).Err(); err != nil {
		log.Printf("rate limit expire failed for %s: %v", k, err)
	}

	return Result{Allowed: true}
}
