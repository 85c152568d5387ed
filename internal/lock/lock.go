package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing a lock the caller no longer owns
// (expired and re-acquired by someone else).
var ErrNotHeld = errors.New("lock not held by this owner")

// Client is the subset of redis commands the locker uses. *redis.Client
// satisfies it; tests substitute an in-memory implementation.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Compare-and-delete: only the owner that acquired the lock may release it.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Locker serializes settlement operations per account. Acquisition is a
// single atomic SET NX PX: absent-or-expired means available, evaluated by
// the store, never by a read-then-write in the application.
type Locker struct {
	rdb       Client
	namespace string
}

// New creates a locker. Namespace isolates lock families: stake/unstake
// settlement locks and withdrawal locks must not collide.
func New(rdb Client, namespace string) *Locker {
	return &Locker{rdb: rdb, namespace: namespace}
}

func (l *Locker) key(account string) string {
	return fmt.Sprintf("lock:%s:%s", l.namespace, account)
}

// Acquire attempts to take the per-account lock for ttl. On success it
// returns an owner token that must be presented to Release. The TTL is the
// self-healing bound: a crashed holder's lock evaporates on its own.
func (l *Locker) Acquire(ctx context.Context, account string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key(account), token, ttl).Result()
	if err != nil {
		// Lock acquisition fails closed: proceeding without mutual
		// exclusion risks double-spend.
		return "", false, fmt.Errorf("failed to acquire lock for %s: %w", account, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release releases the lock if token still owns it.
func (l *Locker) Release(ctx context.Context, account, token string) error {
	res, err := l.rdb.Eval(ctx, releaseScript, []string{l.key(account)}, token).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", account, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return ErrNotHeld
	}
	return nil
}
