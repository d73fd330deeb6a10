package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired means another caller currently owns the slot lock.
var ErrLockNotAcquired = errors.New("slot lock not acquired")

// Locker guards the per-slot critical section during reservation. The lock is
// advisory; the row-level compare-and-swap in the slot repository is the
// authoritative mutual exclusion. Holding the lock keeps contending callers
// from racing through the read-check-write sequence.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

// compare-and-delete so an expired lock is never released by a later holder
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSlotLocker returns a Locker backed by a per-slot SetNX key with a
// random token and ttl.
func NewRedisSlotLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisSlotLocker{client: client, ttl: ttl}
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	key := "lock:slot:" + slotID.String()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire slot lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}
	defer l.release(key, token)

	// The callback must finish inside the lock ttl or its writes could
	// overlap with the next holder's.
	fnCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(fnCtx)
}

func (l *redisSlotLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = unlockScript.Run(ctx, l.client, []string{key}, token).Result()
}

// NoopLocker satisfies Locker without any coordination. Used by tests and by
// deployments that rely solely on the database compare-and-swap.
type NoopLocker struct{}

func (NoopLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
