package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aretw0/patchbay/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

var (
	// ErrLockAcquire is returned when the lock cannot be acquired.
	ErrLockAcquire = errors.New("failed to acquire distributed lock")
)

const lockRetryInterval = 100 * time.Millisecond

// unlockScript deletes the key only if it still holds our token, so an
// expired lock taken over by another replica is left alone.
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client *backend.Client
	prefix string
}

var _ ports.DistributedLocker = (*Locker)(nil)

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
	}
}

// Lock acquires a distributed lock for the given key using Redis SET NX PX,
// polling until it is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLockAcquire, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockAcquire, key, ctx.Err())
		case <-ticker.C:
		}
	}
}
