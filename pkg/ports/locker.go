package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes topology mutations across control-plane
// replicas sharing one audio server.
type DistributedLocker interface {
	// Lock blocks until the lock for key is held or ctx is done.
	// The returned UnlockFunc MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
