package redis_test

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/patchbay/pkg/adapters/redis"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ports.RunDeclarationStoreContract(t, store)
}

func TestRedisStore_VersionAndPrefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("studio:"))
	ctx := context.Background()

	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	decl := domain.NewDeclaration()
	decl.AddNode(domain.NodeID{Type: "mpv", Instance: "a"}, domain.Config{"source": "a.mp3"})
	require.NoError(t, store.Save(ctx, decl))
	require.NoError(t, store.Save(ctx, decl))

	v, err = store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.True(t, mr.Exists("studio:topology"))
}

func TestRedisStore_Subscribe(t *testing.T) {
	_, client := newClient(t)
	local := redis.NewFromClient(client)
	remote := redis.NewFromClient(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- local.Subscribe(ctx, func(version string) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, version)
		})
	}()
	seen := func(version int64) bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(got, strconv.FormatInt(version, 10))
	}

	// Keep saving until the subscription is live and sees a version.
	require.Eventually(t, func() bool {
		_ = remote.Save(context.Background(), domain.NewDeclaration())
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 20*time.Millisecond)

	// A version saved locally is not reported back; the next remote one is.
	require.NoError(t, local.Save(context.Background(), domain.NewDeclaration()))
	own, err := local.Version(context.Background())
	require.NoError(t, err)
	require.NoError(t, remote.Save(context.Background(), domain.NewDeclaration()))

	require.Eventually(t, func() bool { return seen(own + 1) }, 2*time.Second, 20*time.Millisecond)
	assert.False(t, seen(own))

	cancel()
	assert.NoError(t, <-done)
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "topology", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:topology"), "Lock key should be set in Redis")

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:topology"), "Lock key should be removed after unlock")
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := newClient(t)
	locker1 := redis.NewLocker(client, "test:")
	locker2 := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock1, err := locker1.Lock(ctx, "topology", 5*time.Second)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err = locker2.Lock(short, "topology", 5*time.Second)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker2.Lock(ctx, "topology", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_ExpiredLockNotStolenBack(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "topology", time.Second)
	require.NoError(t, err)

	// The lock expires and another replica takes it.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("test:lock:topology", "someone-else"))

	require.NoError(t, unlock(ctx))
	got, err := mr.Get("test:lock:topology")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
