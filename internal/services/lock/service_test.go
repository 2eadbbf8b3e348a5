package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/services/lock"
	"github.com/TheMichaelB/vaultkeys/internal/state"
	"github.com/TheMichaelB/vaultkeys/test/testutil"
)

type countingCache struct {
	cleared atomic.Int32
}

func (c *countingCache) ClearCache() { c.cleared.Add(1) }

func TestLock(t *testing.T) {
	ctx := context.Background()
	fx := testutil.NewUnlockedCrypto(t)
	require.NoError(t, fx.Service.SetKeyHash(ctx, "hash"))

	index := testutil.NewMockSearchIndex()
	index.On("ClearIndex").Once()
	cache := &countingCache{}

	svc := lock.NewService(fx.Service, index, fx.Storage, 0, testutil.NewTestLogger(), cache)
	_, err := fx.Service.GetEncKey(ctx)
	require.NoError(t, err)
	assert.False(t, svc.IsLocked(ctx))

	require.NoError(t, svc.Lock(ctx))

	assert.True(t, svc.IsLocked(ctx))
	_, err = fx.Service.GetEncKey(ctx)
	assert.ErrorIs(t, err, crypto.ErrKeyUnavailable)
	assert.Equal(t, int32(1), cache.cleared.Load())
	index.AssertExpectations(t)

	hash, err := fx.Service.GetKeyHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hash", hash, "key hash survives a lock")

	fx.Unlock(t)
	assert.False(t, svc.IsLocked(ctx))
}

func TestLockWhenLocked(t *testing.T) {
	ctx := context.Background()
	fx := testutil.NewCrypto(t)
	svc := lock.NewService(fx.Service, nil, fx.Storage, 0, testutil.NewTestLogger())

	assert.True(t, svc.IsLocked(ctx))
	assert.NoError(t, svc.Lock(ctx))
	assert.True(t, svc.IsLocked(ctx))
}

func TestTimeout(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	fx := testutil.NewCrypto(t)

	svc := lock.NewService(fx.Service, nil, store, 0, testutil.NewTestLogger())
	assert.Zero(t, svc.Timeout(ctx))

	require.NoError(t, store.Save(ctx, state.KeyLockOption, state.DefaultLockOption))
	assert.Equal(t, 15*time.Minute, svc.Timeout(ctx))

	require.NoError(t, svc.SetLockOption(ctx, 0))
	assert.Zero(t, svc.Timeout(ctx))

	override := lock.NewService(fx.Service, nil, store, time.Hour, testutil.NewTestLogger())
	assert.Equal(t, time.Hour, override.Timeout(ctx))
}

func TestAutoLock(t *testing.T) {
	ctx := context.Background()
	fx := testutil.NewUnlockedCrypto(t)

	svc := lock.NewService(fx.Service, nil, fx.Storage, 30*time.Millisecond, testutil.NewTestLogger())
	t.Cleanup(svc.Close)

	var mu sync.Mutex
	var fired int
	svc.SetLockedCallback(func(context.Context) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	svc.Touch(ctx)
	testutil.WaitForCondition(t, func() bool { return svc.IsLocked(ctx) }, time.Second, "vault to auto-lock")
	testutil.WaitForCondition(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, "locked callback")
}

func TestTouchKeepsVaultOpen(t *testing.T) {
	ctx := context.Background()
	fx := testutil.NewUnlockedCrypto(t)

	svc := lock.NewService(fx.Service, nil, fx.Storage, 80*time.Millisecond, testutil.NewTestLogger())
	t.Cleanup(svc.Close)

	for i := 0; i < 4; i++ {
		svc.Touch(ctx)
		time.Sleep(30 * time.Millisecond)
	}
	assert.False(t, svc.IsLocked(ctx))

	svc.Close()
	time.Sleep(100 * time.Millisecond)
	assert.False(t, svc.IsLocked(ctx), "closed service does not lock")
}

func TestTouchWhileLocked(t *testing.T) {
	ctx := context.Background()
	fx := testutil.NewCrypto(t)

	svc := lock.NewService(fx.Service, nil, fx.Storage, 10*time.Millisecond, testutil.NewTestLogger())
	fired := make(chan struct{}, 1)
	svc.SetLockedCallback(func(context.Context) { fired <- struct{}{} })

	svc.Touch(ctx)
	select {
	case <-fired:
		t.Fatal("locked vault armed the auto-lock timer")
	case <-time.After(50 * time.Millisecond):
	}
}
