package repost_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/repost"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newRedisLocker(t *testing.T) (*repost.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repost.NewRedisLocker(client), mr
}

func TestRedisLockerExcludesConcurrentHolders(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()
	key := shared.RepostJobLockKey("job-1")

	lock, err := locker.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))

	_, err = locker.Obtain(ctx, key, time.Minute)
	require.ErrorIs(t, err, repost.ErrLockNotObtained)
	require.True(t, repost.IsRecoverable(err))

	require.NoError(t, lock.Release(ctx))
	require.False(t, mr.Exists(key))

	again, err := locker.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLockerExpires(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()
	key := shared.RepostSweepLockKey()

	stale, err := locker.Obtain(ctx, key, time.Second)
	require.NoError(t, err)
	require.NoError(t, stale.Refresh(ctx, 3*time.Second))
	mr.FastForward(2 * time.Second)
	require.True(t, mr.Exists(key), "refreshed lock outlives its first ttl")
	mr.FastForward(2 * time.Second)

	lock, err := locker.Obtain(ctx, key, time.Second)
	require.NoError(t, err)
	require.ErrorIs(t, stale.Refresh(ctx, time.Second), repost.ErrLockNotObtained)
	require.NoError(t, lock.Release(ctx))
}

func TestRunSkipsJobLockedByAnotherWorker(t *testing.T) {
	locker, _ := newRedisLocker(t)
	f := newFixture(t, repost.Config{})
	f.svc.WithLocker(locker)
	job := f.backdate(t)
	ctx := context.Background()

	held, err := locker.Obtain(ctx, shared.RepostJobLockKey(job.ID), time.Minute)
	require.NoError(t, err)

	require.Equal(t, repost.RunSummary{Processed: 1, Retried: 1}, f.runDue(t))
	require.Equal(t, repost.StatusQueued, f.job(t, job.ID).Status)

	require.NoError(t, held.Release(ctx))
	require.Equal(t, repost.RunSummary{Processed: 1, Completed: 1}, f.runDue(t))
}

func TestRunDueRefusedWhileSweepRuns(t *testing.T) {
	locker, _ := newRedisLocker(t)
	f := newFixture(t, repost.Config{})
	f.svc.WithLocker(locker)
	f.backdate(t)

	held, err := locker.Obtain(context.Background(), shared.RepostSweepLockKey(), time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	_, err = f.svc.RunDue(context.Background())
	require.ErrorIs(t, err, repost.ErrLockNotObtained)
}

func TestJobLockIsExtendedWhileRunning(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ttl := 300 * time.Millisecond
	f := newFixture(t, repost.Config{LockTTL: ttl})
	f.svc.WithLocker(locker)
	job := f.backdate(t)
	key := shared.RepostJobLockKey(job.ID)

	entered := make(chan struct{})
	var once sync.Once
	f.gl.wait = func(ctx context.Context) error {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return context.Cause(ctx)
	}
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(context.Background(), job.ID) }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached the general ledger")
	}

	mr.FastForward(2 * ttl / 3)
	require.Eventually(t, func() bool { return mr.TTL(key) > ttl/2 }, 5*time.Second, 10*time.Millisecond,
		"the running job extends its lock")

	err := f.svc.Run(context.Background(), job.ID)
	require.ErrorIs(t, err, repost.ErrLockNotObtained, "a second worker is refused")
	require.Empty(t, f.gl.vouchers())

	mr.FastForward(time.Minute)
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run kept going without its lock")
	}
	require.ErrorIs(t, err, repost.ErrLockLost)
	require.True(t, repost.IsRecoverable(err))
	require.Equal(t, repost.StatusInProgress, f.job(t, job.ID).Status)
	require.Empty(t, f.gl.vouchers(), "no batch is sent after the lock is gone")

	f.gl.wait = nil
	require.NoError(t, f.svc.Run(context.Background(), job.ID))
	require.Equal(t, repost.StatusCompleted, f.job(t, job.ID).Status)
}
