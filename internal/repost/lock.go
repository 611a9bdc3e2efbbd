package repost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisLocker obtains job locks from redis.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker constructs a RedisLocker over rdb.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// Obtain takes key for ttl without retrying. Contention reports ErrLockNotObtained.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("repost: obtain lock %s: %w", key, err)
	}
	return redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

// Refresh extends the lock to ttl. A lock that expired or was taken over
// reports ErrLockNotObtained.
func (l redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	err := l.lock.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockNotObtained
	}
	return err
}

func (l redisLock) Release(ctx context.Context) error {
	return l.lock.Release(ctx)
}

// hold obtains key and extends it every third of the lock TTL until release
// is called. When an extension fails the returned context is cancelled with
// ErrLockLost.
func (s *Service) hold(ctx context.Context, key string) (context.Context, func(), error) {
	if s.locker == nil {
		return ctx, func() {}, nil
	}
	lock, err := s.locker.Obtain(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return ctx, nil, lockError(err)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	ticker := time.NewTicker(s.cfg.LockTTL / 3)
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(ctx, s.cfg.LockTTL); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.WarnContext(ctx, "lock lost", slog.String("key", key), slog.Any("error", err))
					cancel(fmt.Errorf("%w: %s: %v", ErrLockLost, key, err))
					return
				}
			}
		}
	}()
	release := func() {
		close(stop)
		ticker.Stop()
		<-stopped
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "release lock", slog.String("key", key), slog.Any("error", err))
		}
		cancel(nil)
	}
	return ctx, release, nil
}
