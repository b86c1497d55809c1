package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisLease holds a redislock lock for as long as the owner keeps calling Hold
// within ttl.
type RedisLease struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration

	mu   sync.Mutex
	lock *redislock.Lock
}

func NewRedisLease(rdb *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{locker: redislock.New(rdb), key: key, ttl: ttl}
}

// Hold refreshes the lock when held, otherwise tries to obtain it.
func (l *RedisLease) Hold(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock != nil {
		err := l.lock.Refresh(ctx, l.ttl, nil)
		if err == nil {
			return true, nil
		}
		// lost it, maybe to another replica after a pause
		l.lock = nil
		if !errors.Is(err, redislock.ErrNotObtained) {
			return false, err
		}
	}

	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.lock = lock
	return true, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lock == nil {
		return nil
	}
	err := l.lock.Release(ctx)
	l.lock = nil
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
