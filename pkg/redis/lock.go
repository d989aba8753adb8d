package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a lock is held by someone else
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that expired or changed owner
	ErrLockNotHeld = errors.New("lock not held")
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var refreshScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// DefaultLockPrefix namespaces lock keys when NewLocker is given no prefix
const DefaultLockPrefix = "yarrow:lock:"

// Lock represents a held distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
}

// Locker provides distributed locking over SET NX
type Locker struct {
	client    *Client
	keyPrefix string
}

// NewLocker creates a new Locker. A prefix without a trailing colon gets one.
func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = DefaultLockPrefix
	}
	if !strings.HasSuffix(keyPrefix, ":") {
		keyPrefix += ":"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Key returns the redis key guarding key
func (l *Locker) Key(key string) string {
	return l.keyPrefix + key
}

// Acquire attempts to take the lock once
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.Key(key)
	lockValue := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)

	return &Lock{
		client: l.client,
		key:    lockKey,
		value:  lockValue,
	}, nil
}

// Release releases the lock if it is still ours
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// Refresh resets the lock's ttl if it is still ours
func (lock *Lock) Refresh(ctx context.Context, ttl time.Duration) error {
	result, err := refreshScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock executes fn while holding the lock. It returns ErrLockNotAcquired without calling fn when
// another holder has the key. The ttl is refreshed every ttl/3 until fn returns, so it only bounds how
// long a crashed holder keeps the key.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	defer func() {
		// The caller's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, ErrLockNotHeld) {
			l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock: %s", key)
		}
	}()

	stop := keepAlive(ctx, ttl/3, func(ctx context.Context) error {
		return lock.Refresh(ctx, ttl)
	}, func(err error) {
		l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to refresh lock: %s", key)
	})
	defer stop()

	return fn(ctx)
}

// keepAlive calls refresh every interval until the returned stop func is called. Once refresh reports
// ErrLockNotHeld it gives up.
func keepAlive(ctx context.Context, interval time.Duration, refresh func(ctx context.Context) error, onErr func(error)) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := refresh(ctx)
				if err == nil || ctx.Err() != nil {
					continue
				}
				onErr(err)
				if errors.Is(err, ErrLockNotHeld) {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
