package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

const (
	minRetry = 10 * time.Millisecond
	maxRetry = 250 * time.Millisecond
)

// Deletes KEYS[1] only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker hands out expiring locks keyed under a common prefix.
type Locker struct {
	client *Client
	prefix string
}

func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "argus:lock:"
	}
	return &Locker{client: client, prefix: prefix}
}

// Lock is one held key. The token tells this holder apart from whoever
// takes the key after the TTL lapses.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{locker: l, key: l.prefix + key, token: uuid.NewString()}

	ok, err := l.client.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	l.client.logger.WithContext(ctx).WithField("key", lock.key).Debug("Lock acquired")
	return lock, nil
}

// TryAcquire keeps trying for up to wait. It returns ErrLockNotAcquired when
// the wait runs out and the caller's context error when that ends first.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lock, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	delay := minRetry
	for {
		lock, err := l.Acquire(ctx, key, ttl)
		if !errors.Is(err, ErrLockNotAcquired) {
			return lock, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrLockNotAcquired
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetry)
	}
}

func (lock *Lock) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, lock.locker.client.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	lock.locker.client.logger.WithContext(ctx).WithField("key", lock.key).Debug("Lock released")
	return nil
}
