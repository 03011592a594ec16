// Package userlock serializes subscription mutations per user. Two
// concurrent deliveries for the same user (a renewal racing a redelivered
// duplicate) would otherwise both pass the find-active-subscription check
// before either writes, producing duplicate active rows.
package userlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix  = "userlock:"
	defaultLockTTL = 30 * time.Second
	acquirePoll    = 25 * time.Millisecond
)

// Locker provides mutual exclusion keyed by an arbitrary string.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// RedisLocker implements Locker on a shared Redis instance so exclusion
// holds across service replicas, not just goroutines.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker builds a locker on an existing Redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, ttl: defaultLockTTL}
}

// WithLock runs fn while holding the key's lock, polling until the lock is
// free or the context ends. The lock carries a TTL so a crashed holder
// cannot wedge the key forever.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(acquirePoll):
		}
	}

	defer func() {
		// Release only if we still own the lock; a TTL expiry may have
		// handed it to someone else.
		releaseScript.Run(context.Background(), l.client, []string{redisKey}, token)
	}()

	return fn()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// MemoryLocker is an in-process Locker for tests and single-node setups.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMemoryLocker builds an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: map[string]*sync.Mutex{}}
}

func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
