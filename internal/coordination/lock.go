// Package coordination provides the locks that stop two runners from
// processing the same job or site at once. A Redis-backed implementation is
// used when replicas share work; the local one covers single-process setups.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed holder can block others.
const DefaultLockTTL = 2 * time.Hour

// ErrLockNotHeld is returned when releasing a lock this holder no longer owns.
var ErrLockNotHeld = errors.New("lock not held")

// Locker hands out named, non-blocking locks.
type Locker interface {
	// TryAcquire returns a release func when the lock was taken, or ok=false
	// if someone else holds it.
	TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

// ========================================
// Redis Locker
// ========================================

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker implements Locker with SET NX and a token-checked release.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, prefix: "autoindex:lock:", ttl: ttl}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string) (func(), bool, error) {
	key := l.prefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release must succeed even when the caller's context is done.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// Release is exposed for tests and operators; it deletes the lock only if
// token still owns it.
func (l *RedisLocker) Release(ctx context.Context, name, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.prefix + name}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// ========================================
// Local Locker
// ========================================

// LocalLocker implements Locker within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryAcquire(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[name]; busy {
		return nil, false, nil
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}
