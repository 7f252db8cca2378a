/*
Package distlock provides a Redis-backed generic.LockCoordinator.

PURPOSE:
  The in-process KeyedLocker only serializes attempts inside one server.
  When several server processes share a database, per-resource exclusion has
  to live outside them. This package leases a Redis key per resource using
  bsm/redislock.

LEASES:
  A lock is a lease with a TTL. If a process dies while holding it, the key
  expires and the resource frees up. The TTL must comfortably exceed the
  longest transaction; the storage layer's unique index and BEGIN IMMEDIATE
  remain the last line of defence if a lease expires mid-commit.

BOUNDED WAIT:
  Obtain retries with a linear backoff until the context deadline. When the
  deadline passes, Acquire returns an error matching generic.ErrLockTimeout.
*/
package distlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/warp/reservation-core/generic"
)

const (
	DefaultTTL   = 30 * time.Second
	DefaultRetry = 25 * time.Millisecond
	keyPrefix    = "reservation:lock:"
)

// Locker implements generic.LockCoordinator on Redis.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
}

var _ generic.LockCoordinator = (*Locker)(nil)

// New wraps rdb. Zero ttl or retry fall back to the defaults.
func New(rdb redis.UniversalClient, ttl, retry time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if retry <= 0 {
		retry = DefaultRetry
	}
	return &Locker{client: redislock.New(rdb), ttl: ttl, retry: retry}
}

// Dial connects to addr and verifies the connection with a PING.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (l *Locker) Acquire(ctx context.Context, key generic.ResourceKey) (generic.LockHandle, error) {
	lock, err := l.client.Obtain(ctx, keyPrefix+string(key), l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || ctx.Err() != nil {
			cause := ctx.Err()
			if cause == nil {
				cause = err
			}
			return nil, generic.LockTimeoutError(key, cause)
		}
		return nil, err
	}
	return &handle{key: key, lock: lock}, nil
}

type handle struct {
	key  generic.ResourceKey
	lock *redislock.Lock
	once sync.Once
	err  error
}

func (h *handle) Key() generic.ResourceKey { return h.key }

// Release gives the lease back. A lease that already expired is not an
// error: the resource is free either way.
func (h *handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		if err := h.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			h.err = err
		}
	})
	return h.err
}
