/*
lock.go - Per-resource lock coordination

PURPOSE:
  Serializes concurrent commit attempts that target the same owning
  resource, while letting attempts on different resources run in parallel.
  A room owns its bookings; a user owns their leave requests and balances.

  The lock is held across the conflict check AND the mutation, so no other
  attempt can slip an overlapping commitment in between.

BOUNDED WAIT:
  Acquire honours the context deadline. When the deadline passes before the
  lock frees up, Acquire returns an error matching ErrLockTimeout and the
  attempt is Aborted (retryable).

IMPLEMENTATIONS:
  KeyedLocker:                 In-process, one slot per key
  lock/distlock.Locker:        Redis-backed, for multi-instance deployments

SEE ALSO:
  - manager.go: Acquires around every write transaction
*/
package generic

import (
	"context"
	"fmt"
	"sync"
)

// ResourceKey identifies the owning resource of a commitment.
type ResourceKey string

// RoomKey is the lock key for bookings and blackouts on a room.
func RoomKey(id RoomID) ResourceKey { return ResourceKey("room:" + string(id)) }

// LeaveKey is the lock key for a user's leave requests and balances.
// Keyed by user rather than (user, policy) because the overlap rule spans
// every policy the user holds.
func LeaveKey(id UserID) ResourceKey { return ResourceKey("leave:" + string(id)) }

// LockCoordinator hands out exclusive per-key locks.
type LockCoordinator interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	Acquire(ctx context.Context, key ResourceKey) (LockHandle, error)
}

// LockHandle is a held lock. Release is safe to call more than once.
type LockHandle interface {
	Key() ResourceKey
	Release(ctx context.Context) error
}

// LockTimeoutError builds the error returned when the bounded wait expires.
func LockTimeoutError(key ResourceKey, cause error) error {
	return fmt.Errorf("%w on %s: %w", ErrLockTimeout, key, cause)
}

// =============================================================================
// KEYED LOCKER - In-process implementation
// =============================================================================

// KeyedLocker is an in-process LockCoordinator. Each key gets a one-slot
// channel; slots are reference counted and dropped once nobody holds or waits
// for them, so the map only grows with contended keys.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[ResourceKey]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[ResourceKey]*slot)}
}

func (l *KeyedLocker) Acquire(ctx context.Context, key ResourceKey) (LockHandle, error) {
	s := l.ref(key)

	select {
	case s.ch <- struct{}{}:
		return &keyedHandle{locker: l, key: key, slot: s}, nil
	case <-ctx.Done():
		l.unref(key, s)
		return nil, LockTimeoutError(key, ctx.Err())
	}
}

// Len returns the number of keys currently held or waited on.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *KeyedLocker) ref(key ResourceKey) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyedLocker) unref(key ResourceKey, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type keyedHandle struct {
	locker *KeyedLocker
	key    ResourceKey
	slot   *slot
	once   sync.Once
}

func (h *keyedHandle) Key() ResourceKey { return h.key }

func (h *keyedHandle) Release(context.Context) error {
	h.once.Do(func() {
		<-h.slot.ch
		h.locker.unref(h.key, h.slot)
	})
	return nil
}
