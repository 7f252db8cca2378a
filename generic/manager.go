/*
manager.go - Transaction manager for commit attempts

PURPOSE:
  Every mutation of a commitment (create, cancel, approve, reject) goes
  through Run. Run owns the structural pattern shared by bookings and leave:

    Received -> IdempotencyChecked -> ResourceLocked -> ConflictChecked
             -> Committed | Rejected(kind) | Aborted

  Callers describe WHAT to check and write with an Attempt; the Manager
  decides WHEN, under which lock and inside which transaction.

GUARANTEES:
  1. Validation runs before any lock is taken
  2. A replayed idempotency key returns the original commitment, no writes
  3. The conflict check and the mutation share one lock and one transaction
  4. A mutation commits with exactly one audit entry, or not at all
  5. The lock is always released: commit, rejection, error or panic
  6. Anything outside the business taxonomy ends Aborted and may be retried

DUPLICATE KEYS:
  Two racing attempts with the same idempotency key on the same resource are
  serialized by the lock, so the second one sees the first in its in-tx
  replay check. The unique index in the store is the backstop: if it fires,
  Run re-reads the winner and returns it as a replay.

SEE ALSO:
  - lock.go: LockCoordinator
  - ledger.go: Transaction boundaries
  - booking/, leave/: The two commitment kinds built on Run
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultLockTimeout bounds the wait for a resource lock.
const DefaultLockTimeout = 5 * time.Second

var errPanic = errors.New("panic")

// =============================================================================
// STATES
// =============================================================================

type State int

const (
	StateReceived State = iota
	StateIdempotencyChecked
	StateResourceLocked
	StateConflictChecked
	StateCommitted
	StateRejected
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateIdempotencyChecked:
		return "idempotency_checked"
	case StateResourceLocked:
		return "resource_locked"
	case StateConflictChecked:
		return "conflict_checked"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejected || s == StateAborted
}

// =============================================================================
// ATTEMPT DESCRIPTION
// =============================================================================

// Effect is what Apply produced. A nil Audit means the attempt changed
// nothing (for example cancelling an already cancelled booking).
type Effect[T any] struct {
	Value *T
	Audit *AuditRecord
}

// Attempt describes one commit attempt. Only Op, Apply and one of
// Resource or Locate are required.
type Attempt[T any] struct {
	Op string

	// Resource is the lock key. When empty, Locate resolves it.
	Resource ResourceKey
	Locate   func(ctx context.Context, tx ReadTx) (ResourceKey, error)

	// Validate checks the input alone. Runs before any lock or read.
	Validate func() error

	// Replay returns the commitment a previous attempt with the same
	// idempotency key created, or nil.
	Replay func(ctx context.Context, tx ReadTx) (*T, error)

	// Check looks for conflicts while the lock is held.
	Check func(ctx context.Context, tx ReadTx) error

	// Apply performs the mutation. It runs in the same transaction as Check.
	Apply func(ctx context.Context, tx LedgerTx) (Effect[T], error)
}

// Result is the outcome of a committed attempt.
type Result[T any] struct {
	Value    T
	State    State
	Replayed bool
	Noop     bool
	Audit    *AuditEntry
}

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	Ledger      Ledger
	Locks       LockCoordinator
	Audit       *AuditWriter
	Log         logrus.FieldLogger
	Metrics     *Metrics
	LockTimeout time.Duration
	Now         func() time.Time
}

// NewManager returns a Manager with default timeout, clock and logger.
// When locks is nil an in-process KeyedLocker is used.
func NewManager(ledger Ledger, locks LockCoordinator) *Manager {
	if locks == nil {
		locks = NewKeyedLocker()
	}
	m := &Manager{
		Ledger:      ledger,
		Locks:       locks,
		Log:         logrus.StandardLogger(),
		LockTimeout: DefaultLockTimeout,
		Now:         time.Now,
	}
	// Audit timestamps follow m.Now, including when a test swaps it later.
	m.Audit = NewAuditWriter(func() time.Time { return m.Now() })
	return m
}

// Clock returns the current time in UTC.
func (m *Manager) Clock() time.Time { return m.Now().UTC() }

// Run drives a through the state machine.
//
// On success the returned Result is Committed (possibly Replayed or Noop).
// On failure the error is either a business rejection (validation,
// not_found, conflict, insufficient_balance) or an *AbortedError.
func Run[T any](ctx context.Context, m *Manager, a Attempt[T]) (res Result[T], err error) {
	started := time.Now()
	state := StateReceived
	resource := a.Resource

	defer func() {
		switch {
		case err == nil:
			state = StateCommitted
		case IsClientError(err):
			state = StateRejected
		default:
			state = StateAborted
			var ae *AbortedError
			if !errors.As(err, &ae) {
				err = &AbortedError{Op: a.Op, Err: err}
			}
		}
		res.State = state
		m.finish(a.Op, resource, res.Replayed, res.Noop, state, err, time.Since(started))
	}()

	if a.Validate != nil {
		if err := a.Validate(); err != nil {
			return res, err
		}
	}

	if a.Replay != nil {
		prior, err := replay(ctx, m.Ledger, a.Replay)
		if err != nil {
			return res, err
		}
		if prior != nil {
			return Result[T]{Value: *prior, Replayed: true}, nil
		}
	}
	state = StateIdempotencyChecked

	if resource == "" {
		if a.Locate == nil {
			return res, fmt.Errorf("%s: no resource key", a.Op)
		}
		if err := m.Ledger.View(ctx, func(tx ReadTx) error {
			key, err := a.Locate(ctx, tx)
			resource = key
			return err
		}); err != nil {
			return res, err
		}
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout())
	waitStart := time.Now()
	handle, err := m.Locks.Acquire(lockCtx, resource)
	cancel()
	m.Metrics.observeLockWait(a.Op, time.Since(waitStart))
	if err != nil {
		return res, &AbortedError{Op: a.Op, Err: err}
	}
	defer func() {
		if rerr := handle.Release(context.WithoutCancel(ctx)); rerr != nil {
			m.Logger().WithError(rerr).WithField("resource", resource).Warn("lock release failed")
		}
	}()
	state = StateResourceLocked

	var out Result[T]
	err = m.Ledger.WithTx(ctx, func(tx LedgerTx) (txErr error) {
		defer func() {
			if r := recover(); r != nil {
				txErr = &AbortedError{Op: a.Op, Err: fmt.Errorf("%w: %v", errPanic, r)}
			}
		}()

		if a.Replay != nil {
			prior, err := a.Replay(ctx, tx)
			if err != nil {
				return err
			}
			if prior != nil {
				out = Result[T]{Value: *prior, Replayed: true}
				return nil
			}
		}

		if a.Check != nil {
			if err := a.Check(ctx, tx); err != nil {
				return err
			}
		}
		state = StateConflictChecked

		eff, err := a.Apply(ctx, tx)
		if err != nil {
			return err
		}
		if eff.Value != nil {
			out.Value = *eff.Value
		}
		if eff.Audit == nil {
			out.Noop = true
			return nil
		}
		entry, err := m.auditWriter().Append(ctx, tx, *eff.Audit)
		if err != nil {
			return err
		}
		out.Audit = &entry
		return nil
	})

	if errors.Is(err, ErrDuplicateIdempotencyKey) && a.Replay != nil {
		prior, rerr := replay(ctx, m.Ledger, a.Replay)
		if rerr == nil && prior != nil {
			return Result[T]{Value: *prior, Replayed: true}, nil
		}
	}
	if err != nil {
		return res, err
	}
	return out, nil
}

// LockAll acquires every key in sorted order, each with the bounded wait of
// Run, and returns a func releasing them all. Writers outside Run (fixture
// seeding) use it so they never race a commit attempt on the same resource.
func (m *Manager) LockAll(ctx context.Context, op string, keys []ResourceKey) (release func(), err error) {
	sorted := append([]ResourceKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var held []LockHandle
	release = func() {
		for i := len(held) - 1; i >= 0; i-- {
			if rerr := held[i].Release(context.WithoutCancel(ctx)); rerr != nil {
				m.Logger().WithError(rerr).WithField("resource", string(held[i].Key())).Warn("lock release failed")
			}
		}
	}

	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout())
		h, err := m.Locks.Acquire(lockCtx, key)
		cancel()
		if err != nil {
			release()
			return nil, &AbortedError{Op: op, Err: err}
		}
		held = append(held, h)
	}
	return release, nil
}

func replay[T any](ctx context.Context, l Ledger, fn func(context.Context, ReadTx) (*T, error)) (*T, error) {
	var prior *T
	err := l.View(ctx, func(tx ReadTx) error {
		var err error
		prior, err = fn(ctx, tx)
		return err
	})
	return prior, err
}

func (m *Manager) lockTimeout() time.Duration {
	if m.LockTimeout <= 0 {
		return DefaultLockTimeout
	}
	return m.LockTimeout
}

// Logger returns the configured logger, or logrus' standard logger.
func (m *Manager) Logger() logrus.FieldLogger {
	if m.Log == nil {
		return logrus.StandardLogger()
	}
	return m.Log
}

func (m *Manager) auditWriter() *AuditWriter {
	if m.Audit == nil {
		return NewAuditWriter(m.Now)
	}
	return m.Audit
}

func (m *Manager) finish(op string, resource ResourceKey, replayed, noop bool, state State, err error, elapsed time.Duration) {
	m.Metrics.observeAttempt(op, state, elapsed)

	entry := m.Logger().WithFields(logrus.Fields{
		"op":         op,
		"resource":   string(resource),
		"state":      state.String(),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if replayed {
		entry = entry.WithField("replayed", true)
	}
	if noop {
		entry = entry.WithField("noop", true)
	}

	switch state {
	case StateCommitted:
		entry.Info("attempt committed")
	case StateRejected:
		entry.WithField("kind", string(KindOf(err))).WithError(err).Info("attempt rejected")
	default:
		if errors.Is(err, errPanic) {
			entry.WithError(err).Error("attempt aborted")
			return
		}
		entry.WithError(err).Warn("attempt aborted")
	}
}
