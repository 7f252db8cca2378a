/*
ledger.go - Transaction boundaries over the resource ledger

PURPOSE:
  The Ledger is the single source of truth for rooms, balances, commitments
  and audit entries. It hands out two kinds of access:

  WithTx: an atomic read-write unit. If fn returns an error everything fn
          wrote is rolled back; otherwise it is committed.
  View:   a read-only pass for display data and idempotency lookups. It may
          observe slightly stale data and never makes commit decisions.

CRITICAL INVARIANTS:
  1. ALL-OR-NOTHING: a failed WithTx leaves no partial writes visible
  2. SINGLE WRITER PATH: commitment state is only written by the Manager,
     inside WithTx, while the owning resource lock is held
  3. NO DELETES: cancellation and rejection are status transitions

SEE ALSO:
  - store.go: The operations available inside a transaction
  - lock.go: Per-resource exclusion held around WithTx
*/
package generic

import "context"

// Ledger is the transactional store behind the engine.
type Ledger interface {
	// WithTx executes fn within a transaction.
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// View executes fn with read-only access outside any transaction.
	View(ctx context.Context, fn func(tx ReadTx) error) error
}
