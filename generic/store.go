/*
store.go - Persistence interface for resources, commitments and audit

PURPOSE:
  Defines the interface between the engine and the database. All reads and
  writes made while deciding a commit happen through a LedgerTx obtained from
  Ledger.WithTx, so the conflict check and the mutation it guards are one
  atomic unit.

KEY INTERFACES:
  ReadTx:   Lookups used by conflict checks, idempotency and display reads
  LedgerTx: ReadTx plus the writes a committed transition performs

APPEND-ONLY CONTRACT:
  - Commitments are inserted once and then only change status
  - Audit entries are inserted once: no Update or Delete exists for them
  - Nothing is ever physically deleted

NOT FOUND:
  Single-row lookups return (nil, nil) when the row does not exist. Callers
  turn that into a NotFoundError with the context they have.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing and single-process use

SEE ALSO:
  - ledger.go: Transaction boundaries
  - manager.go: The only writer of commitment state
*/
package generic

import "context"

// ReadTx exposes the lookups of the ledger.
type ReadTx interface {
	GetRoom(ctx context.Context, id RoomID) (*Room, error)
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	// FindBookingByKey returns the booking created on roomID with the given
	// idempotency key, if any.
	FindBookingByKey(ctx context.Context, roomID RoomID, key string) (*Booking, error)

	// ActiveBookings returns approved bookings on roomID overlapping within,
	// ordered by start.
	ActiveBookings(ctx context.Context, roomID RoomID, within Interval) ([]Booking, error)

	// Bookings returns every booking on roomID regardless of status, ordered
	// by start.
	Bookings(ctx context.Context, roomID RoomID) ([]Booking, error)

	// Blackouts returns blackout windows on roomID overlapping within,
	// ordered by start.
	Blackouts(ctx context.Context, roomID RoomID, within Interval) ([]BlackoutWindow, error)

	GetBalance(ctx context.Context, userID UserID, policyID PolicyID) (*LeaveBalance, error)
	GetLeaveRequest(ctx context.Context, id LeaveRequestID) (*LeaveRequest, error)

	// ActiveLeaveRequests returns pending or approved requests of userID, under
	// any policy, whose dates overlap within. Ordered by start date.
	ActiveLeaveRequests(ctx context.Context, userID UserID, within Interval) ([]LeaveRequest, error)

	// LeaveRequests returns every request of userID under policyID.
	LeaveRequests(ctx context.Context, userID UserID, policyID PolicyID) ([]LeaveRequest, error)

	// AuditEntries returns the trail of one commitment, oldest first.
	AuditEntries(ctx context.Context, kind CommitmentKind, commitmentID string) ([]AuditEntry, error)
}

// LedgerTx is a ReadTx that can also write. Only valid inside Ledger.WithTx.
type LedgerTx interface {
	ReadTx

	SaveRoom(ctx context.Context, room Room) error
	SaveBlackout(ctx context.Context, window BlackoutWindow) error
	SaveBalance(ctx context.Context, balance LeaveBalance) error

	// InsertBooking returns ErrDuplicateIdempotencyKey when the room already
	// holds a booking with the same idempotency key.
	InsertBooking(ctx context.Context, b Booking) error
	UpdateBooking(ctx context.Context, b Booking) error

	InsertLeaveRequest(ctx context.Context, r LeaveRequest) error
	UpdateLeaveRequest(ctx context.Context, r LeaveRequest) error

	AppendAudit(ctx context.Context, entry AuditEntry) error
}
