/*
Package generic provides the core reservation engine.

PURPOSE:
  This package contains the domain-agnostic pieces used to commit
  mutually-exclusive claims on a shared, time-bounded resource. Room bookings
  and leave requests share one structural pattern: validate, lock the owning
  resource, check for conflicts, mutate, audit, commit. The engine owns that
  pattern; the booking and leave packages only describe what to check and
  what to write.

KEY CONCEPTS IN THIS FILE (types.go):
  - Resource records: Room, LeaveBalance
  - Commitments: Booking, LeaveRequest (never deleted, only transitioned)
  - Exclusion windows: BlackoutWindow
  - Audit entries: immutable record of every status transition
  - Type-safe identifiers

DESIGN PRINCIPLES:
  1. Soft transitions: Commitments change status, they are never removed
  2. Precision: Day counts on balances use decimal.Decimal
  3. Type Safety: Distinct ID types prevent mixing rooms, users and policies
  4. Auditability: Every transition writes exactly one AuditEntry

SEE ALSO:
  - interval.go: Half-open intervals and the overlap rule
  - manager.go: The transaction state machine
  - store.go: Ledger persistence interfaces
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RoomID string
type UserID string
type PolicyID string
type BookingID string
type LeaveRequestID string
type BlackoutID string
type AuditID string

// CommitmentKind names the commitment table an audit entry refers to.
type CommitmentKind string

const (
	CommitmentBooking      CommitmentKind = "booking"
	CommitmentLeaveRequest CommitmentKind = "leave_request"
)

// =============================================================================
// RESOURCES
// =============================================================================

// Room is a bookable space. Rooms are created once and mutate rarely.
type Room struct {
	ID        RoomID
	Name      string
	Capacity  int
	Active    bool
	CreatedAt time.Time
}

// LeaveBalance is the allowance a user holds under one leave policy.
//
// INVARIANT: AllocatedDays - UsedDays == RemainingDays
type LeaveBalance struct {
	UserID        UserID
	PolicyID      PolicyID
	AllocatedDays decimal.Decimal
	UsedDays      decimal.Decimal
	RemainingDays decimal.Decimal
	UpdatedAt     time.Time
}

// NewLeaveBalance returns an untouched balance with everything remaining.
func NewLeaveBalance(userID UserID, policyID PolicyID, allocated decimal.Decimal, at time.Time) LeaveBalance {
	return LeaveBalance{
		UserID:        userID,
		PolicyID:      policyID,
		AllocatedDays: allocated,
		UsedDays:      decimal.Zero,
		RemainingDays: allocated,
		UpdatedAt:     at,
	}
}

// Consume moves days from remaining to used.
func (b LeaveBalance) Consume(days decimal.Decimal, at time.Time) LeaveBalance {
	b.UsedDays = b.UsedDays.Add(days)
	b.RemainingDays = b.RemainingDays.Sub(days)
	b.UpdatedAt = at
	return b
}

// Restore gives back days previously consumed.
func (b LeaveBalance) Restore(days decimal.Decimal, at time.Time) LeaveBalance {
	b.UsedDays = b.UsedDays.Sub(days)
	b.RemainingDays = b.RemainingDays.Add(days)
	b.UpdatedAt = at
	return b
}

// Reallocate changes the allocation and keeps the consumed days.
func (b LeaveBalance) Reallocate(allocated decimal.Decimal, at time.Time) LeaveBalance {
	b.AllocatedDays = allocated
	b.RemainingDays = allocated.Sub(b.UsedDays)
	b.UpdatedAt = at
	return b
}

// Balanced reports whether the conservation invariant holds.
func (b LeaveBalance) Balanced() bool {
	return b.AllocatedDays.Sub(b.UsedDays).Equal(b.RemainingDays)
}

// =============================================================================
// EXCLUSION WINDOWS
// =============================================================================

// BlackoutWindow blocks bookings on a room regardless of other bookings.
// Immutable once created.
type BlackoutWindow struct {
	ID     BlackoutID
	RoomID RoomID
	Start  time.Time
	End    time.Time
	Reason string
}

func (w BlackoutWindow) Interval() Interval { return Interval{Start: w.Start, End: w.End} }

// =============================================================================
// COMMITMENTS
// =============================================================================

type BookingStatus string

const (
	BookingApproved  BookingStatus = "approved"
	BookingCancelled BookingStatus = "cancelled"
)

// Active reports whether the status counts toward the non-overlap invariant.
func (s BookingStatus) Active() bool { return s == BookingApproved }

// Booking is a claim on [Start, End) of a room.
type Booking struct {
	ID             BookingID
	RoomID         RoomID
	RequesterID    UserID
	Start          time.Time
	End            time.Time
	Status         BookingStatus
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b Booking) Interval() Interval { return Interval{Start: b.Start, End: b.End} }

type LeaveStatus string

const (
	LeavePending   LeaveStatus = "pending"
	LeaveApproved  LeaveStatus = "approved"
	LeaveRejected  LeaveStatus = "rejected"
	LeaveCancelled LeaveStatus = "cancelled"
)

// Active reports whether the status counts toward the non-overlap invariant.
func (s LeaveStatus) Active() bool { return s == LeavePending || s == LeaveApproved }

// LeaveRequest claims whole calendar days [StartDate, EndDate] against a
// balance. Dates carry no time-of-day component.
type LeaveRequest struct {
	ID         LeaveRequestID
	UserID     UserID
	PolicyID   PolicyID
	StartDate  time.Time
	EndDate    time.Time
	TotalDays  int
	Reason     string
	Status     LeaveStatus
	ApproverID *UserID
	ApprovedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Interval returns the request as a half-open interval ending the day after
// EndDate, so it can be compared with Overlaps.
func (r LeaveRequest) Interval() Interval { return DateSpan(r.StartDate, r.EndDate) }

// Days returns TotalDays as a decimal for balance arithmetic.
func (r LeaveRequest) Days() decimal.Decimal { return decimal.NewFromInt(int64(r.TotalDays)) }

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditPending   AuditAction = "pending"
	AuditApproved  AuditAction = "approved"
	AuditRejected  AuditAction = "rejected"
	AuditCancelled AuditAction = "cancelled"
)

// AuditEntry records one status transition of one commitment.
// Append-only: never updated, never deleted.
type AuditEntry struct {
	ID             AuditID
	CommitmentKind CommitmentKind
	CommitmentID   string
	Action         AuditAction
	ActorID        UserID
	Comment        string
	CreatedAt      time.Time
}
