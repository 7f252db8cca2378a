/*
Package booking implements room bookings on top of the reservation engine.

PURPOSE:
  A booking claims the half-open interval [start, end) on a room. It must
  not overlap any other approved booking on that room nor any blackout
  window. Bookings are created approved; the only later transition is
  approved -> cancelled.

OPERATIONS:
  CreateBooking:    idempotent create keyed by (room, idempotency key)
  CancelBooking:    soft cancel; cancelling twice is a no-op success
  ListAvailability: free/busy timeline, read without the lock
  GetBooking, AuditTrail: reads

SEE ALSO:
  - generic/manager.go: Run, the state machine every mutation goes through
  - generic/timeline.go: BuildTimeline
*/
package booking

import (
	"context"
	"time"

	"github.com/warp/reservation-core/generic"
)

// Service exposes the booking operations.
type Service struct {
	mgr *generic.Manager
}

func NewService(mgr *generic.Manager) *Service {
	return &Service{mgr: mgr}
}

// =============================================================================
// CREATE
// =============================================================================

type CreateBookingInput struct {
	RoomID         generic.RoomID `json:"room_id" validate:"required"`
	RequesterID    generic.UserID `json:"requester_id" validate:"required"`
	Start          time.Time      `json:"start" validate:"required"`
	End            time.Time      `json:"end" validate:"required,gtfield=Start"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// CreateBooking commits a new approved booking, or returns the booking a
// previous call with the same idempotency key created (Result.Replayed).
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (generic.Result[generic.Booking], error) {
	key := generic.NormalizeIdempotencyKey(in.IdempotencyKey)
	in.Start, in.End = in.Start.UTC(), in.End.UTC()
	requested := generic.Interval{Start: in.Start, End: in.End}
	resource := generic.RoomKey(in.RoomID)

	return generic.Run(ctx, s.mgr, generic.Attempt[generic.Booking]{
		Op:       "create_booking",
		Resource: resource,
		Validate: func() error { return generic.ValidateStruct(in) },
		Replay: func(ctx context.Context, tx generic.ReadTx) (*generic.Booking, error) {
			return tx.FindBookingByKey(ctx, in.RoomID, key)
		},
		Check: func(ctx context.Context, tx generic.ReadTx) error {
			return checkRoom(ctx, tx, in.RoomID, resource, requested)
		},
		Apply: func(ctx context.Context, tx generic.LedgerTx) (generic.Effect[generic.Booking], error) {
			now := s.mgr.Clock()
			b := generic.Booking{
				ID:             generic.BookingID(generic.NewID()),
				RoomID:         in.RoomID,
				RequesterID:    in.RequesterID,
				Start:          in.Start,
				End:            in.End,
				Status:         generic.BookingApproved,
				IdempotencyKey: key,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.InsertBooking(ctx, b); err != nil {
				return generic.Effect[generic.Booking]{}, err
			}
			return generic.Effect[generic.Booking]{
				Value: &b,
				Audit: &generic.AuditRecord{
					Kind:         generic.CommitmentBooking,
					CommitmentID: string(b.ID),
					Action:       generic.AuditApproved,
					ActorID:      in.RequesterID,
				},
			}, nil
		},
	})
}

// checkRoom runs under the room lock: the room must exist and be active, and
// requested must overlap neither an approved booking nor a blackout window.
func checkRoom(ctx context.Context, tx generic.ReadTx, roomID generic.RoomID, resource generic.ResourceKey, requested generic.Interval) error {
	room, err := tx.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return &generic.NotFoundError{Resource: "room", ID: string(roomID)}
	}
	if !room.Active {
		return &generic.ConflictError{Resource: resource, Reason: generic.ConflictRoomInactive, Requested: requested}
	}

	active, err := tx.ActiveBookings(ctx, roomID, requested)
	if err != nil {
		return err
	}
	for _, b := range active {
		if generic.Overlaps(b.Interval(), requested) {
			return &generic.ConflictError{
				Resource:      resource,
				Reason:        generic.ConflictBookingOverlap,
				ConflictingID: string(b.ID),
				Requested:     requested,
			}
		}
	}

	blackouts, err := tx.Blackouts(ctx, roomID, requested)
	if err != nil {
		return err
	}
	for _, w := range blackouts {
		if generic.Overlaps(w.Interval(), requested) {
			return &generic.ConflictError{
				Resource:      resource,
				Reason:        generic.ConflictBlackoutOverlap,
				ConflictingID: string(w.ID),
				Requested:     requested,
			}
		}
	}
	return nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelBooking moves an approved booking to cancelled. Cancelling a booking
// that is already cancelled returns it unchanged with Result.Noop set and
// writes no audit entry.
func (s *Service) CancelBooking(ctx context.Context, id generic.BookingID, actor generic.UserID) (generic.Result[generic.Booking], error) {
	return generic.Run(ctx, s.mgr, generic.Attempt[generic.Booking]{
		Op: "cancel_booking",
		Validate: func() error {
			if id == "" {
				return &generic.ValidationError{Field: "booking_id", Message: "is required"}
			}
			if actor == "" {
				return &generic.ValidationError{Field: "acting_user_id", Message: "is required"}
			}
			return nil
		},
		Locate: func(ctx context.Context, tx generic.ReadTx) (generic.ResourceKey, error) {
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return "", err
			}
			if b == nil {
				return "", &generic.NotFoundError{Resource: "booking", ID: string(id)}
			}
			return generic.RoomKey(b.RoomID), nil
		},
		Apply: func(ctx context.Context, tx generic.LedgerTx) (generic.Effect[generic.Booking], error) {
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return generic.Effect[generic.Booking]{}, err
			}
			if b == nil {
				return generic.Effect[generic.Booking]{}, &generic.NotFoundError{Resource: "booking", ID: string(id)}
			}
			if b.Status == generic.BookingCancelled {
				return generic.Effect[generic.Booking]{Value: b}, nil
			}
			if !generic.BookingTransitions.Allows(b.Status, generic.BookingCancelled) {
				return generic.Effect[generic.Booking]{}, &generic.InvalidTransitionError{
					Kind: generic.CommitmentBooking, From: string(b.Status), To: string(generic.BookingCancelled),
				}
			}

			b.Status = generic.BookingCancelled
			b.UpdatedAt = s.mgr.Clock()
			if err := tx.UpdateBooking(ctx, *b); err != nil {
				return generic.Effect[generic.Booking]{}, err
			}
			return generic.Effect[generic.Booking]{
				Value: b,
				Audit: &generic.AuditRecord{
					Kind:         generic.CommitmentBooking,
					CommitmentID: string(b.ID),
					Action:       generic.AuditCancelled,
					ActorID:      actor,
				},
			}, nil
		},
	})
}

// =============================================================================
// READS - bypass the lock, may observe slightly stale data
// =============================================================================

// Availability is the free/busy partition of a room over a window.
type Availability struct {
	RoomID   generic.RoomID
	Window   generic.Interval
	Segments []generic.Segment
}

// ListAvailability builds the timeline of roomID over [start, end). Approved
// bookings and blackout windows are busy.
func (s *Service) ListAvailability(ctx context.Context, roomID generic.RoomID, start, end time.Time) (Availability, error) {
	if roomID == "" {
		return Availability{}, &generic.ValidationError{Field: "room_id", Message: "is required"}
	}
	window, err := generic.NewInterval(start.UTC(), end.UTC())
	if err != nil {
		return Availability{}, err
	}

	var busy []generic.Interval
	err = s.mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil {
			return &generic.NotFoundError{Resource: "room", ID: string(roomID)}
		}
		bookings, err := tx.ActiveBookings(ctx, roomID, window)
		if err != nil {
			return err
		}
		blackouts, err := tx.Blackouts(ctx, roomID, window)
		if err != nil {
			return err
		}
		for _, b := range bookings {
			busy = append(busy, b.Interval())
		}
		for _, w := range blackouts {
			busy = append(busy, w.Interval())
		}
		return nil
	})
	if err != nil {
		return Availability{}, generic.ReadError("list_availability", err)
	}

	return Availability{
		RoomID:   roomID,
		Window:   window,
		Segments: generic.BuildTimeline(window, busy),
	}, nil
}

func (s *Service) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	var out *generic.Booking
	err := s.mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return &generic.NotFoundError{Resource: "booking", ID: string(id)}
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, generic.ReadError("get_booking", err)
	}
	return out, nil
}

// ListBookings returns every booking on roomID, cancelled ones included.
func (s *Service) ListBookings(ctx context.Context, roomID generic.RoomID) ([]generic.Booking, error) {
	var out []generic.Booking
	err := s.mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil {
			return &generic.NotFoundError{Resource: "room", ID: string(roomID)}
		}
		out, err = tx.Bookings(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, generic.ReadError("list_bookings", err)
	}
	return out, nil
}

// AuditTrail returns the transitions of a booking, oldest first.
func (s *Service) AuditTrail(ctx context.Context, id generic.BookingID) ([]generic.AuditEntry, error) {
	if _, err := s.GetBooking(ctx, id); err != nil {
		return nil, err
	}
	var out []generic.AuditEntry
	err := s.mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		var err error
		out, err = tx.AuditEntries(ctx, generic.CommitmentBooking, string(id))
		return err
	})
	if err != nil {
		return nil, generic.ReadError("booking_audit", err)
	}
	return out, nil
}
