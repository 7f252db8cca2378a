/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - Dates as YYYY-MM-DD strings while the domain uses time.Time
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers that add outcome flags (replayed, noop)

VALIDATION:
  Shape validation happens in the services (go-playground/validator tags on
  their input types). Handlers only parse.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/reservation-core/booking"
	"github.com/warp/reservation-core/generic"
)

// =============================================================================
// BOOKINGS
// =============================================================================

// CreateBookingRequest is the body of POST /api/rooms/{roomID}/bookings.
// The Idempotency-Key header, when present, takes precedence over the body
// field.
type CreateBookingRequest struct {
	RequesterID    string    `json:"requester_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// CancelBookingRequest is the optional body of DELETE /api/bookings/{id}.
type CancelBookingRequest struct {
	ActingUserID string `json:"acting_user_id"`
}

type BookingDTO struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"room_id"`
	RequesterID    string    `json:"requester_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type BookingResponse struct {
	Booking  BookingDTO `json:"booking"`
	Replayed bool       `json:"replayed,omitempty"`
	Noop     bool       `json:"noop,omitempty"`
}

type SegmentDTO struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Status string    `json:"status"`
}

type AvailabilityDTO struct {
	RoomID   string       `json:"room_id"`
	Start    time.Time    `json:"start"`
	End      time.Time    `json:"end"`
	Segments []SegmentDTO `json:"segments"`
}

func toBookingDTO(b generic.Booking) BookingDTO {
	return BookingDTO{
		ID:             string(b.ID),
		RoomID:         string(b.RoomID),
		RequesterID:    string(b.RequesterID),
		StartTime:      b.Start,
		EndTime:        b.End,
		Status:         string(b.Status),
		IdempotencyKey: b.IdempotencyKey,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toAvailabilityDTO(a booking.Availability) AvailabilityDTO {
	segs := make([]SegmentDTO, len(a.Segments))
	for i, s := range a.Segments {
		segs[i] = SegmentDTO{Start: s.Start, End: s.End, Status: string(s.Status)}
	}
	return AvailabilityDTO{
		RoomID:   string(a.RoomID),
		Start:    a.Window.Start,
		End:      a.Window.End,
		Segments: segs,
	}
}

// =============================================================================
// LEAVE
// =============================================================================

// CreateLeaveRequest is the body of POST /api/leave-requests.
type CreateLeaveRequest struct {
	UserID    string `json:"user_id"`
	PolicyID  string `json:"policy_id"`
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`   // YYYY-MM-DD, inclusive
	Reason    string `json:"reason,omitempty"`
}

// DecideLeaveRequest is the body of PATCH /api/leave-requests/{id}.
type DecideLeaveRequest struct {
	Status     string `json:"status"`
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment,omitempty"`
}

type LeaveRequestDTO struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	PolicyID   string     `json:"policy_id"`
	StartDate  string     `json:"start_date"`
	EndDate    string     `json:"end_date"`
	TotalDays  int        `json:"total_days"`
	Reason     string     `json:"reason,omitempty"`
	Status     string     `json:"status"`
	ApproverID *string    `json:"approver_id,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type LeaveRequestResponse struct {
	LeaveRequest LeaveRequestDTO `json:"leave_request"`
	Noop         bool            `json:"noop,omitempty"`
}

// BalanceDTO carries day counts as strings to keep decimal precision.
type BalanceDTO struct {
	UserID        string    `json:"user_id"`
	PolicyID      string    `json:"policy_id"`
	AllocatedDays string    `json:"allocated_days"`
	UsedDays      string    `json:"used_days"`
	RemainingDays string    `json:"remaining_days"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toLeaveRequestDTO(r generic.LeaveRequest) LeaveRequestDTO {
	dto := LeaveRequestDTO{
		ID:         string(r.ID),
		UserID:     string(r.UserID),
		PolicyID:   string(r.PolicyID),
		StartDate:  r.StartDate.Format(generic.DateLayout),
		EndDate:    r.EndDate.Format(generic.DateLayout),
		TotalDays:  r.TotalDays,
		Reason:     r.Reason,
		Status:     string(r.Status),
		ApprovedAt: r.ApprovedAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.ApproverID != nil {
		id := string(*r.ApproverID)
		dto.ApproverID = &id
	}
	return dto
}

func toBalanceDTO(b generic.LeaveBalance) BalanceDTO {
	return BalanceDTO{
		UserID:        string(b.UserID),
		PolicyID:      string(b.PolicyID),
		AllocatedDays: b.AllocatedDays.String(),
		UsedDays:      b.UsedDays.String(),
		RemainingDays: b.RemainingDays.String(),
		UpdatedAt:     b.UpdatedAt,
	}
}

// =============================================================================
// AUDIT AND ERRORS
// =============================================================================

type AuditEntryDTO struct {
	ID           string    `json:"id"`
	Kind         string    `json:"commitment_kind"`
	CommitmentID string    `json:"commitment_id"`
	Action       string    `json:"action"`
	ActorID      string    `json:"actor_id"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAuditDTOs(entries []generic.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryDTO{
			ID:           string(e.ID),
			Kind:         string(e.CommitmentKind),
			CommitmentID: e.CommitmentID,
			Action:       string(e.Action),
			ActorID:      string(e.ActorID),
			Comment:      e.Comment,
			CreatedAt:    e.CreatedAt,
		}
	}
	return out
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
