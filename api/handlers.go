/*
handlers.go - HTTP API handlers for the reservation core

PURPOSE:
  Exposes bookings, availability and leave decisions via REST API. Handles
  HTTP request/response and JSON serialization, and delegates every
  decision to the booking and leave services.

ENDPOINTS:
  Bookings:
    POST   /api/rooms/{roomID}/bookings      Create booking (idempotent)
    GET    /api/rooms/{roomID}/bookings      List a room's bookings
    GET    /api/rooms/{roomID}/availability  Free/busy timeline
    GET    /api/bookings/{id}                Get booking
    DELETE /api/bookings/{id}                Cancel booking (idempotent)
    GET    /api/bookings/{id}/audit          Audit trail

  Leave:
    POST   /api/leave-requests               File a pending request
    GET    /api/leave-requests/{id}          Get request
    PATCH  /api/leave-requests/{id}          Approve, reject or cancel
    GET    /api/leave-requests/{id}/audit    Audit trail
    GET    /api/users/{userID}/balances/{policyID}
    GET    /api/users/{userID}/leave-requests?policy_id=

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind:
  - 400: validation
  - 404: not_found
  - 409: conflict (overlap, blackout, inactive room, forbidden transition)
  - 422: insufficient_balance
  - 503: aborted (lock timeout, storage failure), with Retry-After

IDEMPOTENCY:
  A replayed create returns 200 with the original booking, a fresh create
  returns 201. Clients may retry a 503 with the same Idempotency-Key.

SECURITY NOTE:
  No authentication middleware. Acting user ids come from the request.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/reservation-core/booking"
	"github.com/warp/reservation-core/generic"
	"github.com/warp/reservation-core/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Bookings *booking.Service
	Leave    *leave.Service
	Log      logrus.FieldLogger
	Now      func() time.Time
}

// NewHandler creates a new handler over the two services.
func NewHandler(bookings *booking.Service, leaveSvc *leave.Service, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{Bookings: bookings, Leave: leaveSvc, Log: log, Now: time.Now}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking commits a booking on a room.
// POST /api/rooms/{roomID}/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	key := req.IdempotencyKey
	if hk := r.Header.Get("Idempotency-Key"); strings.TrimSpace(hk) != "" {
		key = hk
	}

	res, err := h.Bookings.CreateBooking(r.Context(), booking.CreateBookingInput{
		RoomID:         generic.RoomID(chi.URLParam(r, "roomID")),
		RequesterID:    generic.UserID(req.RequesterID),
		Start:          req.StartTime,
		End:            req.EndTime,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, BookingResponse{Booking: toBookingDTO(res.Value), Replayed: res.Replayed})
}

// GetBooking returns a single booking.
// GET /api/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bookings.GetBooking(r.Context(), generic.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ListBookings returns every booking on a room.
// GET /api/rooms/{roomID}/bookings
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bs, err := h.Bookings.ListBookings(r.Context(), generic.RoomID(chi.URLParam(r, "roomID")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]BookingDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CancelBooking cancels a booking. Cancelling twice returns 200 both times.
// DELETE /api/bookings/{id}?acting_user_id=
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("acting_user_id")
	if actor == "" {
		var req CancelBookingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		actor = req.ActingUserID
	}

	res, err := h.Bookings.CancelBooking(r.Context(), generic.BookingID(chi.URLParam(r, "id")), generic.UserID(actor))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingResponse{Booking: toBookingDTO(res.Value), Noop: res.Noop})
}

// GetBookingAudit returns the audit trail of a booking.
// GET /api/bookings/{id}/audit
func (h *Handler) GetBookingAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Bookings.AuditTrail(r.Context(), generic.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// GetAvailability returns the free/busy timeline of a room.
// GET /api/rooms/{roomID}/availability?start=&end=
//
// Bounds accept RFC3339 timestamps or YYYY-MM-DD dates. A date-only end is
// inclusive, so end=2025-01-01 covers the whole of that day. Missing bounds
// default to today.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := generic.DateOf(h.now())

	start, err := parseBound(q.Get("start"), today, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start", err)
		return
	}
	end, err := parseBound(q.Get("end"), today, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end", err)
		return
	}

	a, err := h.Bookings.ListAvailability(r.Context(), generic.RoomID(chi.URLParam(r, "roomID")), start, end)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(a))
}

func parseBound(s string, today time.Time, isEnd bool) (time.Time, error) {
	if s == "" {
		if isEnd {
			return today.Add(generic.Day), nil
		}
		return today, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	if isEnd {
		return d.Add(generic.Day), nil
	}
	return d, nil
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

// CreateLeaveRequest files a pending leave request.
// POST /api/leave-requests
func (h *Handler) CreateLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := leave.CreateLeaveInput{
		UserID:   generic.UserID(req.UserID),
		PolicyID: generic.PolicyID(req.PolicyID),
		Reason:   req.Reason,
	}
	var err error
	if req.StartDate != "" {
		if in.StartDate, err = generic.ParseDate(req.StartDate); err != nil {
			h.writeServiceError(w, r, &generic.ValidationError{Field: "start_date", Message: "must be YYYY-MM-DD"})
			return
		}
	}
	if req.EndDate != "" {
		if in.EndDate, err = generic.ParseDate(req.EndDate); err != nil {
			h.writeServiceError(w, r, &generic.ValidationError{Field: "end_date", Message: "must be YYYY-MM-DD"})
			return
		}
	}

	res, err := h.Leave.CreateLeaveRequest(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, LeaveRequestResponse{LeaveRequest: toLeaveRequestDTO(res.Value)})
}

// GetLeaveRequest returns a single leave request.
// GET /api/leave-requests/{id}
func (h *Handler) GetLeaveRequest(w http.ResponseWriter, r *http.Request) {
	lr, err := h.Leave.GetLeaveRequest(r.Context(), generic.LeaveRequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*lr))
}

// DecideLeaveRequest approves, rejects or cancels a leave request.
// PATCH /api/leave-requests/{id}
func (h *Handler) DecideLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var req DecideLeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Leave.DecideLeaveRequest(r.Context(), leave.DecideInput{
		ID:         generic.LeaveRequestID(chi.URLParam(r, "id")),
		Decision:   generic.LeaveStatus(req.Status),
		ApproverID: generic.UserID(req.ApproverID),
		Comment:    req.Comment,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LeaveRequestResponse{LeaveRequest: toLeaveRequestDTO(res.Value), Noop: res.Noop})
}

// GetLeaveAudit returns the audit trail of a leave request.
// GET /api/leave-requests/{id}/audit
func (h *Handler) GetLeaveAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Leave.AuditTrail(r.Context(), generic.LeaveRequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// GetBalance returns a user's balance under a policy.
// GET /api/users/{userID}/balances/{policyID}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Leave.Balance(r.Context(),
		generic.UserID(chi.URLParam(r, "userID")),
		generic.PolicyID(chi.URLParam(r, "policyID")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// ListLeaveRequests returns a user's requests under one policy.
// GET /api/users/{userID}/leave-requests?policy_id=
func (h *Handler) ListLeaveRequests(w http.ResponseWriter, r *http.Request) {
	policy := r.URL.Query().Get("policy_id")
	if policy == "" {
		h.writeServiceError(w, r, &generic.ValidationError{Field: "policy_id", Message: "is required"})
		return
	}
	rs, err := h.Leave.Requests(r.Context(), generic.UserID(chi.URLParam(r, "userID")), generic.PolicyID(policy))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]LeaveRequestDTO, len(rs))
	for i, lr := range rs {
		dtos[i] = toLeaveRequestDTO(lr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// decodeJSON reads a JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind generic.ErrorKind) int {
	switch kind {
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindConflict:
		return http.StatusConflict
	case generic.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := generic.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{Error: err.Error(), Kind: string(kind)}
	var ve *generic.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}

	if kind == generic.KindAborted {
		h.Log.WithError(err).WithField("path", r.URL.Path).Warn("request aborted")
		resp.Error = "Temporarily unavailable, retry the request"
		resp.Details = err.Error()
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if status == http.StatusBadRequest {
		resp.Kind = string(generic.KindValidation)
	}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
