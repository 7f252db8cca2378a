/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Status mapping of the error taxonomy (400/404/409/422/503)
- Idempotent booking create (201 then 200) and cancel
- Availability bounds parsing
- Leave request lifecycle over HTTP
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-core/booking"
	"github.com/warp/reservation-core/generic"
	"github.com/warp/reservation-core/generic/store"
	"github.com/warp/reservation-core/leave"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var today = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	mgr    *generic.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ledger := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, ledger.WithTx(ctx, func(tx generic.LedgerTx) error {
		if err := tx.SaveRoom(ctx, generic.Room{ID: "r1", Name: "Boardroom", Active: true, CreatedAt: today}); err != nil {
			return err
		}
		return tx.SaveBalance(ctx, generic.NewLeaveBalance("u1", "annual", decimal.NewFromInt(5), today))
	}))

	logger, _ := logtest.NewNullLogger()
	registry := prometheus.NewRegistry()
	mgr := generic.NewManager(ledger, nil)
	mgr.Log = logger
	mgr.Metrics = generic.NewMetrics(registry)

	h := NewHandler(booking.NewService(mgr), leave.NewService(mgr), logger)
	h.Now = func() time.Time { return today.Add(8 * time.Hour) }
	return &testServer{
		router: NewRouter(h, RouterOptions{Gatherer: registry}),
		mgr:    mgr,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func bookingBody(startHour, endHour int) CreateBookingRequest {
	return CreateBookingRequest{
		RequesterID: "u1",
		StartTime:   today.Add(time.Duration(startHour) * time.Hour),
		EndTime:     today.Add(time.Duration(endHour) * time.Hour),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestCreateBooking_CreatedThenReplayed(t *testing.T) {
	// GIVEN: A fresh room
	// WHEN: Posting the same booking twice with one Idempotency-Key
	// THEN: 201 then 200 with the same booking id

	s := newTestServer(t)

	first := s.do(t, http.MethodPost, "/api/rooms/r1/bookings", bookingBody(9, 10), "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	created := decode[BookingResponse](t, first)
	assert.Equal(t, "approved", created.Booking.Status)
	assert.Equal(t, "abc", created.Booking.IdempotencyKey)

	second := s.do(t, http.MethodPost, "/api/rooms/r1/bookings", bookingBody(9, 10), "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, second.Code)
	replayed := decode[BookingResponse](t, second)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, created.Booking.ID, replayed.Booking.ID)

	assert.Equal(t, float64(2), s.mgr.Metrics.Count("create_booking", generic.StateCommitted))
}

func TestCreateBooking_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/rooms/r1/bookings", bookingBody(9, 10)).Code)

	conflict := s.do(t, http.MethodPost, "/api/rooms/r1/bookings", bookingBody(9, 11))
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, conflict).Kind)

	invalid := s.do(t, http.MethodPost, "/api/rooms/r1/bookings", bookingBody(11, 10))
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.Equal(t, "end", decode[ErrorResponse](t, invalid).Field)

	missing := s.do(t, http.MethodPost, "/api/rooms/nope/bookings", bookingBody(9, 10))
	assert.Equal(t, http.StatusNotFound, missing.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/r1/bookings", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelBooking_TwiceReturns200(t *testing.T) {
	s := newTestServer(t)
	created := decode[BookingResponse](t, s.do(t, http.MethodPost, "/api/rooms/r1/bookings", bookingBody(9, 10)))
	path := "/api/bookings/" + created.Booking.ID

	first := s.do(t, http.MethodDelete, path+"?acting_user_id=u1", nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "cancelled", decode[BookingResponse](t, first).Booking.Status)

	second := s.do(t, http.MethodDelete, path, CancelBookingRequest{ActingUserID: "u1"})
	require.Equal(t, http.StatusOK, second.Code)
	assert.True(t, decode[BookingResponse](t, second).Noop)

	audit := s.do(t, http.MethodGet, path+"/audit", nil)
	require.Equal(t, http.StatusOK, audit.Code)
	entries := decode[[]AuditEntryDTO](t, audit)
	require.Len(t, entries, 2)
	assert.Equal(t, "cancelled", entries[1].Action)

	noActor := s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusBadRequest, noActor.Code)

	get := s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "cancelled", decode[BookingDTO](t, get).Status)

	list := s.do(t, http.MethodGet, "/api/rooms/r1/bookings", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode[[]BookingDTO](t, list), 1)
}

func TestGetAvailability(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/rooms/r1/bookings", bookingBody(9, 10)).Code)

	// Date-only end is inclusive: the whole of the 10th.
	rec := s.do(t, http.MethodGet, "/api/rooms/r1/availability?start=2025-03-10&end=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a := decode[AvailabilityDTO](t, rec)
	assert.True(t, a.End.Equal(today.Add(24*time.Hour)))
	require.Len(t, a.Segments, 3)
	assert.Equal(t, "busy", a.Segments[1].Status)
	assert.True(t, a.Segments[1].Start.Equal(today.Add(9*time.Hour)))

	// Defaults cover today.
	def := decode[AvailabilityDTO](t, s.do(t, http.MethodGet, "/api/rooms/r1/availability", nil))
	assert.True(t, def.Start.Equal(today))
	assert.Len(t, def.Segments, 3)

	rfc := s.do(t, http.MethodGet, "/api/rooms/r1/availability?start=2025-03-10T09:30:00Z&end=2025-03-10T12:00:00Z", nil)
	require.Equal(t, http.StatusOK, rfc.Code)
	assert.Len(t, decode[AvailabilityDTO](t, rfc).Segments, 2)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/rooms/r1/availability?start=tomorrow", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/rooms/r1/availability?start=2025-03-11&end=2025-03-10", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/rooms/nope/availability", nil).Code)
}

// =============================================================================
// LEAVE
// =============================================================================

func TestLeaveLifecycle(t *testing.T) {
	// GIVEN: u1 holds 5 annual days
	// WHEN: Filing 3 days, approving, then filing 3 more days
	// THEN: 201, 200 with balance 3 used, then 422 insufficient balance

	s := newTestServer(t)

	created := s.do(t, http.MethodPost, "/api/leave-requests", CreateLeaveRequest{
		UserID: "u1", PolicyID: "annual", StartDate: "2025-03-10", EndDate: "2025-03-12",
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	lr := decode[LeaveRequestResponse](t, created).LeaveRequest
	assert.Equal(t, 3, lr.TotalDays)
	assert.Equal(t, "pending", lr.Status)

	approved := s.do(t, http.MethodPatch, "/api/leave-requests/"+lr.ID, DecideLeaveRequest{
		Status: "approved", ApproverID: "boss", Comment: "ok",
	})
	require.Equal(t, http.StatusOK, approved.Code, approved.Body.String())
	assert.Equal(t, "approved", decode[LeaveRequestResponse](t, approved).LeaveRequest.Status)

	bal := decode[BalanceDTO](t, s.do(t, http.MethodGet, "/api/users/u1/balances/annual", nil))
	assert.Equal(t, "3", bal.UsedDays)
	assert.Equal(t, "2", bal.RemainingDays)

	short := s.do(t, http.MethodPost, "/api/leave-requests", CreateLeaveRequest{
		UserID: "u1", PolicyID: "annual", StartDate: "2025-03-20", EndDate: "2025-03-22",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, short.Code)
	assert.Equal(t, "insufficient_balance", decode[ErrorResponse](t, short).Kind)

	overlap := s.do(t, http.MethodPost, "/api/leave-requests", CreateLeaveRequest{
		UserID: "u1", PolicyID: "annual", StartDate: "2025-03-12", EndDate: "2025-03-12",
	})
	assert.Equal(t, http.StatusConflict, overlap.Code)

	audit := decode[[]AuditEntryDTO](t, s.do(t, http.MethodGet, "/api/leave-requests/"+lr.ID+"/audit", nil))
	require.Len(t, audit, 2)
	assert.Equal(t, "ok", audit[1].Comment)

	list := s.do(t, http.MethodGet, "/api/users/u1/leave-requests?policy_id=annual", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode[[]LeaveRequestDTO](t, list), 1)

	got := s.do(t, http.MethodGet, "/api/leave-requests/"+lr.ID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "boss", *decode[LeaveRequestDTO](t, got).ApproverID)
}

func TestLeave_BadInput(t *testing.T) {
	s := newTestServer(t)

	badDate := s.do(t, http.MethodPost, "/api/leave-requests", CreateLeaveRequest{
		UserID: "u1", PolicyID: "annual", StartDate: "10/03/2025", EndDate: "2025-03-12",
	})
	assert.Equal(t, http.StatusBadRequest, badDate.Code)
	assert.Equal(t, "start_date", decode[ErrorResponse](t, badDate).Field)

	badDecision := s.do(t, http.MethodPatch, "/api/leave-requests/x", DecideLeaveRequest{Status: "maybe", ApproverID: "boss"})
	assert.Equal(t, http.StatusBadRequest, badDecision.Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/leave-requests/x", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/users/u1/balances/sick", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/users/u1/leave-requests", nil).Code)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestAbortedMapsTo503(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := &Handler{Log: logger}

	rec := httptest.NewRecorder()
	h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/x", nil),
		&generic.AbortedError{Op: "create_booking", Err: errors.New("database is locked")})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "aborted", resp.Kind)
	assert.Contains(t, resp.Details, "database is locked")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "request aborted", hook.LastEntry().Message)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)

	s.do(t, http.MethodPost, "/api/rooms/r1/bookings", bookingBody(9, 10))
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `reservation_attempts_total{op="create_booking",state="committed"} 1`)
}
