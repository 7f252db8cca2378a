// Package store provides Ledger implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/reservation-core/generic"
)

// =============================================================================
// MEMORY LEDGER - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	memoryState
}

type memoryState struct {
	rooms     map[generic.RoomID]generic.Room
	blackouts map[generic.BlackoutID]generic.BlackoutWindow
	bookings  map[generic.BookingID]generic.Booking
	bookingBy map[bookingKey]generic.BookingID
	balances  map[balanceKey]generic.LeaveBalance
	requests  map[generic.LeaveRequestID]generic.LeaveRequest
	audit     []generic.AuditEntry
}

type bookingKey struct {
	RoomID generic.RoomID
	Key    string
}

type balanceKey struct {
	UserID   generic.UserID
	PolicyID generic.PolicyID
}

var _ generic.Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{memoryState: memoryState{
		rooms:     make(map[generic.RoomID]generic.Room),
		blackouts: make(map[generic.BlackoutID]generic.BlackoutWindow),
		bookings:  make(map[generic.BookingID]generic.Booking),
		bookingBy: make(map[bookingKey]generic.BookingID),
		balances:  make(map[balanceKey]generic.LeaveBalance),
		requests:  make(map[generic.LeaveRequestID]generic.LeaveRequest),
	}}
}

// WithTx executes fn within a transaction.
// For the memory ledger this is simulated with a snapshot + rollback on
// error. Transactions are fully serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&memoryTx{state: &m.memoryState}); err != nil {
		m.memoryState = snapshot
		return err
	}
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(generic.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{state: &m.memoryState})
}

func (m *Memory) snapshot() memoryState {
	s := memoryState{
		rooms:     make(map[generic.RoomID]generic.Room, len(m.rooms)),
		blackouts: make(map[generic.BlackoutID]generic.BlackoutWindow, len(m.blackouts)),
		bookings:  make(map[generic.BookingID]generic.Booking, len(m.bookings)),
		bookingBy: make(map[bookingKey]generic.BookingID, len(m.bookingBy)),
		balances:  make(map[balanceKey]generic.LeaveBalance, len(m.balances)),
		requests:  make(map[generic.LeaveRequestID]generic.LeaveRequest, len(m.requests)),
		audit:     append([]generic.AuditEntry{}, m.audit...),
	}
	for k, v := range m.rooms {
		s.rooms[k] = v
	}
	for k, v := range m.blackouts {
		s.blackouts[k] = v
	}
	for k, v := range m.bookings {
		s.bookings[k] = v
	}
	for k, v := range m.bookingBy {
		s.bookingBy[k] = v
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.requests {
		s.requests[k] = v
	}
	return s
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// memoryTx operates on state directly; the caller holds the lock.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetRoom(_ context.Context, id generic.RoomID) (*generic.Room, error) {
	r, ok := t.state.rooms[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memoryTx) GetBooking(_ context.Context, id generic.BookingID) (*generic.Booking, error) {
	b, ok := t.state.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *memoryTx) FindBookingByKey(ctx context.Context, roomID generic.RoomID, key string) (*generic.Booking, error) {
	id, ok := t.state.bookingBy[bookingKey{RoomID: roomID, Key: key}]
	if !ok {
		return nil, nil
	}
	return t.GetBooking(ctx, id)
}

func (t *memoryTx) ActiveBookings(_ context.Context, roomID generic.RoomID, within generic.Interval) ([]generic.Booking, error) {
	var out []generic.Booking
	for _, b := range t.state.bookings {
		if b.RoomID == roomID && b.Status.Active() && b.Interval().Overlaps(within) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (t *memoryTx) Bookings(_ context.Context, roomID generic.RoomID) ([]generic.Booking, error) {
	var out []generic.Booking
	for _, b := range t.state.bookings {
		if b.RoomID == roomID {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (t *memoryTx) Blackouts(_ context.Context, roomID generic.RoomID, within generic.Interval) ([]generic.BlackoutWindow, error) {
	var out []generic.BlackoutWindow
	for _, w := range t.state.blackouts {
		if w.RoomID == roomID && w.Interval().Overlaps(within) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (t *memoryTx) GetBalance(_ context.Context, userID generic.UserID, policyID generic.PolicyID) (*generic.LeaveBalance, error) {
	b, ok := t.state.balances[balanceKey{UserID: userID, PolicyID: policyID}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *memoryTx) GetLeaveRequest(_ context.Context, id generic.LeaveRequestID) (*generic.LeaveRequest, error) {
	r, ok := t.state.requests[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memoryTx) ActiveLeaveRequests(_ context.Context, userID generic.UserID, within generic.Interval) ([]generic.LeaveRequest, error) {
	var out []generic.LeaveRequest
	for _, r := range t.state.requests {
		if r.UserID == userID && r.Status.Active() && r.Interval().Overlaps(within) {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (t *memoryTx) LeaveRequests(_ context.Context, userID generic.UserID, policyID generic.PolicyID) ([]generic.LeaveRequest, error) {
	var out []generic.LeaveRequest
	for _, r := range t.state.requests {
		if r.UserID == userID && r.PolicyID == policyID {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (t *memoryTx) AuditEntries(_ context.Context, kind generic.CommitmentKind, commitmentID string) ([]generic.AuditEntry, error) {
	var out []generic.AuditEntry
	for _, e := range t.state.audit {
		if e.CommitmentKind == kind && e.CommitmentID == commitmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memoryTx) SaveRoom(_ context.Context, room generic.Room) error {
	t.state.rooms[room.ID] = room
	return nil
}

func (t *memoryTx) SaveBlackout(_ context.Context, w generic.BlackoutWindow) error {
	t.state.blackouts[w.ID] = w
	return nil
}

func (t *memoryTx) SaveBalance(_ context.Context, b generic.LeaveBalance) error {
	t.state.balances[balanceKey{UserID: b.UserID, PolicyID: b.PolicyID}] = b
	return nil
}

func (t *memoryTx) InsertBooking(_ context.Context, b generic.Booking) error {
	k := bookingKey{RoomID: b.RoomID, Key: b.IdempotencyKey}
	if _, dup := t.state.bookingBy[k]; dup {
		return generic.ErrDuplicateIdempotencyKey
	}
	t.state.bookings[b.ID] = b
	t.state.bookingBy[k] = b.ID
	return nil
}

func (t *memoryTx) UpdateBooking(_ context.Context, b generic.Booking) error {
	if _, ok := t.state.bookings[b.ID]; !ok {
		return &generic.NotFoundError{Resource: "booking", ID: string(b.ID)}
	}
	t.state.bookings[b.ID] = b
	return nil
}

func (t *memoryTx) InsertLeaveRequest(_ context.Context, r generic.LeaveRequest) error {
	t.state.requests[r.ID] = r
	return nil
}

func (t *memoryTx) UpdateLeaveRequest(_ context.Context, r generic.LeaveRequest) error {
	if _, ok := t.state.requests[r.ID]; !ok {
		return &generic.NotFoundError{Resource: "leave request", ID: string(r.ID)}
	}
	t.state.requests[r.ID] = r
	return nil
}

func (t *memoryTx) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	t.state.audit = append(t.state.audit, e)
	return nil
}

func sortBookings(bs []generic.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Start.Equal(bs[j].Start) {
			return bs[i].ID < bs[j].ID
		}
		return bs[i].Start.Before(bs[j].Start)
	})
}

func sortRequests(rs []generic.LeaveRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].StartDate.Equal(rs[j].StartDate) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].StartDate.Before(rs[j].StartDate)
	})
}
