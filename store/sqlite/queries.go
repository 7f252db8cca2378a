package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/reservation-core/generic"
)

// conn implements generic.LedgerTx over a *sql.DB or *sql.Tx.
type conn struct {
	q querier
}

// =============================================================================
// ROOMS AND BLACKOUTS
// =============================================================================

func (c *conn) GetRoom(ctx context.Context, id generic.RoomID) (*generic.Room, error) {
	var (
		r         generic.Room
		active    bool
		createdAt string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT id, name, capacity, active, created_at FROM rooms WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.Capacity, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	r.Active = active
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *conn) SaveRoom(ctx context.Context, r generic.Room) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO rooms (id, name, capacity, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			capacity = excluded.capacity,
			active = excluded.active`,
		r.ID, r.Name, r.Capacity, r.Active, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

func (c *conn) SaveBlackout(ctx context.Context, w generic.BlackoutWindow) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO blackout_windows (id, room_id, start_time, end_time, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		w.ID, w.RoomID, formatTime(w.Start), formatTime(w.End), w.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to save blackout window: %w", err)
	}
	return nil
}

func (c *conn) Blackouts(ctx context.Context, roomID generic.RoomID, within generic.Interval) ([]generic.BlackoutWindow, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, room_id, start_time, end_time, reason
		FROM blackout_windows
		WHERE room_id = ? AND start_time < ? AND end_time > ?
		ORDER BY start_time ASC, id ASC`,
		roomID, formatTime(within.End), formatTime(within.Start),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query blackout windows: %w", err)
	}
	defer rows.Close()

	var out []generic.BlackoutWindow
	for rows.Next() {
		var (
			w          generic.BlackoutWindow
			start, end string
		)
		if err := rows.Scan(&w.ID, &w.RoomID, &start, &end, &w.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan blackout window: %w", err)
		}
		if w.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if w.End, err = parseTime(end); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, room_id, requester_id, start_time, end_time, status, idempotency_key, created_at, updated_at`

func (c *conn) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	return c.queryBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

func (c *conn) FindBookingByKey(ctx context.Context, roomID generic.RoomID, key string) (*generic.Booking, error) {
	return c.queryBooking(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE room_id = ? AND idempotency_key = ?`,
		roomID, key)
}

func (c *conn) ActiveBookings(ctx context.Context, roomID generic.RoomID, within generic.Interval) ([]generic.Booking, error) {
	// Overlap: start < within.End AND end > within.Start
	return c.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE room_id = ? AND status = 'approved'
		  AND start_time < ? AND end_time > ?
		ORDER BY start_time ASC, id ASC`,
		roomID, formatTime(within.End), formatTime(within.Start))
}

func (c *conn) Bookings(ctx context.Context, roomID generic.RoomID) ([]generic.Booking, error) {
	return c.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE room_id = ?
		ORDER BY start_time ASC, id ASC`, roomID)
}

func (c *conn) InsertBooking(ctx context.Context, b generic.Booking) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RoomID, b.RequesterID,
		formatTime(b.Start), formatTime(b.End),
		b.Status, b.IdempotencyKey,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (c *conn) UpdateBooking(ctx context.Context, b generic.Booking) error {
	res, err := c.q.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		b.Status, formatTime(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	return requireRow(res, "booking", string(b.ID))
}

func (c *conn) queryBooking(ctx context.Context, query string, args ...any) (*generic.Booking, error) {
	bs, err := c.queryBookings(ctx, query, args...)
	if err != nil || len(bs) == 0 {
		return nil, err
	}
	return &bs[0], nil
}

func (c *conn) queryBookings(ctx context.Context, query string, args ...any) ([]generic.Booking, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []generic.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(rows *sql.Rows) (generic.Booking, error) {
	var (
		b                                generic.Booking
		start, end, createdAt, updatedAt string
	)
	err := rows.Scan(&b.ID, &b.RoomID, &b.RequesterID, &start, &end,
		&b.Status, &b.IdempotencyKey, &createdAt, &updatedAt)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&b.Start, start}, {&b.End, end}, {&b.CreatedAt, createdAt}, {&b.UpdatedAt, updatedAt}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return b, err
		}
	}
	return b, nil
}

// =============================================================================
// LEAVE BALANCES AND REQUESTS
// =============================================================================

func (c *conn) GetBalance(ctx context.Context, userID generic.UserID, policyID generic.PolicyID) (*generic.LeaveBalance, error) {
	var (
		b         generic.LeaveBalance
		updatedAt string
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT user_id, policy_id, allocated_days, used_days, remaining_days, updated_at
		FROM leave_balances WHERE user_id = ? AND policy_id = ?`,
		userID, policyID,
	).Scan(&b.UserID, &b.PolicyID, &b.AllocatedDays, &b.UsedDays, &b.RemainingDays, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *conn) SaveBalance(ctx context.Context, b generic.LeaveBalance) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO leave_balances (user_id, policy_id, allocated_days, used_days, remaining_days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, policy_id) DO UPDATE SET
			allocated_days = excluded.allocated_days,
			used_days = excluded.used_days,
			remaining_days = excluded.remaining_days,
			updated_at = excluded.updated_at`,
		b.UserID, b.PolicyID,
		b.AllocatedDays.String(), b.UsedDays.String(), b.RemainingDays.String(),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

const leaveColumns = `id, user_id, policy_id, start_date, end_date, total_days, reason, status, approver_id, approved_at, created_at, updated_at`

func (c *conn) GetLeaveRequest(ctx context.Context, id generic.LeaveRequestID) (*generic.LeaveRequest, error) {
	rs, err := c.queryLeave(ctx, `SELECT `+leaveColumns+` FROM leave_requests WHERE id = ?`, id)
	if err != nil || len(rs) == 0 {
		return nil, err
	}
	return &rs[0], nil
}

func (c *conn) ActiveLeaveRequests(ctx context.Context, userID generic.UserID, within generic.Interval) ([]generic.LeaveRequest, error) {
	// Inclusive dates [start_date, end_date] overlap [within.Start, within.End)
	// when start_date <= last day of within AND end_date >= first day.
	lastDay := within.End.Add(-time.Nanosecond)
	return c.queryLeave(ctx, `
		SELECT `+leaveColumns+`
		FROM leave_requests
		WHERE user_id = ? AND status IN ('pending', 'approved')
		  AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC, id ASC`,
		userID, formatDate(lastDay), formatDate(within.Start))
}

func (c *conn) LeaveRequests(ctx context.Context, userID generic.UserID, policyID generic.PolicyID) ([]generic.LeaveRequest, error) {
	return c.queryLeave(ctx, `
		SELECT `+leaveColumns+`
		FROM leave_requests
		WHERE user_id = ? AND policy_id = ?
		ORDER BY start_date ASC, id ASC`, userID, policyID)
}

func (c *conn) InsertLeaveRequest(ctx context.Context, r generic.LeaveRequest) error {
	approver, approvedAt := decisionColumns(r)
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO leave_requests (`+leaveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.PolicyID,
		formatDate(r.StartDate), formatDate(r.EndDate), r.TotalDays,
		r.Reason, r.Status, approver, approvedAt,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert leave request: %w", err)
	}
	return nil
}

func (c *conn) UpdateLeaveRequest(ctx context.Context, r generic.LeaveRequest) error {
	approver, approvedAt := decisionColumns(r)
	res, err := c.q.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, approver_id = ?, approved_at = ?, updated_at = ?
		WHERE id = ?`,
		r.Status, approver, approvedAt, formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	return requireRow(res, "leave request", string(r.ID))
}

func decisionColumns(r generic.LeaveRequest) (sql.NullString, sql.NullString) {
	var approver, approvedAt sql.NullString
	if r.ApproverID != nil {
		approver = nullString(string(*r.ApproverID))
	}
	if r.ApprovedAt != nil {
		approvedAt = nullString(formatTime(*r.ApprovedAt))
	}
	return approver, approvedAt
}

func (c *conn) queryLeave(ctx context.Context, query string, args ...any) ([]generic.LeaveRequest, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	defer rows.Close()

	var out []generic.LeaveRequest
	for rows.Next() {
		r, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanLeave(rows *sql.Rows) (generic.LeaveRequest, error) {
	var (
		r                    generic.LeaveRequest
		startDate, endDate   string
		approver, approvedAt sql.NullString
		createdAt, updatedAt string
	)
	err := rows.Scan(&r.ID, &r.UserID, &r.PolicyID, &startDate, &endDate, &r.TotalDays,
		&r.Reason, &r.Status, &approver, &approvedAt, &createdAt, &updatedAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan leave request: %w", err)
	}
	if r.StartDate, err = generic.ParseDate(startDate); err != nil {
		return r, err
	}
	if r.EndDate, err = generic.ParseDate(endDate); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	if approver.Valid {
		id := generic.UserID(approver.String)
		r.ApproverID = &id
	}
	if approvedAt.Valid {
		t, err := parseTime(approvedAt.String)
		if err != nil {
			return r, err
		}
		r.ApprovedAt = &t
	}
	return r, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, commitment_kind, commitment_id, action, actor_id, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CommitmentKind, e.CommitmentID, e.Action, e.ActorID, e.Comment, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (c *conn) AuditEntries(ctx context.Context, kind generic.CommitmentKind, commitmentID string) ([]generic.AuditEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, commitment_kind, commitment_id, action, actor_id, comment, created_at
		FROM audit_entries
		WHERE commitment_kind = ? AND commitment_id = ?
		ORDER BY created_at ASC, rowid ASC`, kind, commitmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e         generic.AuditEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.CommitmentKind, &e.CommitmentID, &e.Action,
			&e.ActorID, &e.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}
