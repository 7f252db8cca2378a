package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-core/generic"
	"github.com/warp/reservation-core/generic/store"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func booking(id, key string, start, end time.Time) generic.Booking {
	return generic.Booking{
		ID:             generic.BookingID(id),
		RoomID:         "r1",
		RequesterID:    "u1",
		Start:          start,
		End:            end,
		Status:         generic.BookingApproved,
		IdempotencyKey: key,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a room and a booking, then fails
	// WHEN: The transaction returns an error
	// THEN: Neither write is visible afterwards

	m := store.NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx generic.LedgerTx) error {
		require.NoError(t, tx.SaveRoom(ctx, generic.Room{ID: "r1", Active: true}))
		require.NoError(t, tx.InsertBooking(ctx, booking("b1", "k1", t0, t0.Add(time.Hour))))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = m.View(ctx, func(tx generic.ReadTx) error {
		room, err := tx.GetRoom(ctx, "r1")
		require.NoError(t, err)
		assert.Nil(t, room)
		b, err := tx.FindBookingByKey(ctx, "r1", "k1")
		require.NoError(t, err)
		assert.Nil(t, b)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_InsertBooking_DuplicateKeyPerRoom(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx generic.LedgerTx) error {
		require.NoError(t, tx.InsertBooking(ctx, booking("b1", "k1", t0, t0.Add(time.Hour))))

		err := tx.InsertBooking(ctx, booking("b2", "k1", t0.Add(2*time.Hour), t0.Add(3*time.Hour)))
		assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

		other := booking("b3", "k1", t0, t0.Add(time.Hour))
		other.RoomID = "r2"
		assert.NoError(t, tx.InsertBooking(ctx, other), "the same key on another room is a different request")
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_ActiveBookings_HalfOpenAndApprovedOnly(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, func(tx generic.LedgerTx) error {
		require.NoError(t, tx.InsertBooking(ctx, booking("b1", "k1", t0, t0.Add(time.Hour))))
		cancelled := booking("b2", "k2", t0.Add(time.Hour), t0.Add(2*time.Hour))
		cancelled.Status = generic.BookingCancelled
		require.NoError(t, tx.InsertBooking(ctx, cancelled))
		return nil
	}))

	require.NoError(t, m.View(ctx, func(tx generic.ReadTx) error {
		adjacent := generic.Interval{Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour)}
		got, err := tx.ActiveBookings(ctx, "r1", adjacent)
		require.NoError(t, err)
		assert.Empty(t, got)

		all, err := tx.Bookings(ctx, "r1")
		require.NoError(t, err)
		assert.Len(t, all, 2)
		return nil
	}))
}

func TestMemory_UpdateMissingRow(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx generic.LedgerTx) error {
		return tx.UpdateBooking(ctx, booking("missing", "k", t0, t0.Add(time.Hour)))
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestMemory_CancelledContext(t *testing.T) {
	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.WithTx(ctx, func(generic.LedgerTx) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
