package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-core/generic"
)

type window struct {
	Owner    string    `json:"owner_id" validate:"required"`
	Kind     string    `json:"kind" validate:"oneof=room desk"`
	From     time.Time `json:"from" validate:"required"`
	Until    time.Time `json:"until" validate:"required,gtfield=From"`
	Capacity int       `json:"capacity" validate:"min=1"`
}

func validWindow() window {
	return window{Owner: "u1", Kind: "room", From: at(9, 0), Until: at(10, 0), Capacity: 4}
}

func TestValidateStruct_ReportsWireNames(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*window)
		field   string
		message string
	}{
		{"required", func(w *window) { w.Owner = "" }, "owner_id", "is required"},
		{"oneof", func(w *window) { w.Kind = "car" }, "kind", "must be one of: room desk"},
		{"gtfield", func(w *window) { w.Until = w.From }, "until", "must be after from"},
		{"min", func(w *window) { w.Capacity = 0 }, "capacity", "must be at least 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := validWindow()
			tc.mutate(&w)

			err := generic.ValidateStruct(w)

			var ve *generic.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
			assert.Equal(t, tc.message, ve.Message)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	assert.NoError(t, generic.ValidateStruct(validWindow()))
}

func TestTransitions(t *testing.T) {
	assert.True(t, generic.BookingTransitions.Allows(generic.BookingApproved, generic.BookingCancelled))
	assert.False(t, generic.BookingTransitions.Allows(generic.BookingCancelled, generic.BookingApproved))
	assert.True(t, generic.BookingTransitions.IsTerminal(generic.BookingCancelled))

	assert.True(t, generic.LeaveTransitions.Allows(generic.LeavePending, generic.LeaveRejected))
	assert.True(t, generic.LeaveTransitions.Allows(generic.LeaveApproved, generic.LeaveCancelled))
	assert.False(t, generic.LeaveTransitions.Allows(generic.LeaveApproved, generic.LeaveRejected))
	assert.False(t, generic.LeaveTransitions.Allows(generic.LeaveRejected, generic.LeaveApproved))
	assert.True(t, generic.LeaveTransitions.IsTerminal(generic.LeaveCancelled))
	assert.False(t, generic.LeaveTransitions.IsTerminal(generic.LeavePending))
}

func TestNormalizeIdempotencyKey(t *testing.T) {
	assert.Equal(t, "abc", generic.NormalizeIdempotencyKey("  abc \n"))

	long := make([]rune, 150)
	for i := range long {
		long[i] = 'é'
	}
	got := generic.NormalizeIdempotencyKey(string(long))
	assert.Equal(t, generic.MaxIdempotencyKeyLength, len([]rune(got)))

	a := generic.NormalizeIdempotencyKey("")
	b := generic.NormalizeIdempotencyKey("   ")
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b, "empty keys never collide")
}

func TestLeaveBalance_ConsumeRestoreConserves(t *testing.T) {
	now := at(9, 0)
	bal := generic.NewLeaveBalance("u1", "annual", decimalDays(20), now)

	bal = bal.Consume(decimalDays(5), now)
	assert.True(t, bal.Balanced())
	assert.True(t, bal.RemainingDays.Equal(decimalDays(15)))

	bal = bal.Restore(decimalDays(5), now)
	assert.True(t, bal.Balanced())
	assert.True(t, bal.UsedDays.IsZero())
}
