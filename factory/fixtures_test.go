package factory

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-core/generic"
	"github.com/warp/reservation-core/generic/store"
	"github.com/warp/reservation-core/leave"
	"github.com/warp/reservation-core/store/sqlite"
)

func newManager(t *testing.T, ledger generic.Ledger) *generic.Manager {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	mgr := generic.NewManager(ledger, nil)
	mgr.Log = logger
	return mgr
}

func forEachLedger(t *testing.T, fn func(t *testing.T, mgr *generic.Manager)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newManager(t, store.NewMemory()))
	})
	t.Run("sqlite", func(t *testing.T) {
		ledger, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { ledger.Close() })
		fn(t, newManager(t, ledger))
	})
}

func readBalance(t *testing.T, mgr *generic.Manager, user generic.UserID, policy generic.PolicyID) *generic.LeaveBalance {
	t.Helper()
	ctx := context.Background()
	var bal *generic.LeaveBalance
	require.NoError(t, mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		var err error
		bal, err = tx.GetBalance(ctx, user, policy)
		return err
	}))
	require.NotNil(t, bal)
	return bal
}

const seed = `
[[rooms]]
id = "r1"
name = "Boardroom"
capacity = 12

[[rooms]]
id = "r2"
name = "Storage"
active = false

[[blackouts]]
id = "w1"
room_id = "r1"
start = 2025-03-10T17:00:00Z
end = 2025-03-10T19:00:00Z
reason = "cleaning"

[[balances]]
user_id = "u1"
policy_id = "annual"
allocated_days = 20
used_days = 2.5
`

func TestParseFixtures(t *testing.T) {
	f, err := ParseFixtures(seed)

	require.NoError(t, err)
	assert.Len(t, f.Rooms, 2)
	require.Len(t, f.Blackouts, 1)
	assert.True(t, f.Blackouts[0].End.After(f.Blackouts[0].Start))
	assert.Equal(t, 2.5, f.Balances[0].UsedDays)
}

func TestParseFixtures_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "[[rooms]]\nid = \"r1\"\nname = \"x\"\nseats = 4\n",
		"missing name":     "[[rooms]]\nid = \"r1\"\n",
		"inverted window":  "[[blackouts]]\nroom_id = \"r1\"\nstart = 2025-03-10T19:00:00Z\nend = 2025-03-10T17:00:00Z\n",
		"overused balance": "[[balances]]\nuser_id = \"u1\"\npolicy_id = \"a\"\nallocated_days = 1\nused_days = 2\n",
		"duplicate balance": "[[balances]]\nuser_id = \"u1\"\npolicy_id = \"a\"\nallocated_days = 1\n" +
			"[[balances]]\nuser_id = \"u1\"\npolicy_id = \"a\"\nallocated_days = 2\n",
		"not toml": "[[rooms",
	}
	for name, doc := range cases {
		_, err := ParseFixtures(doc)
		assert.Error(t, err, name)
	}
}

func TestApply(t *testing.T) {
	// GIVEN: A fixture file with two rooms, a blackout and a balance
	// WHEN: Applying it twice
	// THEN: Records exist once, the used days are reflected in remaining

	forEachLedger(t, func(t *testing.T, mgr *generic.Manager) {
		f, err := ParseFixtures(seed)
		require.NoError(t, err)
		ctx := context.Background()
		now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

		sum, err := f.Apply(ctx, mgr, now)
		require.NoError(t, err)
		assert.Equal(t, Summary{Rooms: 2, Blackouts: 1, Balances: 1}, sum)
		_, err = f.Apply(ctx, mgr, now.Add(time.Hour))
		require.NoError(t, err)

		require.NoError(t, mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
			r1, err := tx.GetRoom(ctx, "r1")
			require.NoError(t, err)
			assert.True(t, r1.Active, "active defaults to true")
			assert.True(t, r1.CreatedAt.Equal(now), "re-seeding keeps the creation time")
			r2, err := tx.GetRoom(ctx, "r2")
			require.NoError(t, err)
			assert.False(t, r2.Active)

			windows, err := tx.Blackouts(ctx, "r1", generic.Interval{Start: now, End: now.AddDate(0, 1, 0)})
			require.NoError(t, err)
			assert.Len(t, windows, 1)
			return nil
		}))

		bal := readBalance(t, mgr, "u1", "annual")
		assert.Equal(t, "17.5", bal.RemainingDays.String())
		assert.True(t, bal.Balanced())
	})
}

func TestApply_ReseedKeepsConsumedDays(t *testing.T) {
	// GIVEN: u1 seeded with 10 annual days and an approved 5-day request
	// WHEN: Re-applying the same file, then raising and lowering the allocation
	// THEN: The consumed days survive every re-seed, remaining follows the
	//       allocation, and an allocation below the used days is rejected

	forEachLedger(t, func(t *testing.T, mgr *generic.Manager) {
		ctx := context.Background()
		doc := func(allocated string) *Fixtures {
			f, err := ParseFixtures("[[balances]]\nuser_id = \"u1\"\npolicy_id = \"annual\"\nallocated_days = " + allocated + "\n")
			require.NoError(t, err)
			return f
		}
		_, err := doc("10").Apply(ctx, mgr, time.Now())
		require.NoError(t, err)

		svc := leave.NewService(mgr)
		created, err := svc.CreateLeaveRequest(ctx, leave.CreateLeaveInput{
			UserID: "u1", PolicyID: "annual",
			StartDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		_, err = svc.DecideLeaveRequest(ctx, leave.DecideInput{ID: created.Value.ID, Decision: generic.LeaveApproved, ApproverID: "boss"})
		require.NoError(t, err)

		_, err = doc("10").Apply(ctx, mgr, time.Now())
		require.NoError(t, err)
		bal := readBalance(t, mgr, "u1", "annual")
		assert.Equal(t, "5", bal.UsedDays.String())
		assert.Equal(t, "5", bal.RemainingDays.String())

		_, err = doc("12").Apply(ctx, mgr, time.Now())
		require.NoError(t, err)
		bal = readBalance(t, mgr, "u1", "annual")
		assert.Equal(t, "5", bal.UsedDays.String())
		assert.Equal(t, "7", bal.RemainingDays.String())
		assert.True(t, bal.Balanced())

		_, err = doc("4").Apply(ctx, mgr, time.Now())
		var ve *generic.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "allocated_days", ve.Field)
		assert.Equal(t, "12", readBalance(t, mgr, "u1", "annual").AllocatedDays.String(), "a rejected seed changes nothing")
	})
}

func TestApply_BlackoutWithoutIDIsStable(t *testing.T) {
	forEachLedger(t, func(t *testing.T, mgr *generic.Manager) {
		f, err := ParseFixtures(`
[[rooms]]
id = "r1"
name = "Boardroom"

[[blackouts]]
room_id = "r1"
start = 2025-03-10T17:00:00Z
end = 2025-03-10T19:00:00Z

[[blackouts]]
room_id = "r1"
start = 2025-03-11T17:00:00Z
end = 2025-03-11T19:00:00Z
`)
		require.NoError(t, err)
		ctx := context.Background()

		_, err = f.Apply(ctx, mgr, time.Now())
		require.NoError(t, err)
		_, err = f.Apply(ctx, mgr, time.Now())
		require.NoError(t, err)

		require.NoError(t, mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
			windows, err := tx.Blackouts(ctx, "r1", generic.Interval{
				Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			require.Len(t, windows, 2)
			assert.NotEqual(t, windows[0].ID, windows[1].ID)
			return nil
		}))
	})
}

func TestApply_WaitsForResourceLocks(t *testing.T) {
	// GIVEN: A decision holding u1's leave lock
	// WHEN: Seeding u1's balance with a short lock timeout
	// THEN: Apply aborts on the lock and writes nothing

	mgr := newManager(t, store.NewMemory())
	mgr.LockTimeout = 20 * time.Millisecond
	ctx := context.Background()
	held, err := mgr.Locks.Acquire(ctx, generic.LeaveKey("u1"))
	require.NoError(t, err)
	defer held.Release(ctx)

	f, err := ParseFixtures("[[balances]]\nuser_id = \"u1\"\npolicy_id = \"annual\"\nallocated_days = 10\n")
	require.NoError(t, err)

	_, err = f.Apply(ctx, mgr, time.Now())

	require.ErrorIs(t, err, generic.ErrAborted)
	assert.ErrorIs(t, err, generic.ErrLockTimeout)
	require.NoError(t, mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		bal, err := tx.GetBalance(ctx, "u1", "annual")
		require.NoError(t, err)
		assert.Nil(t, bal)
		return nil
	}))
}

func TestApply_UnknownRoomRollsBack(t *testing.T) {
	f, err := ParseFixtures(`
[[rooms]]
id = "r1"
name = "Boardroom"

[[blackouts]]
room_id = "ghost"
start = 2025-03-10T17:00:00Z
end = 2025-03-10T19:00:00Z
`)
	require.NoError(t, err)
	mgr := newManager(t, store.NewMemory())
	ctx := context.Background()

	_, err = f.Apply(ctx, mgr, time.Now())
	require.ErrorIs(t, err, generic.ErrNotFound)

	require.NoError(t, mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		r, err := tx.GetRoom(ctx, "r1")
		require.NoError(t, err)
		assert.Nil(t, r, "nothing is written when one record fails")
		assert.Zero(t, mgr.Locks.(*generic.KeyedLocker).Len(), "locks are released")
		return nil
	}))
}
