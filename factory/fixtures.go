/*
Package factory converts TOML fixture files into ledger records.

PURPOSE:
  Rooms, blackout windows and leave balances are created outside the
  reservation core. This package is the operator path for seeding them:
  `server seed --fixtures seed.toml` parses a fixture file and writes every
  record in one transaction.

TOML SCHEMA:
  [[rooms]]
  id = "r1"
  name = "Boardroom"
  capacity = 12
  active = true            # optional, default true

  [[blackouts]]
  id = "b1"                # optional, derived from room and window when empty
  room_id = "r1"
  start = 2025-01-01T00:00:00Z
  end = 2025-01-02T00:00:00Z
  reason = "maintenance"

  [[balances]]
  user_id = "u1"
  policy_id = "annual"
  allocated_days = 20
  used_days = 0            # optional, only seeds a new balance

KEY FEATURES:
  - Validates every record before touching the ledger
  - Repeatable: existing balances keep their consumed days
  - Holds the room and user locks while writing
  - All-or-nothing: one bad record leaves the ledger untouched

SEE ALSO:
  - generic/store.go: SaveRoom, SaveBlackout, SaveBalance
  - cmd/server/seed.go: CLI entry point
*/
package factory

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/reservation-core/generic"
)

// =============================================================================
// TOML SCHEMA TYPES
// =============================================================================

type Fixtures struct {
	Rooms     []RoomFixture     `toml:"rooms"`
	Blackouts []BlackoutFixture `toml:"blackouts"`
	Balances  []BalanceFixture  `toml:"balances"`
}

type RoomFixture struct {
	ID       string `toml:"id" json:"id" validate:"required"`
	Name     string `toml:"name" json:"name" validate:"required"`
	Capacity int    `toml:"capacity" json:"capacity" validate:"min=0"`
	Active   *bool  `toml:"active" json:"active"`
}

type BlackoutFixture struct {
	ID     string    `toml:"id" json:"id"`
	RoomID string    `toml:"room_id" json:"room_id" validate:"required"`
	Start  time.Time `toml:"start" json:"start" validate:"required"`
	End    time.Time `toml:"end" json:"end" validate:"required,gtfield=Start"`
	Reason string    `toml:"reason" json:"reason"`
}

type BalanceFixture struct {
	UserID        string  `toml:"user_id" json:"user_id" validate:"required"`
	PolicyID      string  `toml:"policy_id" json:"policy_id" validate:"required"`
	AllocatedDays float64 `toml:"allocated_days" json:"allocated_days" validate:"min=0"`
	UsedDays      float64 `toml:"used_days" json:"used_days" validate:"min=0,ltefield=AllocatedDays"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseFixtures decodes and validates a TOML fixture document.
func ParseFixtures(data string) (*Fixtures, error) {
	var f Fixtures
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("invalid fixtures: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("invalid fixtures: unknown key %q", undecoded[0].String())
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFixtures reads and parses a fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseFixtures(string(data))
}

// Validate checks each record and rejects duplicate balances. Whether a
// blackout's room exists is checked by Apply against the ledger.
func (f *Fixtures) Validate() error {
	for i, r := range f.Rooms {
		if err := generic.ValidateStruct(r); err != nil {
			return fmt.Errorf("rooms[%d]: %w", i, err)
		}
	}
	for i, b := range f.Blackouts {
		if err := generic.ValidateStruct(b); err != nil {
			return fmt.Errorf("blackouts[%d]: %w", i, err)
		}
	}
	seen := make(map[string]bool, len(f.Balances))
	for i, b := range f.Balances {
		if err := generic.ValidateStruct(b); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		k := b.UserID + "/" + b.PolicyID
		if seen[k] {
			return fmt.Errorf("balances[%d]: duplicate balance %s", i, k)
		}
		seen[k] = true
	}
	return nil
}

// =============================================================================
// APPLY
// =============================================================================

// Summary counts what Apply wrote.
type Summary struct {
	Rooms     int
	Blackouts int
	Balances  int
}

// Apply writes every fixture into mgr's ledger in a single transaction. It
// holds the lock of every room and user it touches for the whole
// transaction, so it never interleaves with a booking or a leave decision.
//
// Re-applying a file is safe. Rooms are upserted and keep their creation
// time. Blackouts are insert-only. An existing balance keeps the days its
// approved requests consumed: only the allocation is replaced, and an
// allocation below those days is rejected.
func (f *Fixtures) Apply(ctx context.Context, mgr *generic.Manager, now time.Time) (Summary, error) {
	var sum Summary
	now = now.UTC()

	release, err := mgr.LockAll(ctx, "apply_fixtures", f.resourceKeys())
	if err != nil {
		return Summary{}, err
	}
	defer release()

	err = mgr.Ledger.WithTx(ctx, func(tx generic.LedgerTx) error {
		for _, r := range f.Rooms {
			active := true
			if r.Active != nil {
				active = *r.Active
			}
			room := generic.Room{
				ID:        generic.RoomID(r.ID),
				Name:      r.Name,
				Capacity:  r.Capacity,
				Active:    active,
				CreatedAt: now,
			}
			existing, err := tx.GetRoom(ctx, room.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				room.CreatedAt = existing.CreatedAt
			}
			if err := tx.SaveRoom(ctx, room); err != nil {
				return err
			}
			sum.Rooms++
		}

		for _, b := range f.Blackouts {
			room, err := tx.GetRoom(ctx, generic.RoomID(b.RoomID))
			if err != nil {
				return err
			}
			if room == nil {
				return &generic.NotFoundError{Resource: "room", ID: b.RoomID}
			}
			w := generic.BlackoutWindow{
				ID:     b.blackoutID(),
				RoomID: generic.RoomID(b.RoomID),
				Start:  b.Start.UTC(),
				End:    b.End.UTC(),
				Reason: b.Reason,
			}
			if err := tx.SaveBlackout(ctx, w); err != nil {
				return err
			}
			sum.Blackouts++
		}

		for i, b := range f.Balances {
			bal, err := b.balance(ctx, tx, now)
			if err != nil {
				return fmt.Errorf("balances[%d]: %w", i, err)
			}
			if err := tx.SaveBalance(ctx, bal); err != nil {
				return err
			}
			sum.Balances++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// resourceKeys lists the lock of every room and user the fixtures write.
func (f *Fixtures) resourceKeys() []generic.ResourceKey {
	var keys []generic.ResourceKey
	for _, r := range f.Rooms {
		keys = append(keys, generic.RoomKey(generic.RoomID(r.ID)))
	}
	for _, b := range f.Blackouts {
		keys = append(keys, generic.RoomKey(generic.RoomID(b.RoomID)))
	}
	for _, b := range f.Balances {
		keys = append(keys, generic.LeaveKey(generic.UserID(b.UserID)))
	}
	return keys
}

// blackoutID returns the fixture's id, or one derived from the room and the
// window so that re-seeding finds the same row.
func (b BlackoutFixture) blackoutID() generic.BlackoutID {
	if b.ID != "" {
		return generic.BlackoutID(b.ID)
	}
	name := b.RoomID + "|" + b.Start.UTC().Format(time.RFC3339Nano) + "|" + b.End.UTC().Format(time.RFC3339Nano)
	return generic.BlackoutID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String())
}

// balance builds the row to save. used_days only seeds a new balance; an
// existing one keeps what approvals consumed.
func (b BalanceFixture) balance(ctx context.Context, tx generic.ReadTx, now time.Time) (generic.LeaveBalance, error) {
	userID, policyID := generic.UserID(b.UserID), generic.PolicyID(b.PolicyID)
	allocated := decimal.NewFromFloat(b.AllocatedDays)

	existing, err := tx.GetBalance(ctx, userID, policyID)
	if err != nil {
		return generic.LeaveBalance{}, err
	}
	if existing == nil {
		bal := generic.NewLeaveBalance(userID, policyID, allocated, now)
		if b.UsedDays > 0 {
			bal = bal.Consume(decimal.NewFromFloat(b.UsedDays), now)
		}
		return bal, nil
	}
	if allocated.LessThan(existing.UsedDays) {
		return generic.LeaveBalance{}, &generic.ValidationError{
			Field:   "allocated_days",
			Message: fmt.Sprintf("must be at least the %s days already used", existing.UsedDays),
		}
	}
	return existing.Reallocate(allocated, now), nil
}
