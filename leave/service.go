/*
Package leave implements leave requests against per-policy balances.

PURPOSE:
  A leave request claims whole calendar days [start_date, end_date] for a
  user under a policy. Requests are created pending and decided later by an
  approver. Pending and approved requests of a user must not overlap, and
  approval must not drive the balance negative.

LOCKING:
  Every mutation locks the user (generic.LeaveKey), not the balance row, so
  both the overlap check and the balance check run under the same lock.

BALANCE MOVEMENTS:
  pending  -> approved:  used += total_days, remaining -= total_days
  approved -> cancelled: used -= total_days, remaining += total_days
  Creating, rejecting or cancelling a pending request does not touch the
  balance.

SEE ALSO:
  - generic/status.go: LeaveTransitions
  - generic/manager.go: Run
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/reservation-core/generic"
)

type Service struct {
	mgr *generic.Manager
}

func NewService(mgr *generic.Manager) *Service {
	return &Service{mgr: mgr}
}

// =============================================================================
// CREATE
// =============================================================================

type CreateLeaveInput struct {
	UserID    generic.UserID   `json:"user_id" validate:"required"`
	PolicyID  generic.PolicyID `json:"policy_id" validate:"required"`
	StartDate time.Time        `json:"start_date" validate:"required"`
	EndDate   time.Time        `json:"end_date" validate:"required,gtefield=StartDate"`
	Reason    string           `json:"reason"`
}

// CreateLeaveRequest files a pending request. The balance must exist and
// hold at least the requested days, and no pending or approved request of
// the user may overlap the dates.
func (s *Service) CreateLeaveRequest(ctx context.Context, in CreateLeaveInput) (generic.Result[generic.LeaveRequest], error) {
	in.StartDate, in.EndDate = generic.DateOf(in.StartDate), generic.DateOf(in.EndDate)
	days := generic.DaysInclusive(in.StartDate, in.EndDate)
	resource := generic.LeaveKey(in.UserID)

	return generic.Run(ctx, s.mgr, generic.Attempt[generic.LeaveRequest]{
		Op:       "create_leave_request",
		Resource: resource,
		Validate: func() error {
			if err := generic.ValidateStruct(in); err != nil {
				return err
			}
			if days < 1 {
				return &generic.ValidationError{Field: "end_date", Message: "must not be before start_date"}
			}
			return nil
		},
		Check: func(ctx context.Context, tx generic.ReadTx) error {
			bal, err := loadBalance(ctx, tx, in.UserID, in.PolicyID)
			if err != nil {
				return err
			}
			if err := checkRemaining(bal, days); err != nil {
				return err
			}
			return checkOverlap(ctx, tx, resource, in.UserID, generic.DateSpan(in.StartDate, in.EndDate), "")
		},
		Apply: func(ctx context.Context, tx generic.LedgerTx) (generic.Effect[generic.LeaveRequest], error) {
			now := s.mgr.Clock()
			r := generic.LeaveRequest{
				ID:        generic.LeaveRequestID(generic.NewID()),
				UserID:    in.UserID,
				PolicyID:  in.PolicyID,
				StartDate: in.StartDate,
				EndDate:   in.EndDate,
				TotalDays: days,
				Reason:    in.Reason,
				Status:    generic.LeavePending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertLeaveRequest(ctx, r); err != nil {
				return generic.Effect[generic.LeaveRequest]{}, err
			}
			return generic.Effect[generic.LeaveRequest]{
				Value: &r,
				Audit: &generic.AuditRecord{
					Kind:         generic.CommitmentLeaveRequest,
					CommitmentID: string(r.ID),
					Action:       generic.AuditPending,
					ActorID:      in.UserID,
				},
			}, nil
		},
	})
}

// =============================================================================
// DECIDE
// =============================================================================

type DecideInput struct {
	ID         generic.LeaveRequestID `json:"id" validate:"required"`
	Decision   generic.LeaveStatus    `json:"decision" validate:"required,oneof=approved rejected cancelled"`
	ApproverID generic.UserID         `json:"approver_id" validate:"required"`
	Comment    string                 `json:"comment"`
}

// DecideLeaveRequest approves, rejects or cancels a request.
//
// A decision equal to the current status is a no-op success (Result.Noop,
// no audit entry). A move the transition table forbids is an
// InvalidTransitionError. Approval re-checks the balance and the overlap
// rule because the request may have been pending for a while.
func (s *Service) DecideLeaveRequest(ctx context.Context, in DecideInput) (generic.Result[generic.LeaveRequest], error) {
	var (
		current *generic.LeaveRequest
		balance *generic.LeaveBalance
		noop    bool
	)

	return generic.Run(ctx, s.mgr, generic.Attempt[generic.LeaveRequest]{
		Op:       "decide_leave_request",
		Validate: func() error { return generic.ValidateStruct(in) },
		Locate: func(ctx context.Context, tx generic.ReadTx) (generic.ResourceKey, error) {
			r, err := loadRequest(ctx, tx, in.ID)
			if err != nil {
				return "", err
			}
			return generic.LeaveKey(r.UserID), nil
		},
		Check: func(ctx context.Context, tx generic.ReadTx) error {
			r, err := loadRequest(ctx, tx, in.ID)
			if err != nil {
				return err
			}
			current = r

			if r.Status == in.Decision {
				noop = true
				return nil
			}
			if !generic.LeaveTransitions.Allows(r.Status, in.Decision) {
				return &generic.InvalidTransitionError{
					Kind: generic.CommitmentLeaveRequest, From: string(r.Status), To: string(in.Decision),
				}
			}

			switch {
			case in.Decision == generic.LeaveApproved:
				bal, err := loadBalance(ctx, tx, r.UserID, r.PolicyID)
				if err != nil {
					return err
				}
				if err := checkRemaining(bal, r.TotalDays); err != nil {
					return err
				}
				if err := checkOverlap(ctx, tx, generic.LeaveKey(r.UserID), r.UserID, r.Interval(), r.ID); err != nil {
					return err
				}
				balance = bal
			case r.Status == generic.LeaveApproved && in.Decision == generic.LeaveCancelled:
				bal, err := loadBalance(ctx, tx, r.UserID, r.PolicyID)
				if err != nil {
					return err
				}
				balance = bal
			}
			return nil
		},
		Apply: func(ctx context.Context, tx generic.LedgerTx) (generic.Effect[generic.LeaveRequest], error) {
			r := *current
			if noop {
				return generic.Effect[generic.LeaveRequest]{Value: &r}, nil
			}

			now := s.mgr.Clock()
			if balance != nil {
				var next generic.LeaveBalance
				if in.Decision == generic.LeaveApproved {
					next = balance.Consume(r.Days(), now)
				} else {
					next = balance.Restore(r.Days(), now)
				}
				if err := tx.SaveBalance(ctx, next); err != nil {
					return generic.Effect[generic.LeaveRequest]{}, err
				}
			}

			previous := r.Status
			r.Status = in.Decision
			r.UpdatedAt = now
			if in.Decision == generic.LeaveApproved || in.Decision == generic.LeaveRejected {
				approver := in.ApproverID
				r.ApproverID = &approver
			}
			if in.Decision == generic.LeaveApproved {
				r.ApprovedAt = &now
			}
			if err := tx.UpdateLeaveRequest(ctx, r); err != nil {
				return generic.Effect[generic.LeaveRequest]{}, err
			}

			s.mgr.Logger().WithFields(logrus.Fields{
				"leave_request_id": string(r.ID),
				"from":             string(previous),
				"to":               string(r.Status),
			}).Debug("leave request decided")

			return generic.Effect[generic.LeaveRequest]{
				Value: &r,
				Audit: &generic.AuditRecord{
					Kind:         generic.CommitmentLeaveRequest,
					CommitmentID: string(r.ID),
					Action:       generic.AuditAction(in.Decision),
					ActorID:      in.ApproverID,
					Comment:      in.Comment,
				},
			}, nil
		},
	})
}

// =============================================================================
// CHECKS
// =============================================================================

func loadRequest(ctx context.Context, tx generic.ReadTx, id generic.LeaveRequestID) (*generic.LeaveRequest, error) {
	r, err := tx.GetLeaveRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &generic.NotFoundError{Resource: "leave request", ID: string(id)}
	}
	return r, nil
}

func loadBalance(ctx context.Context, tx generic.ReadTx, userID generic.UserID, policyID generic.PolicyID) (*generic.LeaveBalance, error) {
	bal, err := tx.GetBalance(ctx, userID, policyID)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return nil, &generic.NotFoundError{
			Resource: "leave balance",
			ID:       fmt.Sprintf("%s/%s", userID, policyID),
		}
	}
	return bal, nil
}

func checkRemaining(bal *generic.LeaveBalance, days int) error {
	requested := generic.LeaveRequest{TotalDays: days}.Days()
	if requested.GreaterThan(bal.RemainingDays) {
		return &generic.InsufficientBalanceError{
			UserID:    bal.UserID,
			PolicyID:  bal.PolicyID,
			Remaining: bal.RemainingDays,
			Requested: requested,
		}
	}
	return nil
}

// checkOverlap rejects when any pending or approved request of userID other
// than self overlaps span.
func checkOverlap(ctx context.Context, tx generic.ReadTx, resource generic.ResourceKey, userID generic.UserID, span generic.Interval, self generic.LeaveRequestID) error {
	active, err := tx.ActiveLeaveRequests(ctx, userID, span)
	if err != nil {
		return err
	}
	for _, other := range active {
		if other.ID == self {
			continue
		}
		if generic.Overlaps(other.Interval(), span) {
			return &generic.ConflictError{
				Resource:      resource,
				Reason:        generic.ConflictLeaveOverlap,
				ConflictingID: string(other.ID),
				Requested:     span,
			}
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetLeaveRequest(ctx context.Context, id generic.LeaveRequestID) (*generic.LeaveRequest, error) {
	var out *generic.LeaveRequest
	err := s.mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		r, err := loadRequest(ctx, tx, id)
		out = r
		return err
	})
	if err != nil {
		return nil, generic.ReadError("get_leave_request", err)
	}
	return out, nil
}

// Balance returns the current balance of userID under policyID.
func (s *Service) Balance(ctx context.Context, userID generic.UserID, policyID generic.PolicyID) (*generic.LeaveBalance, error) {
	var out *generic.LeaveBalance
	err := s.mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		b, err := loadBalance(ctx, tx, userID, policyID)
		out = b
		return err
	})
	if err != nil {
		return nil, generic.ReadError("get_balance", err)
	}
	return out, nil
}

// Requests lists every request of userID under policyID, any status.
func (s *Service) Requests(ctx context.Context, userID generic.UserID, policyID generic.PolicyID) ([]generic.LeaveRequest, error) {
	var out []generic.LeaveRequest
	err := s.mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		var err error
		out, err = tx.LeaveRequests(ctx, userID, policyID)
		return err
	})
	if err != nil {
		return nil, generic.ReadError("list_leave_requests", err)
	}
	return out, nil
}

// AuditTrail returns the transitions of a leave request, oldest first.
func (s *Service) AuditTrail(ctx context.Context, id generic.LeaveRequestID) ([]generic.AuditEntry, error) {
	var out []generic.AuditEntry
	err := s.mgr.Ledger.View(ctx, func(tx generic.ReadTx) error {
		if _, err := loadRequest(ctx, tx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.AuditEntries(ctx, generic.CommitmentLeaveRequest, string(id))
		return err
	})
	if err != nil {
		return nil, generic.ReadError("leave_audit", err)
	}
	return out, nil
}
