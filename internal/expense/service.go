package expense

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fkhayef/travelmate/internal/access"
	"github.com/fkhayef/travelmate/internal/expense/split"
	"github.com/fkhayef/travelmate/internal/payment"
	"github.com/fkhayef/travelmate/pkg/apperr"
)

// Common errors
var (
	ErrExpenseNotFound       = apperr.NotFound("expense not found")
	ErrSettlementNotFound    = apperr.NotFound("settlement not found")
	ErrDuplicateParticipant  = apperr.Conflict("participant already exists")
	ErrExpenseAlreadyExists  = apperr.Conflict("payment is already recorded as an expense")
	ErrSettlementNotPending  = apperr.State("settlement is no longer accepting expense changes")
	ErrSettlementCalculating = apperr.InProgress("settlement calculation in progress")
	ErrPayerNotMember        = apperr.Validation("payment_approval_id", "payer is not a member of this plan")
	ErrParticipantNotMember  = apperr.Validation("member_ids", "every participant must be a member of this plan")
	ErrNotExpensePayment     = apperr.Validation("payment_approval_id", "payment was not made for a trip expense")
	ErrPaymentRefunded       = apperr.State("payment was refunded and cannot be recorded as an expense")
)

// Approvals looks up captured payments
type Approvals interface {
	GetApproval(ctx context.Context, id int64) (*payment.Approval, error)
}

// Plans answers plan membership
type Plans interface {
	IsMember(ctx context.Context, planID, userID int64) (bool, error)
}

// Service handles expense business logic
type Service struct {
	repo      *Repository
	approvals Approvals
	plans     Plans
	splitter  split.Strategy
	now       func() time.Time
}

// NewService creates a new expense service with dependencies injected
func NewService(repo *Repository, approvals Approvals, plans Plans) *Service {
	return &Service{
		repo:      repo,
		approvals: approvals,
		plans:     plans,
		splitter:  split.Even,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordExpense links a captured payment into a PENDING settlement, shared
// by memberIDs. The payer or the treasurer may record it.
func (s *Service) RecordExpense(ctx context.Context, settlementID, callerID, approvalID int64, memberIDs []int64) (*Expense, error) {
	st, err := s.settlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	approval, err := s.approvals.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	grants := access.Grant(access.Payer, approval.PayerID).With(access.Treasurer, st.TreasurerID)
	if err := access.Check(access.RecordExpense, callerID, grants); err != nil {
		return nil, err
	}
	if err := s.checkPayment(ctx, approvalID); err != nil {
		return nil, err
	}
	if err := s.checkParticipants(approval.Amount.Total, memberIDs); err != nil {
		return nil, err
	}
	if err := s.checkOpen(st); err != nil {
		return nil, err
	}

	ok, err := s.plans.IsMember(ctx, st.PlanID, approval.PayerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPayerNotMember
	}
	if err := s.checkMembers(ctx, st.PlanID, memberIDs); err != nil {
		return nil, err
	}

	e, err := s.repo.Create(ctx, &Expense{
		SettlementID:      settlementID,
		PaymentApprovalID: approvalID,
		PayerID:           approval.PayerID,
		Amount:            approval.Amount.Total,
	}, memberIDs, s.now())
	if errors.Is(err, errPaymentNotUsable) {
		if perr := s.checkPayment(ctx, approvalID); perr != nil {
			return nil, perr
		}
	}
	if err != nil {
		return nil, s.writeError(ctx, settlementID, err)
	}

	slog.Info("expense recorded",
		"expense_id", e.ID,
		"settlement_id", settlementID,
		"approval_id", approvalID,
		"amount", e.Amount,
		"participants", len(memberIDs),
	)
	return e, nil
}

// GetExpenseByID retrieves an expense with its participants for a plan
// member or the treasurer
func (s *Service) GetExpenseByID(ctx context.Context, id, callerID int64) (*Expense, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrExpenseNotFound
	}

	st, err := s.settlement(ctx, e.SettlementID)
	if err != nil {
		return nil, err
	}
	if err := s.checkViewer(ctx, st, callerID); err != nil {
		return nil, err
	}
	return e, nil
}

// ListBySettlement retrieves every expense of a settlement
func (s *Service) ListBySettlement(ctx context.Context, settlementID, callerID int64) ([]*Expense, error) {
	st, err := s.settlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if err := s.checkViewer(ctx, st, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListBySettlement(ctx, settlementID)
}

// UpdateParticipants fully replaces the participant set of an expense.
// A repeated member id fails with ErrDuplicateParticipant and nothing is
// written. Changes stop once the settlement leaves PENDING.
func (s *Service) UpdateParticipants(ctx context.Context, expenseID, callerID int64, memberIDs []int64) ([]*Participant, error) {
	e, err := s.repo.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrExpenseNotFound
	}
	st, err := s.settlement(ctx, e.SettlementID)
	if err != nil {
		return nil, err
	}

	grants := access.Grant(access.Payer, e.PayerID).With(access.Treasurer, st.TreasurerID)
	if err := access.Check(access.EditParticipants, callerID, grants); err != nil {
		return nil, err
	}
	if err := s.checkParticipants(e.Amount, memberIDs); err != nil {
		return nil, err
	}
	if err := s.checkOpen(st); err != nil {
		return nil, err
	}
	if err := s.checkMembers(ctx, st.PlanID, memberIDs); err != nil {
		return nil, err
	}

	participants, err := s.repo.ReplaceParticipants(ctx, expenseID, e.SettlementID, memberIDs, s.now())
	if err != nil {
		return nil, s.writeError(ctx, e.SettlementID, err)
	}

	slog.Info("expense participants replaced", "expense_id", expenseID, "settlement_id", e.SettlementID, "participants", len(participants))
	return participants, nil
}

func (s *Service) settlement(ctx context.Context, id int64) (*settlementRef, error) {
	st, err := s.repo.getSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrSettlementNotFound
	}
	return st, nil
}

// checkParticipants runs the split over the input so that anything the
// engine would reject later is rejected now
func (s *Service) checkParticipants(amount int64, memberIDs []int64) error {
	_, err := s.splitter.Calculate(amount, memberIDs)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, split.ErrDuplicateParticipant):
		return ErrDuplicateParticipant
	default:
		return apperr.Validation("member_ids", err.Error())
	}
}

// checkPayment accepts only payments opened for an expense that were not
// refunded
func (s *Service) checkPayment(ctx context.Context, approvalID int64) error {
	purpose, refunded, err := s.repo.paymentState(ctx, approvalID)
	if err != nil {
		return err
	}
	if purpose != payment.PurposeExpense {
		return ErrNotExpensePayment
	}
	if refunded {
		return ErrPaymentRefunded
	}
	return nil
}

func (s *Service) checkOpen(st *settlementRef) error {
	if st.Status != settlementPending {
		return ErrSettlementNotPending
	}
	if st.Locked {
		return ErrSettlementCalculating
	}
	return nil
}

func (s *Service) checkMembers(ctx context.Context, planID int64, memberIDs []int64) error {
	for _, id := range memberIDs {
		ok, err := s.plans.IsMember(ctx, planID, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrParticipantNotMember
		}
	}
	return nil
}

func (s *Service) checkViewer(ctx context.Context, st *settlementRef, callerID int64) error {
	grants := access.Grant(access.Treasurer, st.TreasurerID)
	member, err := s.plans.IsMember(ctx, st.PlanID, callerID)
	if err != nil {
		return err
	}
	if member {
		grants.With(access.Member, callerID)
	}
	return access.Check(access.ViewSettlement, callerID, grants)
}

// writeError translates repository sentinels. A failed settlement guard is
// re-read to report whether it was closed or locked.
func (s *Service) writeError(ctx context.Context, settlementID int64, err error) error {
	switch {
	case errors.Is(err, errDuplicateMember):
		return ErrDuplicateParticipant
	case errors.Is(err, errApprovalRecorded):
		return ErrExpenseAlreadyExists
	case errors.Is(err, errPaymentNotUsable):
		return ErrPaymentRefunded
	case errors.Is(err, errSettlementBusy):
		st, gerr := s.settlement(ctx, settlementID)
		if gerr != nil {
			return gerr
		}
		if st.Locked && st.Status == settlementPending {
			return ErrSettlementCalculating
		}
		return ErrSettlementNotPending
	default:
		return err
	}
}
