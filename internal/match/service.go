package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fkhayef/travelmate/internal/access"
	"github.com/fkhayef/travelmate/internal/payment"
	"github.com/fkhayef/travelmate/pkg/apperr"
)

// Common errors
var (
	ErrMatchNotFound        = apperr.NotFound("match not found")
	ErrMatchAlreadyExists   = apperr.Conflict("a match already exists for this payment")
	ErrNotPending           = apperr.State("match is no longer pending")
	ErrTransitionInProgress = apperr.State("match is being updated by another request")
	ErrPaymentRefunded      = apperr.State("payment for this order was refunded")
)

const (
	minTags    = 1
	maxTags    = 3
	dateLayout = "2006-01-02"

	// claimTTL bounds how long an abandoned reject/cancel claim blocks the match
	claimTTL = 5 * time.Minute
)

// Payments is the part of the payment service a match needs
type Payments interface {
	Ready(ctx context.Context, req payment.ReadyRequest) (*payment.ReadyResponse, error)
	Approve(ctx context.Context, req payment.ApproveRequest) (*payment.ApproveResult, error)
	RefundOrder(ctx context.Context, orderID string) (*payment.Refund, error)
	GetRefund(ctx context.Context, orderID string) (*payment.Refund, error)
}

// Members checks that a user id names a registered member
type Members interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Service is the match state machine. Every mutation is a conditional
// update so concurrent callers cannot both move the same match.
type Service struct {
	repo     *Repository
	payments Payments
	members  Members
	metrics  *Metrics
	now      func() time.Time
}

// NewService creates a new match service with dependencies injected
func NewService(repo *Repository, payments Payments, members Members, metrics *Metrics) *Service {
	return &Service{
		repo:     repo,
		payments: payments,
		members:  members,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidateRequest checks a match request and returns a validation error
// naming the first offending field. It never mutates state.
func (s *Service) ValidateRequest(ctx context.Context, req *Request, requesterID int64) error {
	if len(req.TagIDs) < minTags || len(req.TagIDs) > maxTags {
		return apperr.Validation("tag_ids", fmt.Sprintf("between %d and %d tags are required", minTags, maxTags))
	}
	seen := make(map[int64]bool, len(req.TagIDs))
	for _, id := range req.TagIDs {
		if id <= 0 {
			return apperr.Validation("tag_ids", "tag ids must be positive")
		}
		if seen[id] {
			return apperr.Validation("tag_ids", "tag ids must be distinct")
		}
		seen[id] = true
	}

	if req.RegionID <= 0 {
		return apperr.Validation("region_id", "region is required")
	}

	if req.GuideID <= 0 {
		return apperr.Validation("guide_id", "guide is required")
	}
	if req.GuideID == requesterID {
		return apperr.Validation("guide_id", "you cannot request yourself as guide")
	}
	exists, err := s.members.Exists(ctx, req.GuideID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.Validation("guide_id", "guide is not a registered member")
	}

	form := req.Form
	switch {
	case strings.TrimSpace(form.Title) == "":
		return apperr.Validation("title", "title is required")
	case strings.TrimSpace(form.Message) == "":
		return apperr.Validation("message", "message is required")
	case strings.TrimSpace(form.StartDate) == "":
		return apperr.Validation("start_date", "start date is required")
	case strings.TrimSpace(form.EndDate) == "":
		return apperr.Validation("end_date", "end date is required")
	}
	start, err := time.Parse(dateLayout, form.StartDate)
	if err != nil {
		return apperr.Validation("start_date", "start date must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, form.EndDate)
	if err != nil {
		return apperr.Validation("end_date", "end date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return apperr.Validation("end_date", "end date is before start date")
	}

	if req.Amount <= 0 {
		return apperr.Validation("amount", "amount must be positive")
	}
	return nil
}

// Request validates a match request and opens its payment. The request is
// stored with the payment order and turned into a match on approve.
func (s *Service) Request(ctx context.Context, req *Request, requesterID int64) (*payment.ReadyResponse, error) {
	if err := s.ValidateRequest(ctx, req, requesterID); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode match request: %w", err)
	}

	return s.payments.Ready(ctx, payment.ReadyRequest{
		PayerID:     requesterID,
		ItemName:    "Guide match: " + req.Form.Title,
		Quantity:    1,
		TotalAmount: req.Amount,
		Purpose:     payment.PurposeMatch,
		Payload:     string(payload),
	})
}

// Approve captures the payment and creates the match. Retrying an approve
// that already produced a match returns that match.
func (s *Service) Approve(ctx context.Context, req payment.ApproveRequest) (*ApproveResult, error) {
	req.Purpose = payment.PurposeMatch
	captured, err := s.payments.Approve(ctx, req)
	if err != nil {
		return nil, err
	}
	orderID := captured.Order.OrderID

	existing, err := s.repo.GetByPartnerOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &ApproveResult{Approval: captured.Approval, Match: existing}, nil
	}
	if captured.Replayed {
		refund, err := s.payments.GetRefund(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if refund != nil {
			return nil, ErrPaymentRefunded
		}
	}

	var matchReq Request
	err = json.Unmarshal([]byte(captured.Order.Payload), &matchReq)
	if err == nil {
		var m *Match
		m, err = s.CreateAfterPayment(ctx, orderID, &matchReq, captured.Order.PayerID)
		if err == nil {
			return &ApproveResult{Approval: captured.Approval, Match: m}, nil
		}
		if errors.Is(err, ErrMatchAlreadyExists) {
			found, gerr := s.repo.GetByPartnerOrderID(ctx, orderID)
			if gerr != nil {
				return nil, gerr
			}
			return &ApproveResult{Approval: captured.Approval, Match: found}, nil
		}
	}

	// The payment is captured but no match exists for it. Refund it so the
	// money is never orphaned.
	s.metrics.orphaned()
	slog.Error("match creation failed after capture, refunding",
		"order_id", orderID, "approval_id", captured.Approval.ID, "error", err)
	if _, rerr := s.payments.RefundOrder(context.WithoutCancel(ctx), orderID); rerr != nil {
		slog.Error("refund of orphaned payment not recorded", "order_id", orderID, "error", rerr)
	}
	return nil, err
}

// CreateAfterPayment creates a PENDING match bound to a captured payment.
// A second call for the same order fails with ErrMatchAlreadyExists.
func (s *Service) CreateAfterPayment(ctx context.Context, partnerOrderID string, req *Request, requesterID int64) (*Match, error) {
	if partnerOrderID == "" {
		return nil, apperr.Validation("order_id", "partner order id is required")
	}
	if err := s.ValidateRequest(ctx, req, requesterID); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByPartnerOrderID(ctx, partnerOrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrMatchAlreadyExists
	}

	now := s.now()
	m, err := s.repo.Create(ctx, &Match{
		RequesterID:    requesterID,
		GuideID:        req.GuideID,
		RegionID:       req.RegionID,
		TagIDs:         req.TagIDs,
		PartnerOrderID: partnerOrderID,
		CreatedAt:      now,
	}, &GuideRequestForm{
		Title:     req.Form.Title,
		Message:   req.Form.Message,
		StartDate: req.Form.StartDate,
		EndDate:   req.Form.EndDate,
		CreatedAt: now,
	})
	if errors.Is(err, errOrderAlreadyMatched) {
		return nil, ErrMatchAlreadyExists
	}
	if err != nil {
		return nil, err
	}

	s.metrics.transition(StatusPending, "none")
	slog.Info("match created", "match_id", m.ID, "order_id", partnerOrderID, "requester_id", requesterID, "guide_id", req.GuideID)
	return m, nil
}

// Get returns a match to its requester or guide
func (s *Service) Get(ctx context.Context, matchID, callerID int64) (*Match, error) {
	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(access.ViewMatch, callerID, grants(m)); err != nil {
		return nil, err
	}
	return m, nil
}

// Accept confirms a PENDING match. Only the assigned guide may accept.
func (s *Service) Accept(ctx context.Context, matchID, guideID int64) (*Match, error) {
	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(access.AcceptMatch, guideID, grants(m)); err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, ErrNotPending
	}

	now := s.now()
	ok, err := s.repo.Confirm(ctx, matchID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflictReason(ctx, matchID)
	}

	m.Status = StatusConfirmed
	m.UpdatedAt = storedTime(now)
	s.metrics.transition(StatusConfirmed, "none")
	slog.Info("match confirmed", "match_id", matchID, "guide_id", guideID)
	return m, nil
}

// Reject declines a PENDING match and refunds the requester. Only the
// assigned guide may reject. The match becomes REJECTED even when the
// refund has to be retried later.
func (s *Service) Reject(ctx context.Context, matchID, guideID int64) (*TransitionResult, error) {
	return s.refundingTransition(ctx, matchID, guideID, access.RejectMatch, StatusRejected)
}

// Cancel withdraws a PENDING match and refunds the requester. Only the
// requester may cancel.
func (s *Service) Cancel(ctx context.Context, matchID, requesterID int64) (*TransitionResult, error) {
	return s.refundingTransition(ctx, matchID, requesterID, access.CancelMatch, StatusCanceled)
}

func (s *Service) refundingTransition(ctx context.Context, matchID, callerID int64, action access.Action, target Status) (*TransitionResult, error) {
	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(action, callerID, grants(m)); err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, ErrNotPending
	}

	now := s.now()
	token, ok, err := s.repo.Claim(ctx, matchID, target, now, now.Add(-claimTTL))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflictReason(ctx, matchID)
	}

	refund, err := s.payments.RefundOrder(ctx, m.PartnerOrderID)
	if err != nil {
		// Without a recorded obligation the match must stay PENDING.
		if rerr := s.repo.ReleaseClaim(context.WithoutCancel(ctx), matchID, token); rerr != nil {
			slog.Error("release match claim failed", "match_id", matchID, "error", rerr)
		}
		return nil, err
	}

	done := s.now()
	ok, err = s.repo.CompleteTransition(ctx, matchID, target, token, done)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflictReason(ctx, matchID)
	}

	m.Status = target
	m.UpdatedAt = storedTime(done)
	s.metrics.transition(target, string(refund.Status))

	if refund.Status == payment.RefundStatusCompleted {
		slog.Info("match closed with refund", "match_id", matchID, "status", target, "order_id", m.PartnerOrderID)
	} else {
		slog.Warn("match closed, refund pending retry", "match_id", matchID, "status", target,
			"order_id", m.PartnerOrderID, "refund_status", refund.Status, "last_error", refund.LastError)
	}

	return &TransitionResult{Match: m, Refund: refund}, nil
}

func (s *Service) load(ctx context.Context, matchID int64) (*Match, error) {
	m, err := s.repo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// conflictReason explains why a conditional update touched no rows
func (s *Service) conflictReason(ctx context.Context, matchID int64) error {
	current, err := s.repo.GetByID(ctx, matchID)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrMatchNotFound
	}
	if current.Status.Terminal() {
		return ErrNotPending
	}
	return ErrTransitionInProgress
}

func grants(m *Match) access.Grants {
	return access.Grant(access.Requester, m.RequesterID).With(access.Guide, m.GuideID)
}

// storedTime truncates t to the precision timestamps are stored with
func storedTime(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
