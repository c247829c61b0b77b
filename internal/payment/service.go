package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fkhayef/travelmate/internal/access"
	"github.com/fkhayef/travelmate/internal/config"
	"github.com/fkhayef/travelmate/pkg/apperr"
)

// Common errors
var (
	ErrOrderNotFound      = apperr.NotFound("payment order not found")
	ErrApprovalNotFound   = apperr.NotFound("payment approval not found")
	ErrOrderNotOwned      = apperr.Authorization("payment order belongs to another user")
	ErrApprovalInProgress = apperr.Conflict("payment approval already in progress")
	ErrTIDMismatch        = apperr.Validation("tid", "tid does not match the payment order")
	ErrAmountMismatch     = apperr.Validation("amount", "amount does not match the payment order")
	ErrPurposeMismatch    = apperr.Validation("order_id", "payment order was opened for a different purpose")
	ErrRefundOfExpense    = apperr.State("payment is recorded as a trip expense and cannot be refunded")
)

// Service orchestrates ready, approve and refund against the gateway
type Service struct {
	repo    *Repository
	gateway Gateway
	cache   *ApprovalCache
	locks   *keyedMutex
	gwCfg   config.GatewayConfig
	rfCfg   config.RefundConfig
	metrics *Metrics
	now     func() time.Time
}

// NewService creates a new payment service with dependencies injected
func NewService(repo *Repository, gateway Gateway, cache *ApprovalCache, gwCfg config.GatewayConfig, rfCfg config.RefundConfig, metrics *Metrics) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		cache:   cache,
		locks:   newKeyedMutex(),
		gwCfg:   gwCfg,
		rfCfg:   rfCfg,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ready opens a payment session and stores the order. On any gateway
// failure nothing is persisted.
func (s *Service) Ready(ctx context.Context, req ReadyRequest) (*ReadyResponse, error) {
	switch {
	case req.ItemName == "":
		return nil, apperr.Validation("item_name", "item name is required")
	case req.Quantity <= 0:
		return nil, apperr.Validation("quantity", "quantity must be positive")
	case req.TotalAmount <= 0:
		return nil, apperr.Validation("amount", "amount must be positive")
	}

	orderID := uuid.NewString()
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	resp, err := s.gateway.Ready(gctx, GatewayReadyRequest{
		CID:            s.gwCfg.CID,
		PartnerOrderID: orderID,
		PartnerUserID:  strconv.FormatInt(req.PayerID, 10),
		ItemName:       req.ItemName,
		Quantity:       req.Quantity,
		TotalAmount:    req.TotalAmount,
		ApprovalURL:    s.gwCfg.ApprovalURL,
		CancelURL:      s.gwCfg.CancelURL,
		FailURL:        s.gwCfg.FailURL,
	})
	if err != nil {
		slog.Warn("payment ready failed", "order_id", orderID, "error", err)
		return nil, gatewayError(gctx, "ready", err)
	}

	now := s.now()
	order := &Order{
		OrderID:     orderID,
		GatewayTID:  resp.TID,
		PayerID:     req.PayerID,
		ItemName:    req.ItemName,
		Quantity:    req.Quantity,
		TotalAmount: req.TotalAmount,
		Purpose:     req.Purpose,
		Payload:     req.Payload,
		Status:      OrderStatusReady,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	slog.Info("payment ready", "order_id", orderID, "tid", resp.TID, "payer_id", req.PayerID, "amount", req.TotalAmount)

	return &ReadyResponse{
		TID:                   resp.TID,
		OrderID:               orderID,
		NextRedirectAppURL:    resp.NextRedirectAppURL,
		NextRedirectMobileURL: resp.NextRedirectMobileURL,
		NextRedirectPCURL:     resp.NextRedirectPCURL,
		CreatedAt:             resp.CreatedAt,
	}, nil
}

// Approve captures the payment for an order. It is idempotent per order id:
// once an approval exists every later call returns it without touching the
// gateway.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (*ApproveResult, error) {
	switch {
	case req.OrderID == "":
		return nil, apperr.Validation("order_id", "order id is required")
	case req.TID == "":
		return nil, apperr.Validation("tid", "tid is required")
	case req.PGToken == "":
		return nil, apperr.Validation("pg_token", "pg token is required")
	}

	unlock := s.locks.Lock(req.OrderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.PayerID != req.PayerID {
		return nil, ErrOrderNotOwned
	}
	if order.GatewayTID != req.TID {
		return nil, ErrTIDMismatch
	}
	if req.Amount != 0 && req.Amount != order.TotalAmount {
		return nil, ErrAmountMismatch
	}
	if req.Purpose != "" && req.Purpose != order.Purpose {
		return nil, ErrPurposeMismatch
	}

	if order.Status == OrderStatusApproved {
		return s.replay(ctx, order)
	}

	claimed, err := s.repo.ClaimOrder(ctx, order.OrderID, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.repo.GetOrder(ctx, order.OrderID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == OrderStatusApproved {
			return s.replay(ctx, current)
		}
		return nil, ErrApprovalInProgress
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	resp, err := s.gateway.Approve(gctx, GatewayApproveRequest{
		CID:            s.gwCfg.CID,
		TID:            order.GatewayTID,
		PartnerOrderID: order.OrderID,
		PartnerUserID:  strconv.FormatInt(order.PayerID, 10),
		PGToken:        req.PGToken,
	})
	if err != nil {
		slog.Warn("payment approve failed", "order_id", order.OrderID, "error", err)
		if rerr := s.repo.ReleaseOrder(context.WithoutCancel(ctx), order.OrderID, s.now()); rerr != nil {
			slog.Error("release payment order failed", "order_id", order.OrderID, "error", rerr)
		}
		return nil, gatewayError(gctx, "approve", err)
	}

	amount := resp.Amount
	if amount.Total == 0 {
		amount.Total = order.TotalAmount
	}
	approval, err := s.repo.SaveApproval(ctx, &Approval{
		GatewayTID:     order.GatewayTID,
		PartnerOrderID: order.OrderID,
		PayerID:        order.PayerID,
		Amount:         amount,
		ApprovedAt:     parseGatewayTime(resp.ApprovedAt, s.now()),
	})
	if errors.Is(err, errDuplicateApproval) {
		return s.replay(ctx, order)
	}
	if err != nil {
		// Captured but not recorded: hand the money back before failing.
		slog.Error("payment captured but approval not stored",
			"order_id", order.OrderID, "tid", order.GatewayTID, "error", err)
		s.cancelUnrecorded(ctx, order, amount.Total)
		if rerr := s.repo.ReleaseOrder(context.WithoutCancel(ctx), order.OrderID, s.now()); rerr != nil {
			slog.Error("release payment order failed", "order_id", order.OrderID, "error", rerr)
		}
		return nil, err
	}

	order.Status = OrderStatusApproved
	s.cache.Put(approval)
	s.metrics.approval("captured")
	slog.Info("payment approved", "order_id", order.OrderID, "approval_id", approval.ID, "amount", approval.Amount.Total)

	return &ApproveResult{Approval: approval, Order: order}, nil
}

func (s *Service) replay(ctx context.Context, order *Order) (*ApproveResult, error) {
	approval, ok := s.cache.Get(order.OrderID)
	if !ok {
		var err error
		approval, err = s.repo.GetApprovalByOrderID(ctx, order.OrderID)
		if err != nil {
			return nil, err
		}
		if approval == nil {
			return nil, ErrApprovalNotFound
		}
		s.cache.Put(approval)
	}
	order.Status = OrderStatusApproved
	s.metrics.approval("replayed")
	return &ApproveResult{Approval: approval, Order: order, Replayed: true}, nil
}

func (s *Service) cancelUnrecorded(ctx context.Context, order *Order, amount int64) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rfCfg.GracePeriod)
	defer cancel()
	if _, err := s.gateway.Cancel(cctx, GatewayCancelRequest{
		CID:          s.gwCfg.CID,
		TID:          order.GatewayTID,
		CancelAmount: amount,
	}); err != nil {
		slog.Error("cancel of unrecorded capture failed", "order_id", order.OrderID, "tid", order.GatewayTID, "error", err)
	}
}

// GetApproval retrieves an approval by id
func (s *Service) GetApproval(ctx context.Context, id int64) (*Approval, error) {
	a, err := s.repo.GetApprovalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrApprovalNotFound
	}
	return a, nil
}

// ViewApproval retrieves an approval on behalf of callerID, who must be its payer
func (s *Service) ViewApproval(ctx context.Context, id, callerID int64) (*Approval, error) {
	a, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Check(access.ViewApproval, callerID, access.Grant(access.Payer, a.PayerID)); err != nil {
		return nil, err
	}
	return a, nil
}

// GetApprovalByOrderID retrieves the approval captured for an order
func (s *Service) GetApprovalByOrderID(ctx context.Context, orderID string) (*Approval, error) {
	if a, ok := s.cache.Get(orderID); ok {
		return a, nil
	}
	a, err := s.repo.GetApprovalByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrApprovalNotFound
	}
	s.cache.Put(a)
	return a, nil
}

// GetRefund returns the refund obligation for an order, or nil
func (s *Service) GetRefund(ctx context.Context, orderID string) (*Refund, error) {
	return s.repo.GetRefundByOrderID(ctx, orderID)
}

// RefundOrder refunds the approval captured for orderID. See Refund.
func (s *Service) RefundOrder(ctx context.Context, orderID string) (*Refund, error) {
	approval, err := s.GetApprovalByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.Refund(ctx, approval)
}

// Refund records a refund obligation for approval and makes one attempt
// bounded by the grace period. A gateway failure is not an error: the
// obligation stays PENDING for the retrier. Only a failure to record the
// obligation is returned, or ErrRefundOfExpense when the payment already
// sits in a settlement.
func (s *Service) Refund(ctx context.Context, approval *Approval) (*Refund, error) {
	now := s.now()
	ref, err := s.repo.CreateRefund(ctx, &Refund{
		PaymentApprovalID: approval.ID,
		GatewayTID:        approval.GatewayTID,
		PartnerOrderID:    approval.PartnerOrderID,
		Amount:            approval.Amount.Total,
		NextAttemptAt:     now,
		CreatedAt:         now,
	})
	if errors.Is(err, errRecordedExpense) {
		return nil, ErrRefundOfExpense
	}
	if err != nil {
		return nil, err
	}
	if ref.Status != RefundStatusPending {
		return ref, nil
	}

	return s.attemptRefund(ctx, ref, s.rfCfg.GracePeriod)
}

// RetryDueRefunds attempts every refund whose backoff has elapsed and
// returns how many were attempted.
func (s *Service) RetryDueRefunds(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListDueRefunds(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, ref := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.attemptRefund(ctx, ref, s.gwCfg.Timeout); err != nil {
			slog.Error("refund retry failed to persist", "refund_id", ref.ID, "error", err)
			continue
		}
		attempted++
	}
	return attempted, nil
}

func (s *Service) attemptRefund(ctx context.Context, ref *Refund, timeout time.Duration) (*Refund, error) {
	now := s.now()
	claimed, err := s.repo.ClaimRefund(ctx, ref.ID, now, now.Add(timeout+s.rfCfg.BaseBackoff))
	if err != nil {
		return nil, err
	}
	if !claimed {
		return ref, nil
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	_, gerr := s.gateway.Cancel(cctx, GatewayCancelRequest{
		CID:          s.gwCfg.CID,
		TID:          ref.GatewayTID,
		CancelAmount: ref.Amount,
	})

	out := *ref
	out.Attempts = ref.Attempts + 1
	out.UpdatedAt = s.now()

	if gerr == nil {
		if err := s.repo.CompleteRefund(ctx, ref.ID, out.Attempts, out.UpdatedAt); err != nil {
			return nil, err
		}
		out.Status = RefundStatusCompleted
		out.LastError = ""
		s.metrics.refundAttempt("completed")
		slog.Info("refund completed", "refund_id", ref.ID, "order_id", ref.PartnerOrderID, "attempts", out.Attempts)
		return &out, nil
	}

	out.LastError = gerr.Error()
	out.Status = RefundStatusPending
	out.NextAttemptAt = out.UpdatedAt.Add(s.backoff(out.Attempts))
	if out.Attempts >= s.rfCfg.MaxAttempts {
		out.Status = RefundStatusFailed
	}

	if err := s.repo.RecordRefundFailure(ctx, ref.ID, out.Attempts, out.LastError, out.NextAttemptAt, out.Status, out.UpdatedAt); err != nil {
		return nil, err
	}

	if out.Status == RefundStatusFailed {
		s.metrics.refundAttempt("failed")
		slog.Error("refund gave up", "refund_id", ref.ID, "order_id", ref.PartnerOrderID, "attempts", out.Attempts, "error", gerr)
	} else {
		s.metrics.refundAttempt("retry")
		slog.Warn("refund attempt failed", "refund_id", ref.ID, "order_id", ref.PartnerOrderID,
			"attempts", out.Attempts, "next_attempt_at", out.NextAttemptAt, "error", gerr)
	}
	return &out, nil
}

// backoff returns BaseBackoff * 2^(attempts-1), capped at MaxBackoff
func (s *Service) backoff(attempts int) time.Duration {
	d := s.rfCfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		if d >= s.rfCfg.MaxBackoff/2 {
			return s.rfCfg.MaxBackoff
		}
		d *= 2
	}
	if d > s.rfCfg.MaxBackoff {
		return s.rfCfg.MaxBackoff
	}
	return d
}

func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.gwCfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.gwCfg.Timeout)
}

// gatewayError classifies an unclassified gateway failure
func gatewayError(ctx context.Context, op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Timeout("payment gateway timed out", err)
	}
	return apperr.Gateway(fmt.Sprintf("payment gateway %s failed", op), err)
}
