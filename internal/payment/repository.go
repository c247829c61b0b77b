package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fkhayef/travelmate/internal/database"
)

var (
	errDuplicateApproval = errors.New("approval already recorded for order")
	errRecordedExpense   = errors.New("approval is recorded as an expense")
)

// Repository handles payment order, approval and refund persistence
type Repository struct {
	db *database.DB
	q  database.Querier
}

// NewRepository creates a new payment repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, q: db}
}

// InTx runs fn with a repository bound to a single transaction
func (r *Repository) InTx(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.Transact(ctx, func(tx *database.Tx) error {
		return fn(&Repository{db: r.db, q: tx})
	})
}

// CreateOrder stores an order returned by a successful ready call
func (r *Repository) CreateOrder(ctx context.Context, o *Order) error {
	query := `
		INSERT INTO payment_orders (order_id, gateway_tid, payer_id, item_name, quantity, total_amount, purpose, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`
	_, err := r.q.ExecContext(ctx, query,
		o.OrderID,
		o.GatewayTID,
		o.PayerID,
		o.ItemName,
		o.Quantity,
		o.TotalAmount,
		o.Purpose,
		o.Payload,
		o.Status,
		database.Millis(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by its partner order id
func (r *Repository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	query := `
		SELECT order_id, gateway_tid, payer_id, item_name, quantity, total_amount, purpose, payload, status, created_at, updated_at
		FROM payment_orders
		WHERE order_id = $1
	`

	o := &Order{}
	var createdAt, updatedAt int64
	err := r.q.QueryRowContext(ctx, query, orderID).Scan(
		&o.OrderID,
		&o.GatewayTID,
		&o.PayerID,
		&o.ItemName,
		&o.Quantity,
		&o.TotalAmount,
		&o.Purpose,
		&o.Payload,
		&o.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment order: %w", err)
	}
	o.CreatedAt = database.FromMillis(createdAt)
	o.UpdatedAt = database.FromMillis(updatedAt)
	return o, nil
}

// ClaimOrder moves a READY order to APPROVING. It reports false when the
// order was not READY, meaning another approve owns or finished it.
func (r *Repository) ClaimOrder(ctx context.Context, orderID string, now time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE payment_orders SET status = $1, updated_at = $2 WHERE order_id = $3 AND status = $4`,
		OrderStatusApproving, database.Millis(now), orderID, OrderStatusReady,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim payment order: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim payment order: %w", err)
	}
	return n == 1, nil
}

// ReleaseOrder returns an APPROVING order to READY after a failed capture
func (r *Repository) ReleaseOrder(ctx context.Context, orderID string, now time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE payment_orders SET status = $1, updated_at = $2 WHERE order_id = $3 AND status = $4`,
		OrderStatusReady, database.Millis(now), orderID, OrderStatusApproving,
	)
	if err != nil {
		return fmt.Errorf("failed to release payment order: %w", err)
	}
	return nil
}

// SaveApproval inserts the approval and marks its order APPROVED in one transaction
func (r *Repository) SaveApproval(ctx context.Context, a *Approval) (*Approval, error) {
	saved := *a
	err := r.InTx(ctx, func(repo *Repository) error {
		query := `
			INSERT INTO payment_approvals (gateway_tid, partner_order_id, payer_id, total_amount, tax_free_amount, vat_amount, point_amount, discount_amount, approved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`
		err := repo.q.QueryRowContext(ctx, query,
			a.GatewayTID,
			a.PartnerOrderID,
			a.PayerID,
			a.Amount.Total,
			a.Amount.TaxFree,
			a.Amount.VAT,
			a.Amount.Point,
			a.Amount.Discount,
			database.Millis(a.ApprovedAt),
		).Scan(&saved.ID)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return errDuplicateApproval
			}
			return fmt.Errorf("failed to create payment approval: %w", err)
		}

		_, err = repo.q.ExecContext(ctx,
			`UPDATE payment_orders SET status = $1, updated_at = $2 WHERE order_id = $3`,
			OrderStatusApproved, database.Millis(a.ApprovedAt), a.PartnerOrderID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark payment order approved: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	saved.ApprovedAt = database.FromMillis(database.Millis(a.ApprovedAt))
	return &saved, nil
}

const approvalColumns = `id, gateway_tid, partner_order_id, payer_id, total_amount, tax_free_amount, vat_amount, point_amount, discount_amount, approved_at`

func scanApproval(row interface{ Scan(...any) error }) (*Approval, error) {
	a := &Approval{}
	var approvedAt int64
	err := row.Scan(
		&a.ID,
		&a.GatewayTID,
		&a.PartnerOrderID,
		&a.PayerID,
		&a.Amount.Total,
		&a.Amount.TaxFree,
		&a.Amount.VAT,
		&a.Amount.Point,
		&a.Amount.Discount,
		&approvedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ApprovedAt = database.FromMillis(approvedAt)
	return a, nil
}

// GetApprovalByOrderID retrieves the approval captured for an order
func (r *Repository) GetApprovalByOrderID(ctx context.Context, orderID string) (*Approval, error) {
	a, err := scanApproval(r.q.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM payment_approvals WHERE partner_order_id = $1`, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment approval: %w", err)
	}
	return a, nil
}

// GetApprovalByID retrieves an approval by id
func (r *Repository) GetApprovalByID(ctx context.Context, id int64) (*Approval, error) {
	a, err := scanApproval(r.q.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM payment_approvals WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment approval: %w", err)
	}
	return a, nil
}

// CreateRefund records a refund obligation. A second obligation for the same
// order returns the existing row. An approval recorded as an expense is not
// refunded: errRecordedExpense.
func (r *Repository) CreateRefund(ctx context.Context, ref *Refund) (*Refund, error) {
	query := `
		INSERT INTO refunds (payment_approval_id, gateway_tid, partner_order_id, amount, status, attempts, last_error, next_attempt_at, created_at, updated_at)
		SELECT CAST($1 AS BIGINT), CAST($2 AS TEXT), CAST($3 AS TEXT), CAST($4 AS BIGINT), CAST($5 AS TEXT), 0, '',
			CAST($6 AS BIGINT), CAST($7 AS BIGINT), CAST($7 AS BIGINT)
		WHERE NOT EXISTS (SELECT 1 FROM expenses WHERE payment_approval_id = $1)
		ON CONFLICT (partner_order_id) DO NOTHING
		RETURNING id
	`

	saved := *ref
	saved.Status = RefundStatusPending
	err := r.q.QueryRowContext(ctx, query,
		ref.PaymentApprovalID,
		ref.GatewayTID,
		ref.PartnerOrderID,
		ref.Amount,
		RefundStatusPending,
		database.Millis(ref.NextAttemptAt),
		database.Millis(ref.CreatedAt),
	).Scan(&saved.ID)
	if err == sql.ErrNoRows {
		existing, gerr := r.GetRefundByOrderID(ctx, ref.PartnerOrderID)
		if gerr != nil {
			return nil, gerr
		}
		if existing == nil {
			return nil, errRecordedExpense
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}
	saved.UpdatedAt = saved.CreatedAt
	return &saved, nil
}

const refundColumns = `id, payment_approval_id, gateway_tid, partner_order_id, amount, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func scanRefund(row interface{ Scan(...any) error }) (*Refund, error) {
	ref := &Refund{}
	var nextAt, createdAt, updatedAt int64
	err := row.Scan(
		&ref.ID,
		&ref.PaymentApprovalID,
		&ref.GatewayTID,
		&ref.PartnerOrderID,
		&ref.Amount,
		&ref.Status,
		&ref.Attempts,
		&ref.LastError,
		&nextAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	ref.NextAttemptAt = database.FromMillis(nextAt)
	ref.CreatedAt = database.FromMillis(createdAt)
	ref.UpdatedAt = database.FromMillis(updatedAt)
	return ref, nil
}

// GetRefundByOrderID retrieves the refund obligation for an order
func (r *Repository) GetRefundByOrderID(ctx context.Context, orderID string) (*Refund, error) {
	ref, err := scanRefund(r.q.QueryRowContext(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE partner_order_id = $1`, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return ref, nil
}

// ListDueRefunds returns PENDING refunds whose next attempt is due
func (r *Repository) ListDueRefunds(ctx context.Context, now time.Time, limit int) ([]*Refund, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+refundColumns+` FROM refunds
		 WHERE status = $1 AND next_attempt_at <= $2
		 ORDER BY next_attempt_at, id
		 LIMIT $3`,
		RefundStatusPending, database.Millis(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*Refund
	for rows.Next() {
		ref, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate refunds: %w", err)
	}
	return refunds, nil
}

// CompleteRefund marks a PENDING refund COMPLETED
func (r *Repository) CompleteRefund(ctx context.Context, id int64, attempts int, now time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE refunds SET status = $1, attempts = $2, last_error = '', updated_at = $3 WHERE id = $4 AND status = $5`,
		RefundStatusCompleted, attempts, database.Millis(now), id, RefundStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to complete refund: %w", err)
	}
	return nil
}

// RecordRefundFailure stores a failed attempt and when to try next. status is
// PENDING to retry or FAILED once the attempt budget is spent.
func (r *Repository) RecordRefundFailure(ctx context.Context, id int64, attempts int, lastErr string, next time.Time, status RefundStatus, now time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE refunds SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4, updated_at = $5
		 WHERE id = $6 AND status = $7`,
		status, attempts, lastErr, database.Millis(next), database.Millis(now), id, RefundStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to record refund failure: %w", err)
	}
	return nil
}

// ClaimRefund leases a due PENDING refund until leaseUntil so only one worker
// calls the gateway for it. It reports false when the refund is not due.
func (r *Repository) ClaimRefund(ctx context.Context, id int64, now, leaseUntil time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE refunds SET next_attempt_at = $1, updated_at = $2
		 WHERE id = $3 AND status = $4 AND next_attempt_at <= $2`,
		database.Millis(leaseUntil), database.Millis(now), id, RefundStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim refund: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim refund: %w", err)
	}
	return n == 1, nil
}
