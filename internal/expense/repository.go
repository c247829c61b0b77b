package expense

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fkhayef/travelmate/internal/database"
	"github.com/fkhayef/travelmate/internal/payment"
)

var (
	errSettlementBusy   = errors.New("settlement is not open for expense changes")
	errApprovalRecorded = errors.New("payment approval already recorded as an expense")
	errDuplicateMember  = errors.New("participant already on expense")
	errPaymentNotUsable = errors.New("payment is not an unrefunded expense payment")
)

// settlementPending mirrors the settlement status that accepts changes
const settlementPending = "PENDING"

// Repository handles expense and participant data persistence
type Repository struct {
	db *database.DB
	q  database.Querier
}

// NewRepository creates a new expense repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, q: db}
}

// InTx runs fn with a repository bound to a single transaction
func (r *Repository) InTx(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.Transact(ctx, func(tx *database.Tx) error {
		return fn(&Repository{db: r.db, q: tx})
	})
}

// getSettlement reads the settlement fields expense rules depend on
func (r *Repository) getSettlement(ctx context.Context, id int64) (*settlementRef, error) {
	query := `
		SELECT id, plan_id, treasurer_id, status, lock_token IS NOT NULL
		FROM settlements
		WHERE id = $1
	`

	s := &settlementRef{}
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.PlanID,
		&s.TreasurerID,
		&s.Status,
		&s.Locked,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return s, nil
}

// guardSettlement touches the settlement row only while it is PENDING and
// unlocked. Inside a transaction the touched row stays locked until commit,
// so a calculation cannot start between the guard and the write.
func (r *Repository) guardSettlement(ctx context.Context, settlementID int64, now time.Time) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE settlements SET updated_at = $1
		WHERE id = $2 AND status = $3 AND lock_token IS NULL
	`, database.Millis(now), settlementID, settlementPending)
	if err != nil {
		return fmt.Errorf("failed to guard settlement: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return errSettlementBusy
	}
	return nil
}

// paymentState returns the purpose of the order an approval captured and
// whether a refund was recorded against it
func (r *Repository) paymentState(ctx context.Context, approvalID int64) (payment.Purpose, bool, error) {
	var purpose payment.Purpose
	var refunded bool
	err := r.q.QueryRowContext(ctx, `
		SELECT o.purpose, EXISTS (SELECT 1 FROM refunds f WHERE f.payment_approval_id = a.id)
		FROM payment_approvals a
		JOIN payment_orders o ON o.order_id = a.partner_order_id
		WHERE a.id = $1
	`, approvalID).Scan(&purpose, &refunded)
	if err != nil {
		return "", false, fmt.Errorf("failed to get payment state: %w", err)
	}
	return purpose, refunded, nil
}

// Create inserts an expense and its participants in one transaction. Only an
// unrefunded payment opened for an expense can be recorded.
func (r *Repository) Create(ctx context.Context, e *Expense, memberIDs []int64, now time.Time) (*Expense, error) {
	created := *e
	created.CreatedAt = database.FromMillis(database.Millis(now))

	err := r.InTx(ctx, func(repo *Repository) error {
		if err := repo.guardSettlement(ctx, e.SettlementID, now); err != nil {
			return err
		}

		err := repo.q.QueryRowContext(ctx, `
			INSERT INTO expenses (settlement_id, payment_approval_id, created_at)
			SELECT CAST($1 AS BIGINT), a.id, CAST($3 AS BIGINT)
			FROM payment_approvals a
			JOIN payment_orders o ON o.order_id = a.partner_order_id
			WHERE a.id = $2 AND o.purpose = $4
			  AND NOT EXISTS (SELECT 1 FROM refunds f WHERE f.payment_approval_id = a.id)
			RETURNING id
		`, e.SettlementID, e.PaymentApprovalID, database.Millis(now), payment.PurposeExpense).Scan(&created.ID)
		if err != nil {
			if err == sql.ErrNoRows {
				return errPaymentNotUsable
			}
			if database.IsUniqueViolation(err) {
				return errApprovalRecorded
			}
			return fmt.Errorf("failed to create expense: %w", err)
		}

		created.Participants, err = repo.insertParticipants(ctx, created.ID, memberIDs, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *Repository) insertParticipants(ctx context.Context, expenseID int64, memberIDs []int64, now time.Time) ([]*Participant, error) {
	ts := database.Millis(now)
	participants := make([]*Participant, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		p := &Participant{
			ExpenseID: expenseID,
			MemberID:  memberID,
			CreatedAt: database.FromMillis(ts),
			UpdatedAt: database.FromMillis(ts),
		}
		err := r.q.QueryRowContext(ctx, `
			INSERT INTO expense_participants (expense_id, member_id, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			RETURNING id
		`, expenseID, memberID, ts).Scan(&p.ID)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return nil, errDuplicateMember
			}
			return nil, fmt.Errorf("failed to create participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// ReplaceParticipants deletes every participant of the expense and inserts
// memberIDs, all or nothing.
func (r *Repository) ReplaceParticipants(ctx context.Context, expenseID, settlementID int64, memberIDs []int64, now time.Time) ([]*Participant, error) {
	var participants []*Participant
	err := r.InTx(ctx, func(repo *Repository) error {
		if err := repo.guardSettlement(ctx, settlementID, now); err != nil {
			return err
		}

		if _, err := repo.q.ExecContext(ctx,
			`DELETE FROM expense_participants WHERE expense_id = $1`, expenseID,
		); err != nil {
			return fmt.Errorf("failed to delete participants: %w", err)
		}

		var err error
		participants, err = repo.insertParticipants(ctx, expenseID, memberIDs, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return participants, nil
}

const selectExpense = `
	SELECT e.id, e.settlement_id, e.payment_approval_id, a.payer_id, a.total_amount, e.created_at
	FROM expenses e
	JOIN payment_approvals a ON a.id = e.payment_approval_id
`

func scanExpense(row interface{ Scan(...any) error }) (*Expense, error) {
	e := &Expense{}
	var createdAt int64
	if err := row.Scan(
		&e.ID,
		&e.SettlementID,
		&e.PaymentApprovalID,
		&e.PayerID,
		&e.Amount,
		&createdAt,
	); err != nil {
		return nil, err
	}
	e.CreatedAt = database.FromMillis(createdAt)
	return e, nil
}

// GetByID retrieves an expense with its participants
func (r *Repository) GetByID(ctx context.Context, id int64) (*Expense, error) {
	e, err := scanExpense(r.q.QueryRowContext(ctx, selectExpense+`WHERE e.id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	e.Participants, err = r.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetParticipants retrieves the participants of an expense ordered by member id
func (r *Repository) GetParticipants(ctx context.Context, expenseID int64) ([]*Participant, error) {
	query := `
		SELECT id, expense_id, member_id, created_at, updated_at
		FROM expense_participants
		WHERE expense_id = $1
		ORDER BY member_id
	`

	rows, err := r.q.QueryContext(ctx, query, expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	participants := []*Participant{}
	for rows.Next() {
		p := &Participant{}
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &p.ExpenseID, &p.MemberID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.CreatedAt = database.FromMillis(createdAt)
		p.UpdatedAt = database.FromMillis(updatedAt)
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// ListBySettlement retrieves every expense of a settlement with its
// participants, oldest first.
func (r *Repository) ListBySettlement(ctx context.Context, settlementID int64) ([]*Expense, error) {
	rows, err := r.q.QueryContext(ctx, selectExpense+`WHERE e.settlement_id = $1 ORDER BY e.id`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	var expenses []*Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	// Participants are loaded after the expense cursor is closed; SQLite
	// runs on a single connection.
	for _, e := range expenses {
		if e.Participants, err = r.GetParticipants(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	return expenses, nil
}
