package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fkhayef/travelmate/internal/database"
)

var (
	errSettlementExists = errors.New("plan already has a settlement")
	errLockLost         = errors.New("settlement lock lost")
)

// Repository handles settlement and transaction persistence
type Repository struct {
	db *database.DB
	q  database.Querier
}

// NewRepository creates a new settlement repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, q: db}
}

// InTx runs fn with a repository bound to a single transaction
func (r *Repository) InTx(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.Transact(ctx, func(tx *database.Tx) error {
		return fn(&Repository{db: r.db, q: tx})
	})
}

// Create inserts a new PENDING settlement. It returns errSettlementExists
// when the plan already has one.
func (r *Repository) Create(ctx context.Context, s *Settlement) (*Settlement, error) {
	query := `
		INSERT INTO settlements (plan_id, treasurer_id, status, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`

	created := *s
	created.Status = StatusPending
	err := r.q.QueryRowContext(ctx, query,
		s.PlanID,
		s.TreasurerID,
		StatusPending,
		database.Millis(s.StartDate),
		database.Millis(s.EndDate),
		database.Millis(s.CreatedAt),
	).Scan(&created.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errSettlementExists
		}
		return nil, fmt.Errorf("failed to create settlement: %w", err)
	}

	created.StartDate = database.FromMillis(database.Millis(s.StartDate))
	created.EndDate = database.FromMillis(database.Millis(s.EndDate))
	created.CreatedAt = database.FromMillis(database.Millis(s.CreatedAt))
	created.UpdatedAt = created.CreatedAt
	return &created, nil
}

const selectSettlement = `
	SELECT id, plan_id, treasurer_id, status, start_date, end_date, created_at, updated_at
	FROM settlements
`

func (r *Repository) getOne(ctx context.Context, where string, arg int64) (*Settlement, error) {
	s := &Settlement{}
	var startDate, endDate, createdAt, updatedAt int64
	err := r.q.QueryRowContext(ctx, selectSettlement+where, arg).Scan(
		&s.ID,
		&s.PlanID,
		&s.TreasurerID,
		&s.Status,
		&startDate,
		&endDate,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	s.StartDate = database.FromMillis(startDate)
	s.EndDate = database.FromMillis(endDate)
	s.CreatedAt = database.FromMillis(createdAt)
	s.UpdatedAt = database.FromMillis(updatedAt)
	return s, nil
}

// GetByID retrieves a settlement by its ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*Settlement, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetByPlanID retrieves the settlement of a plan
func (r *Repository) GetByPlanID(ctx context.Context, planID int64) (*Settlement, error) {
	return r.getOne(ctx, `WHERE plan_id = $1`, planID)
}

// Lock takes the calculation lock on an open settlement. A lock taken
// before staleBefore is treated as abandoned.
func (r *Repository) Lock(ctx context.Context, id int64, token string, now, staleBefore time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE settlements SET lock_token = $1, locked_at = $2
		WHERE id = $3 AND status IN ($4, $5)
		  AND (lock_token IS NULL OR locked_at < $6)
	`, token, database.Millis(now), id, StatusPending, StatusInProgress, database.Millis(staleBefore))
	if err != nil {
		return false, fmt.Errorf("failed to lock settlement: %w", err)
	}
	return affectedOne(result)
}

// Unlock releases the calculation lock if token still holds it
func (r *Repository) Unlock(ctx context.Context, id int64, token string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE settlements SET lock_token = NULL, locked_at = NULL
		WHERE id = $1 AND lock_token = $2
	`, id, token)
	if err != nil {
		return fmt.Errorf("failed to unlock settlement: %w", err)
	}
	return nil
}

// Finish sets the settlement status and releases the lock held by token.
// It returns errLockLost when token no longer holds it.
func (r *Repository) Finish(ctx context.Context, id int64, token string, status Status, now time.Time) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE settlements SET status = $1, lock_token = NULL, locked_at = NULL, updated_at = $2
		WHERE id = $3 AND lock_token = $4
	`, status, database.Millis(now), id, token)
	if err != nil {
		return fmt.Errorf("failed to finish settlement: %w", err)
	}
	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return errLockLost
	}
	return nil
}

// SaveBatch writes transfers as PENDING transactions and moves the
// settlement to IN_PROGRESS, all in one transaction under the lock.
func (r *Repository) SaveBatch(ctx context.Context, id int64, token string, transfers []Transfer, now time.Time) ([]*Transaction, error) {
	ts := database.Millis(now)
	var saved []*Transaction

	err := r.InTx(ctx, func(repo *Repository) error {
		if err := repo.Finish(ctx, id, token, StatusInProgress, now); err != nil {
			return err
		}

		for _, t := range transfers {
			tx := &Transaction{
				SettlementID: id,
				PayerID:      t.PayerID,
				PayeeID:      t.PayeeID,
				Cost:         t.Cost,
				Status:       TransactionPending,
				CreatedAt:    database.FromMillis(ts),
				UpdatedAt:    database.FromMillis(ts),
			}
			err := repo.q.QueryRowContext(ctx, `
				INSERT INTO settlement_transactions (settlement_id, payer_id, payee_id, cost, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $6)
				RETURNING id
			`, id, t.PayerID, t.PayeeID, t.Cost, TransactionPending, ts).Scan(&tx.ID)
			if err != nil {
				return fmt.Errorf("failed to create settlement transaction: %w", err)
			}
			saved = append(saved, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

const transactionColumns = `id, settlement_id, payer_id, payee_id, cost, status, created_at, sent_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*Transaction, error) {
	tx := &Transaction{}
	var createdAt, updatedAt int64
	var sentAt sql.NullInt64
	if err := row.Scan(
		&tx.ID,
		&tx.SettlementID,
		&tx.PayerID,
		&tx.PayeeID,
		&tx.Cost,
		&tx.Status,
		&createdAt,
		&sentAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	tx.CreatedAt = database.FromMillis(createdAt)
	tx.SentAt = database.NullMillis(sentAt)
	tx.UpdatedAt = database.FromMillis(updatedAt)
	return tx, nil
}

// GetTransaction retrieves a settlement transaction by its ID
func (r *Repository) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	tx, err := scanTransaction(r.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM settlement_transactions WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settlement transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions retrieves every transaction of a settlement, oldest first
func (r *Repository) ListTransactions(ctx context.Context, settlementID int64) ([]*Transaction, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM settlement_transactions WHERE settlement_id = $1 ORDER BY id`,
		settlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement transactions: %w", err)
	}
	defer rows.Close()

	txs := []*Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CountOpenTransactions counts transactions that are not terminal yet
func (r *Repository) CountOpenTransactions(ctx context.Context, settlementID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settlement_transactions WHERE settlement_id = $1 AND status = $2`,
		settlementID, TransactionPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open transactions: %w", err)
	}
	return n, nil
}

// MarkSent records that the payer sent a PENDING transfer. It reports
// false when the transfer is no longer PENDING or was already sent.
func (r *Repository) MarkSent(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE settlement_transactions SET sent_at = $1, updated_at = $1
		WHERE id = $2 AND status = $3 AND sent_at IS NULL
	`, database.Millis(now), id, TransactionPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction sent: %w", err)
	}
	return affectedOne(result)
}

// CloseTransaction moves a PENDING transfer to a terminal status. It
// reports false when the transfer was no longer PENDING.
func (r *Repository) CloseTransaction(ctx context.Context, id int64, status TransactionStatus, now time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE settlement_transactions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, status, database.Millis(now), id, TransactionPending)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return affectedOne(result)
}

// CompleteIfSettled marks an IN_PROGRESS settlement COMPLETED once none of
// its transactions is PENDING. The caller checks nothing is left owing.
func (r *Repository) CompleteIfSettled(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE settlements SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		  AND NOT EXISTS (
			SELECT 1 FROM settlement_transactions
			WHERE settlement_id = $3 AND status = $5
		  )
	`, StatusCompleted, database.Millis(now), id, StatusInProgress, TransactionPending)
	if err != nil {
		return false, fmt.Errorf("failed to complete settlement: %w", err)
	}
	return affectedOne(result)
}

// Cancel cancels an open, unlocked settlement that has no COMPLETED
// transfer, together with its PENDING transfers.
func (r *Repository) Cancel(ctx context.Context, id int64, now time.Time) (bool, error) {
	ts := database.Millis(now)
	var ok bool
	err := r.InTx(ctx, func(repo *Repository) error {
		result, err := repo.q.ExecContext(ctx, `
			UPDATE settlements SET status = $1, updated_at = $2
			WHERE id = $3 AND status IN ($4, $5) AND lock_token IS NULL
			  AND NOT EXISTS (
				SELECT 1 FROM settlement_transactions
				WHERE settlement_id = $3 AND status = $6
			  )
		`, StatusCanceled, ts, id, StatusPending, StatusInProgress, TransactionCompleted)
		if err != nil {
			return fmt.Errorf("failed to cancel settlement: %w", err)
		}
		if ok, err = affectedOne(result); err != nil || !ok {
			return err
		}

		_, err = repo.q.ExecContext(ctx, `
			UPDATE settlement_transactions SET status = $1, updated_at = $2
			WHERE settlement_id = $3 AND status = $4
		`, TransactionCanceled, ts, id, TransactionPending)
		if err != nil {
			return fmt.Errorf("failed to cancel settlement transactions: %w", err)
		}
		return nil
	})
	return ok, err
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
