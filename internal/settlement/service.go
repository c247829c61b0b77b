package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fkhayef/travelmate/internal/access"
	"github.com/fkhayef/travelmate/internal/expense"
	"github.com/fkhayef/travelmate/internal/expense/split"
	"github.com/fkhayef/travelmate/internal/plan"
	"github.com/fkhayef/travelmate/pkg/apperr"
)

// Common errors
var (
	ErrSettlementNotFound          = apperr.NotFound("settlement not found")
	ErrTransactionNotFound         = apperr.NotFound("settlement transaction not found")
	ErrSettlementExists            = apperr.Conflict("plan already has a settlement")
	ErrTripNotOver                 = apperr.State("the trip has not ended yet")
	ErrSettlementAlreadyInProgress = apperr.InProgress("settlement is already in progress")
	ErrSettlementClosed            = apperr.State("settlement is already closed")
	ErrTransactionNotPending       = apperr.State("transaction is no longer pending")
	ErrTransactionAlreadySent      = apperr.State("transaction is already marked sent")
	ErrCannotCancel                = apperr.State("settlement cannot be canceled once a transfer completed")
)

// lockTTL bounds how long a crashed calculation blocks the settlement
const lockTTL = 2 * time.Minute

// Plans is the part of the plan directory a settlement needs
type Plans interface {
	GetByID(ctx context.Context, id int64) (*plan.Plan, error)
	IsMember(ctx context.Context, planID, userID int64) (bool, error)
}

// Expenses lists the expenses a settlement aggregates
type Expenses interface {
	ListBySettlement(ctx context.Context, settlementID int64) ([]*expense.Expense, error)
}

// Service runs the settlement engine and tracks transfer status
type Service struct {
	repo     *Repository
	plans    Plans
	expenses Expenses
	splitter split.Strategy
	metrics  *Metrics
	now      func() time.Time
}

// NewService creates a new settlement service with dependencies injected
func NewService(repo *Repository, plans Plans, expenses Expenses, metrics *Metrics) *Service {
	return &Service{
		repo:     repo,
		plans:    plans,
		expenses: expenses,
		splitter: split.Even,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create opens the settlement of a plan whose trip has ended. The caller
// must be a plan member and becomes the treasurer.
func (s *Service) Create(ctx context.Context, planID, callerID int64) (*Settlement, error) {
	p, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	grants, err := s.memberGrants(ctx, planID, callerID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(access.CreateSettlement, callerID, grants); err != nil {
		return nil, err
	}

	now := s.now()
	if !p.Ended(now) {
		return nil, ErrTripNotOver
	}

	existing, err := s.repo.GetByPlanID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrSettlementExists
	}

	created, err := s.repo.Create(ctx, &Settlement{
		PlanID:      planID,
		TreasurerID: callerID,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		CreatedAt:   now,
	})
	if errors.Is(err, errSettlementExists) {
		return nil, ErrSettlementExists
	}
	if err != nil {
		return nil, err
	}

	slog.Info("settlement created", "settlement_id", created.ID, "plan_id", planID, "treasurer_id", callerID)
	return created, nil
}

// Get returns a settlement to a plan member or its treasurer
func (s *Service) Get(ctx context.Context, id, callerID int64) (*Settlement, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkViewer(ctx, st, callerID); err != nil {
		return nil, err
	}
	return st, nil
}

// GetByPlan returns the settlement of a plan
func (s *Service) GetByPlan(ctx context.Context, planID, callerID int64) (*Settlement, error) {
	if _, err := s.plans.GetByID(ctx, planID); err != nil {
		return nil, err
	}
	st, err := s.repo.GetByPlanID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrSettlementNotFound
	}
	if err := s.checkViewer(ctx, st, callerID); err != nil {
		return nil, err
	}
	return st, nil
}

// ListTransactions returns every transfer of a settlement
func (s *Service) ListTransactions(ctx context.Context, id, callerID int64) ([]*Transaction, error) {
	if _, err := s.Get(ctx, id, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, id)
}

// Calculation is the outcome of one engine run
type Calculation struct {
	Settlement   *Settlement
	Balances     []NetBalance
	Transactions []*Transaction
}

// Calculate runs the settlement engine under the settlement's exclusive
// lock and persists one batch of PENDING transfers. It fails with
// ErrSettlementAlreadyInProgress while another run holds the lock or any
// earlier transfer is still PENDING. When earlier transfers ended FAILED
// or CANCELED, only what COMPLETED transfers left owing is netted again.
func (s *Service) Calculate(ctx context.Context, id, callerID int64) (calc *Calculation, err error) {
	start := time.Now()
	outcome, generated := "error", 0
	defer func() {
		if errors.Is(err, ErrSettlementAlreadyInProgress) {
			outcome = "in_progress"
		}
		s.metrics.run(outcome, start, generated)
	}()

	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Check(access.CalculateSettlement, callerID, access.Grant(access.Treasurer, st.TreasurerID)); err != nil {
		return nil, err
	}
	if st.Status == StatusCompleted || st.Status == StatusCanceled {
		return nil, ErrSettlementClosed
	}

	now := s.now()
	token := uuid.NewString()
	ok, err := s.repo.Lock(ctx, id, token, now, now.Add(-lockTTL))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.lockConflict(ctx, id)
	}
	locked := true
	defer func() {
		if locked {
			if uerr := s.repo.Unlock(context.WithoutCancel(ctx), id, token); uerr != nil {
				slog.Error("unlock settlement failed", "settlement_id", id, "error", uerr)
			}
		}
	}()

	open, err := s.repo.CountOpenTransactions(ctx, id)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, ErrSettlementAlreadyInProgress
	}

	expenses, err := s.expenses.ListBySettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		outcome = "empty"
		return &Calculation{Settlement: st, Balances: []NetBalance{}, Transactions: []*Transaction{}}, nil
	}

	net, err := Balances(expenses, s.splitter)
	if err != nil {
		return nil, err
	}
	previous, err := s.repo.ListTransactions(ctx, id)
	if err != nil {
		return nil, err
	}
	rest := Residual(net, previous)
	transfers := Net(rest)

	done := s.now()
	if len(transfers) == 0 {
		if err := s.repo.Finish(ctx, id, token, StatusCompleted, done); err != nil {
			return nil, s.finishError(err)
		}
		locked = false
		st.Status = StatusCompleted
		st.UpdatedAt = storedTime(done)
		outcome = "settled"
		slog.Info("settlement has nothing left to transfer", "settlement_id", id, "expenses", len(expenses))
		return &Calculation{Settlement: st, Balances: SortedBalances(net), Transactions: []*Transaction{}}, nil
	}

	saved, err := s.repo.SaveBatch(ctx, id, token, transfers, done)
	if err != nil {
		return nil, s.finishError(err)
	}
	locked = false
	st.Status = StatusInProgress
	st.UpdatedAt = storedTime(done)
	outcome, generated = "batch", len(saved)

	slog.Info("settlement batch created",
		"settlement_id", id,
		"expenses", len(expenses),
		"transactions", len(saved),
		"rerun", len(previous) > 0,
	)
	return &Calculation{Settlement: st, Balances: SortedBalances(net), Transactions: saved}, nil
}

// Cancel closes a settlement that has no COMPLETED transfer. PENDING
// transfers are canceled with it. Only the treasurer may cancel.
func (s *Service) Cancel(ctx context.Context, id, callerID int64) (*Settlement, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Check(access.CancelSettlement, callerID, access.Grant(access.Treasurer, st.TreasurerID)); err != nil {
		return nil, err
	}
	if st.Status == StatusCompleted || st.Status == StatusCanceled {
		return nil, ErrSettlementClosed
	}

	now := s.now()
	ok, err := s.repo.Cancel(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case StatusCompleted, StatusCanceled:
			return nil, ErrSettlementClosed
		}
		open, err := s.repo.ListTransactions(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, tx := range open {
			if tx.Status == TransactionCompleted {
				return nil, ErrCannotCancel
			}
		}
		return nil, ErrSettlementAlreadyInProgress
	}

	st.Status = StatusCanceled
	st.UpdatedAt = storedTime(now)
	slog.Info("settlement canceled", "settlement_id", id, "treasurer_id", callerID)
	return st, nil
}

// MarkSent records that the payer sent the transfer
func (s *Service) MarkSent(ctx context.Context, settlementID, txID, callerID int64) (*Transaction, error) {
	_, tx, err := s.transaction(ctx, settlementID, txID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(access.SendTransfer, callerID, access.Grant(access.Payer, tx.PayerID)); err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return nil, ErrTransactionNotPending
	}
	if tx.SentAt != nil {
		return nil, ErrTransactionAlreadySent
	}

	now := s.now()
	ok, err := s.repo.MarkSent(ctx, txID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transactionConflict(ctx, txID)
	}

	sent := storedTime(now)
	tx.SentAt = &sent
	tx.UpdatedAt = sent
	slog.Info("settlement transfer sent", "settlement_id", settlementID, "transaction_id", txID, "payer_id", tx.PayerID)
	return tx, nil
}

// Confirm lets the payee acknowledge receipt. The settlement completes
// when its last transfer is confirmed.
func (s *Service) Confirm(ctx context.Context, settlementID, txID, callerID int64) (*Transaction, error) {
	return s.close(ctx, settlementID, txID, callerID, access.ConfirmTransfer, TransactionCompleted)
}

// Fail marks a transfer as not received. The payee or the treasurer may
// fail it; a later calculation nets the amount again.
func (s *Service) Fail(ctx context.Context, settlementID, txID, callerID int64) (*Transaction, error) {
	return s.close(ctx, settlementID, txID, callerID, access.FailTransfer, TransactionFailed)
}

// CancelTransaction withdraws a transfer. Only the treasurer may cancel.
func (s *Service) CancelTransaction(ctx context.Context, settlementID, txID, callerID int64) (*Transaction, error) {
	return s.close(ctx, settlementID, txID, callerID, access.CancelTransfer, TransactionCanceled)
}

func (s *Service) close(ctx context.Context, settlementID, txID, callerID int64, action access.Action, target TransactionStatus) (*Transaction, error) {
	st, tx, err := s.transaction(ctx, settlementID, txID)
	if err != nil {
		return nil, err
	}
	grants := access.Grant(access.Payer, tx.PayerID).
		With(access.Payee, tx.PayeeID).
		With(access.Treasurer, st.TreasurerID)
	if err := access.Check(action, callerID, grants); err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return nil, ErrTransactionNotPending
	}

	now := s.now()
	ok, err := s.repo.CloseTransaction(ctx, txID, target, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTransactionNotPending
	}

	tx.Status = target
	tx.UpdatedAt = storedTime(now)
	slog.Info("settlement transfer closed",
		"settlement_id", settlementID,
		"transaction_id", txID,
		"status", target,
		"by", callerID,
	)

	if target == TransactionCompleted {
		if err := s.completeIfSettled(ctx, settlementID, now); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// completeIfSettled completes the settlement once no transfer is pending
// and the completed transfers cover every balance. It must run after the
// confirmed transfer commits.
func (s *Service) completeIfSettled(ctx context.Context, id int64, now time.Time) error {
	txs, err := s.repo.ListTransactions(ctx, id)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.Status == TransactionPending {
			return nil
		}
	}

	expenses, err := s.expenses.ListBySettlement(ctx, id)
	if err != nil {
		return err
	}
	net, err := Balances(expenses, s.splitter)
	if err != nil {
		return err
	}
	if len(Net(Residual(net, txs))) > 0 {
		return nil
	}

	completed, err := s.repo.CompleteIfSettled(ctx, id, now)
	if err != nil {
		return err
	}
	if completed {
		slog.Info("settlement completed", "settlement_id", id)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id int64) (*Settlement, error) {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrSettlementNotFound
	}
	return st, nil
}

func (s *Service) transaction(ctx context.Context, settlementID, txID int64) (*Settlement, *Transaction, error) {
	st, err := s.load(ctx, settlementID)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	if tx == nil || tx.SettlementID != settlementID {
		return nil, nil, ErrTransactionNotFound
	}
	return st, tx, nil
}

func (s *Service) memberGrants(ctx context.Context, planID, callerID int64) (access.Grants, error) {
	grants := access.Grants{}
	ok, err := s.plans.IsMember(ctx, planID, callerID)
	if err != nil {
		return nil, err
	}
	if ok {
		grants.With(access.Member, callerID)
	}
	return grants, nil
}

func (s *Service) checkViewer(ctx context.Context, st *Settlement, callerID int64) error {
	grants, err := s.memberGrants(ctx, st.PlanID, callerID)
	if err != nil {
		return err
	}
	grants.With(access.Treasurer, st.TreasurerID)
	return access.Check(access.ViewSettlement, callerID, grants)
}

// lockConflict explains a failed Lock
func (s *Service) lockConflict(ctx context.Context, id int64) error {
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == StatusCompleted || current.Status == StatusCanceled {
		return ErrSettlementClosed
	}
	return ErrSettlementAlreadyInProgress
}

func (s *Service) transactionConflict(ctx context.Context, txID int64) error {
	current, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if current != nil && current.Status == TransactionPending {
		return ErrTransactionAlreadySent
	}
	return ErrTransactionNotPending
}

func (s *Service) finishError(err error) error {
	if errors.Is(err, errLockLost) {
		return ErrSettlementAlreadyInProgress
	}
	return err
}

// storedTime truncates t to the precision timestamps are stored with
func storedTime(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
