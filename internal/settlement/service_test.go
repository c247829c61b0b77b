package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fkhayef/travelmate/internal/config"
	"github.com/fkhayef/travelmate/internal/database"
	"github.com/fkhayef/travelmate/internal/database/dbtest"
	"github.com/fkhayef/travelmate/internal/expense"
	"github.com/fkhayef/travelmate/internal/payment"
	"github.com/fkhayef/travelmate/internal/plan"
	"github.com/fkhayef/travelmate/pkg/apperr"
)

type testEnv struct {
	svc      *Service
	expenses *expense.Service
	db       *database.DB
	now      time.Time
	a, b, c  int64
	outsider int64
	plan     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := dbtest.New(t)
	env := &testEnv{
		db:       db,
		now:      time.Now().UTC().Add(96 * time.Hour),
		a:        dbtest.User(t, db, "ana"),
		b:        dbtest.User(t, db, "ben"),
		c:        dbtest.User(t, db, "cho"),
		outsider: dbtest.User(t, db, "dan"),
	}
	env.plan = dbtest.Plan(t, db, env.a, env.b, env.c)

	plans := plan.NewService(plan.NewRepository(db))
	payments := payment.NewService(payment.NewRepository(db), nil, nil, config.GatewayConfig{}, config.RefundConfig{}, nil)
	expenseRepo := expense.NewRepository(db)
	env.expenses = expense.NewService(expenseRepo, payments, plans)
	env.svc = NewService(NewRepository(db), plans, expenseRepo, nil)
	env.svc.now = func() time.Time { return env.now }
	return env
}

// open creates the settlement with a as treasurer
func (e *testEnv) open(t *testing.T) *Settlement {
	t.Helper()
	st, err := e.svc.Create(context.Background(), e.plan, e.a)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return st
}

func (e *testEnv) spend(t *testing.T, settlementID, payer, amount int64, members ...int64) {
	t.Helper()
	approval := dbtest.Approval(t, e.db, payer, amount)
	if _, err := e.expenses.RecordExpense(context.Background(), settlementID, payer, approval, members); err != nil {
		t.Fatalf("RecordExpense() error = %v", err)
	}
}

func (e *testEnv) calculate(t *testing.T, id int64) *Calculation {
	t.Helper()
	calc, err := e.svc.Calculate(context.Background(), id, e.a)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	return calc
}

func (e *testEnv) status(t *testing.T, id int64) Status {
	t.Helper()
	st, err := e.svc.Get(context.Background(), id, e.a)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return st.Status
}

func byPayer(txs []*Transaction, payer int64) *Transaction {
	for _, tx := range txs {
		if tx.PayerID == payer {
			return tx
		}
	}
	return nil
}

func TestCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.Create(ctx, env.plan, env.b)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if st.TreasurerID != env.b || st.Status != StatusPending || st.PlanID != env.plan {
		t.Errorf("Create() = %+v, want PENDING with treasurer %d", st, env.b)
	}

	byPlan, err := env.svc.GetByPlan(ctx, env.plan, env.c)
	if err != nil {
		t.Fatalf("GetByPlan() error = %v", err)
	}
	if byPlan.ID != st.ID {
		t.Errorf("GetByPlan() id = %d, want %d", byPlan.ID, st.ID)
	}

	if _, err := env.svc.Create(ctx, env.plan, env.a); !errors.Is(err, ErrSettlementExists) {
		t.Errorf("second Create() error = %v, want %v", err, ErrSettlementExists)
	}
	if _, err := env.svc.Get(ctx, st.ID, env.outsider); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("Get(outsider) kind = %s, want %s", apperr.KindOf(err), apperr.KindAuthorization)
	}
}

func TestCreateRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Create(ctx, env.plan, env.outsider); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("Create(outsider) kind = %s, want %s", apperr.KindOf(err), apperr.KindAuthorization)
	}
	if _, err := env.svc.Create(ctx, 99999, env.a); !errors.Is(err, plan.ErrPlanNotFound) {
		t.Errorf("Create(unknown plan) error = %v, want %v", err, plan.ErrPlanNotFound)
	}

	env.now = time.Now().UTC()
	if _, err := env.svc.Create(ctx, env.plan, env.a); !errors.Is(err, ErrTripNotOver) {
		t.Errorf("Create() during the trip error = %v, want %v", err, ErrTripNotOver)
	}
}

func TestCalculateSettlesEvenSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	st := env.open(t)

	env.spend(t, st.ID, env.a, 30000, env.a, env.b, env.c)

	calc := env.calculate(t, st.ID)
	if calc.Settlement.Status != StatusInProgress {
		t.Errorf("status = %s, want %s", calc.Settlement.Status, StatusInProgress)
	}
	if len(calc.Transactions) != 2 {
		t.Fatalf("transactions = %d, want 2", len(calc.Transactions))
	}
	for _, payer := range []int64{env.b, env.c} {
		tx := byPayer(calc.Transactions, payer)
		if tx == nil || tx.PayeeID != env.a || tx.Cost != 10000 || tx.Status != TransactionPending {
			t.Errorf("transfer from %d = %+v, want 10000 PENDING to %d", payer, tx, env.a)
		}
	}
	wantBalances := []NetBalance{{env.a, 20000}, {env.b, -10000}, {env.c, -10000}}
	for i, b := range calc.Balances {
		if b != wantBalances[i] {
			t.Errorf("balances[%d] = %+v, want %+v", i, b, wantBalances[i])
		}
	}

	// a second run while transfers are pending changes nothing
	if _, err := env.svc.Calculate(ctx, st.ID, env.a); !errors.Is(err, ErrSettlementAlreadyInProgress) {
		t.Errorf("second Calculate() error = %v, want %v", err, ErrSettlementAlreadyInProgress)
	}
	txs, err := env.svc.ListTransactions(ctx, st.ID, env.b)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("transactions after rerun = %d, want 2", len(txs))
	}

	// expenses are frozen once the settlement left PENDING
	approval := dbtest.Approval(t, env.db, env.b, 5000)
	if _, err := env.expenses.RecordExpense(ctx, st.ID, env.b, approval, []int64{env.b}); !errors.Is(err, expense.ErrSettlementNotPending) {
		t.Errorf("RecordExpense() after calculate error = %v, want %v", err, expense.ErrSettlementNotPending)
	}
}

func TestCalculateOnlyTreasurer(t *testing.T) {
	env := newTestEnv(t)
	st := env.open(t)

	if _, err := env.svc.Calculate(context.Background(), st.ID, env.b); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("Calculate(member) kind = %s, want %s", apperr.KindOf(err), apperr.KindAuthorization)
	}
}

func TestCalculateWithoutExpenses(t *testing.T) {
	env := newTestEnv(t)
	st := env.open(t)

	calc := env.calculate(t, st.ID)
	if len(calc.Transactions) != 0 || calc.Settlement.Status != StatusPending {
		t.Errorf("Calculate() = %d transactions, status %s; want none, PENDING", len(calc.Transactions), calc.Settlement.Status)
	}

	// the lock was released, so expenses and later runs still go through
	env.spend(t, st.ID, env.b, 900, env.a, env.b, env.c)
	calc = env.calculate(t, st.ID)
	if len(calc.Transactions) != 2 {
		t.Errorf("transactions = %d, want 2", len(calc.Transactions))
	}
}

func TestCalculateMutualDebtsCompleteImmediately(t *testing.T) {
	env := newTestEnv(t)
	st := env.open(t)

	env.spend(t, st.ID, env.a, 1000, env.a, env.b)
	env.spend(t, st.ID, env.b, 1000, env.a, env.b)

	calc := env.calculate(t, st.ID)
	if len(calc.Transactions) != 0 {
		t.Errorf("transactions = %d, want 0", len(calc.Transactions))
	}
	if got := env.status(t, st.ID); got != StatusCompleted {
		t.Errorf("status = %s, want %s", got, StatusCompleted)
	}
}

func TestCalculateHonorsLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	st := env.open(t)
	env.spend(t, st.ID, env.a, 3000, env.a, env.b)

	lock := func(at time.Time) {
		t.Helper()
		if _, err := env.db.ExecContext(ctx,
			`UPDATE settlements SET lock_token = 'other', locked_at = $1 WHERE id = $2`,
			database.Millis(at), st.ID,
		); err != nil {
			t.Fatalf("lock settlement: %v", err)
		}
	}

	lock(env.now)
	if _, err := env.svc.Calculate(ctx, st.ID, env.a); !errors.Is(err, ErrSettlementAlreadyInProgress) {
		t.Fatalf("Calculate() under a live lock error = %v, want %v", err, ErrSettlementAlreadyInProgress)
	}

	lock(env.now.Add(-lockTTL - time.Second))
	calc := env.calculate(t, st.ID)
	if len(calc.Transactions) != 1 {
		t.Errorf("transactions after stale takeover = %d, want 1", len(calc.Transactions))
	}
}

func TestTransferLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	st := env.open(t)
	env.spend(t, st.ID, env.a, 30000, env.a, env.b, env.c)
	calc := env.calculate(t, st.ID)
	fromB := byPayer(calc.Transactions, env.b)
	fromC := byPayer(calc.Transactions, env.c)

	if _, err := env.svc.MarkSent(ctx, st.ID, fromB.ID, env.a); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("MarkSent(payee) kind = %s, want %s", apperr.KindOf(err), apperr.KindAuthorization)
	}
	sent, err := env.svc.MarkSent(ctx, st.ID, fromB.ID, env.b)
	if err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if sent.SentAt == nil || sent.Status != TransactionPending {
		t.Errorf("MarkSent() = %+v, want sent and still PENDING", sent)
	}
	if _, err := env.svc.MarkSent(ctx, st.ID, fromB.ID, env.b); !errors.Is(err, ErrTransactionAlreadySent) {
		t.Errorf("second MarkSent() error = %v, want %v", err, ErrTransactionAlreadySent)
	}

	if _, err := env.svc.Confirm(ctx, st.ID, fromB.ID, env.b); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("Confirm(payer) kind = %s, want %s", apperr.KindOf(err), apperr.KindAuthorization)
	}
	if _, err := env.svc.Confirm(ctx, st.ID, fromB.ID, env.a); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if got := env.status(t, st.ID); got != StatusInProgress {
		t.Errorf("status after one confirmation = %s, want %s", got, StatusInProgress)
	}
	if _, err := env.svc.Fail(ctx, st.ID, fromB.ID, env.a); !errors.Is(err, ErrTransactionNotPending) {
		t.Errorf("Fail(completed) error = %v, want %v", err, ErrTransactionNotPending)
	}

	if _, err := env.svc.Confirm(ctx, st.ID, fromC.ID, env.a); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if got := env.status(t, st.ID); got != StatusCompleted {
		t.Errorf("status = %s, want %s", got, StatusCompleted)
	}
	if _, err := env.svc.Calculate(ctx, st.ID, env.a); !errors.Is(err, ErrSettlementClosed) {
		t.Errorf("Calculate() on completed error = %v, want %v", err, ErrSettlementClosed)
	}
}

func TestTransferOfAnotherSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	st := env.open(t)
	env.spend(t, st.ID, env.a, 2000, env.a, env.b)
	tx := env.calculate(t, st.ID).Transactions[0]

	otherPlan := dbtest.Plan(t, env.db, env.a, env.b)
	other := dbtest.Settlement(t, env.db, otherPlan, env.a)

	if _, err := env.svc.Confirm(ctx, other, tx.ID, env.a); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("Confirm() via other settlement error = %v, want %v", err, ErrTransactionNotFound)
	}
}

func TestRecalculateAfterFailedTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	st := env.open(t)
	env.spend(t, st.ID, env.a, 30000, env.a, env.b, env.c)
	calc := env.calculate(t, st.ID)
	fromB := byPayer(calc.Transactions, env.b)
	fromC := byPayer(calc.Transactions, env.c)

	if _, err := env.svc.Confirm(ctx, st.ID, fromB.ID, env.a); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if _, err := env.svc.Fail(ctx, st.ID, fromC.ID, env.a); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if got := env.status(t, st.ID); got != StatusInProgress {
		t.Errorf("status after a failed transfer = %s, want %s", got, StatusInProgress)
	}

	rerun := env.calculate(t, st.ID)
	if len(rerun.Transactions) != 1 {
		t.Fatalf("rerun transactions = %d, want 1", len(rerun.Transactions))
	}
	retry := rerun.Transactions[0]
	if retry.PayerID != env.c || retry.PayeeID != env.a || retry.Cost != 10000 {
		t.Errorf("rerun transfer = %+v, want 10000 from %d to %d", retry, env.c, env.a)
	}

	if _, err := env.svc.Confirm(ctx, st.ID, retry.ID, env.a); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if got := env.status(t, st.ID); got != StatusCompleted {
		t.Errorf("status = %s, want %s", got, StatusCompleted)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	st := env.open(t)
	env.spend(t, st.ID, env.a, 30000, env.a, env.b, env.c)
	env.calculate(t, st.ID)

	if _, err := env.svc.Cancel(ctx, st.ID, env.b); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("Cancel(member) kind = %s, want %s", apperr.KindOf(err), apperr.KindAuthorization)
	}

	canceled, err := env.svc.Cancel(ctx, st.ID, env.a)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Errorf("status = %s, want %s", canceled.Status, StatusCanceled)
	}
	txs, err := env.svc.ListTransactions(ctx, st.ID, env.a)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	for _, tx := range txs {
		if tx.Status != TransactionCanceled {
			t.Errorf("transaction %d status = %s, want %s", tx.ID, tx.Status, TransactionCanceled)
		}
	}

	if _, err := env.svc.Cancel(ctx, st.ID, env.a); !errors.Is(err, ErrSettlementClosed) {
		t.Errorf("second Cancel() error = %v, want %v", err, ErrSettlementClosed)
	}
}

func TestCancelAfterCompletedTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	st := env.open(t)
	env.spend(t, st.ID, env.a, 30000, env.a, env.b, env.c)
	calc := env.calculate(t, st.ID)

	if _, err := env.svc.Confirm(ctx, st.ID, byPayer(calc.Transactions, env.b).ID, env.a); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if _, err := env.svc.Cancel(ctx, st.ID, env.a); !errors.Is(err, ErrCannotCancel) {
		t.Errorf("Cancel() error = %v, want %v", err, ErrCannotCancel)
	}
	if got := env.status(t, st.ID); got != StatusInProgress {
		t.Errorf("status = %s, want %s", got, StatusInProgress)
	}
}
