package expense

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/fkhayef/travelmate/internal/database"
	"github.com/fkhayef/travelmate/internal/database/dbtest"
	"github.com/fkhayef/travelmate/internal/payment"
	"github.com/fkhayef/travelmate/internal/plan"
	"github.com/fkhayef/travelmate/pkg/apperr"
)

// storedApprovals serves approvals straight from the payment tables
type storedApprovals struct {
	repo *payment.Repository
}

func (s storedApprovals) GetApproval(ctx context.Context, id int64) (*payment.Approval, error) {
	a, err := s.repo.GetApprovalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, payment.ErrApprovalNotFound
	}
	return a, nil
}

type testEnv struct {
	svc        *Service
	db         *database.DB
	a, b, c    int64
	outsider   int64
	settlement int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := dbtest.New(t)
	env := &testEnv{
		db:       db,
		a:        dbtest.User(t, db, "ana"),
		b:        dbtest.User(t, db, "ben"),
		c:        dbtest.User(t, db, "cho"),
		outsider: dbtest.User(t, db, "dan"),
	}
	planID := dbtest.Plan(t, db, env.a, env.b, env.c)
	env.settlement = dbtest.Settlement(t, db, planID, env.a)
	env.svc = NewService(NewRepository(db), storedApprovals{payment.NewRepository(db)}, plan.NewService(plan.NewRepository(db)))
	return env
}

func (e *testEnv) record(t *testing.T, payer, amount int64, members ...int64) *Expense {
	t.Helper()
	approval := dbtest.Approval(t, e.db, payer, amount)
	exp, err := e.svc.RecordExpense(context.Background(), e.settlement, payer, approval, members)
	if err != nil {
		t.Fatalf("RecordExpense() error = %v", err)
	}
	return exp
}

func (e *testEnv) setSettlement(t *testing.T, status string, locked bool) {
	t.Helper()
	var token any
	if locked {
		token = "lock"
	}
	if _, err := e.db.ExecContext(context.Background(),
		`UPDATE settlements SET status = $1, lock_token = $2 WHERE id = $3`, status, token, e.settlement,
	); err != nil {
		t.Fatalf("update settlement: %v", err)
	}
}

func participantIDs(ps []*Participant) []int64 {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.MemberID
	}
	return ids
}

func TestRecordExpense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	exp := env.record(t, env.b, 30000, env.c, env.a, env.b)
	if exp.PayerID != env.b || exp.Amount != 30000 {
		t.Errorf("payer/amount = %d/%d, want %d/30000", exp.PayerID, exp.Amount, env.b)
	}

	got, err := env.svc.GetExpenseByID(ctx, exp.ID, env.c)
	if err != nil {
		t.Fatalf("GetExpenseByID() error = %v", err)
	}
	want := []int64{env.a, env.b, env.c}
	if ids := participantIDs(got.Participants); !slices.Equal(ids, want) {
		t.Errorf("participants = %v, want %v", ids, want)
	}

	list, err := env.svc.ListBySettlement(ctx, env.settlement, env.a)
	if err != nil {
		t.Fatalf("ListBySettlement() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != exp.ID || len(list[0].Participants) != 3 {
		t.Errorf("ListBySettlement() = %+v, want the recorded expense with 3 participants", list)
	}

	if _, err := env.svc.GetExpenseByID(ctx, exp.ID, env.outsider); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("GetExpenseByID(outsider) kind = %s, want %s", apperr.KindOf(err), apperr.KindAuthorization)
	}
}

func TestRecordExpenseRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recorded := env.record(t, env.a, 9000, env.a, env.b)
	outsiderApproval := dbtest.Approval(t, env.db, env.outsider, 5000)

	tests := []struct {
		name     string
		caller   int64
		approval int64
		members  []int64
		wantErr  error
		wantKind apperr.Kind
	}{
		{
			name:     "someone else's payment",
			caller:   env.c,
			approval: dbtest.Approval(t, env.db, env.b, 1000),
			members:  []int64{env.b},
			wantKind: apperr.KindAuthorization,
		},
		{
			name:     "payer outside the plan",
			caller:   env.outsider,
			approval: outsiderApproval,
			members:  []int64{env.a},
			wantErr:  ErrPayerNotMember,
		},
		{
			name:     "participant outside the plan",
			caller:   env.b,
			approval: dbtest.Approval(t, env.db, env.b, 1000),
			members:  []int64{env.b, env.outsider},
			wantErr:  ErrParticipantNotMember,
		},
		{
			name:     "duplicate participant",
			caller:   env.b,
			approval: dbtest.Approval(t, env.db, env.b, 1000),
			members:  []int64{env.b, env.b},
			wantErr:  ErrDuplicateParticipant,
		},
		{
			name:     "no participants",
			caller:   env.b,
			approval: dbtest.Approval(t, env.db, env.b, 1000),
			wantKind: apperr.KindValidation,
		},
		{
			name:     "approval already recorded",
			caller:   env.a,
			approval: recorded.PaymentApprovalID,
			members:  []int64{env.a},
			wantErr:  ErrExpenseAlreadyExists,
		},
		{
			name:     "unknown approval",
			caller:   env.a,
			approval: 99999,
			members:  []int64{env.a},
			wantErr:  payment.ErrApprovalNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.RecordExpense(ctx, env.settlement, tt.caller, tt.approval, tt.members)
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("RecordExpense() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantKind != "" && apperr.KindOf(err) != tt.wantKind {
				t.Errorf("RecordExpense() kind = %s (%v), want %s", apperr.KindOf(err), err, tt.wantKind)
			}
		})
	}

	list, err := env.svc.ListBySettlement(ctx, env.settlement, env.a)
	if err != nil {
		t.Fatalf("ListBySettlement() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expenses = %d, want 1", len(list))
	}
}

// refund records a completed refund against an approval
func (e *testEnv) refund(t *testing.T, approvalID int64) {
	t.Helper()
	ctx := context.Background()
	payments := payment.NewRepository(e.db)
	a, err := payments.GetApprovalByID(ctx, approvalID)
	if err != nil || a == nil {
		t.Fatalf("GetApprovalByID() = %v, %v", a, err)
	}
	now := time.Now()
	ref, err := payments.CreateRefund(ctx, &payment.Refund{
		PaymentApprovalID: a.ID,
		GatewayTID:        a.GatewayTID,
		PartnerOrderID:    a.PartnerOrderID,
		Amount:            a.Amount.Total,
		NextAttemptAt:     now,
		CreatedAt:         now,
	})
	if err != nil {
		t.Fatalf("CreateRefund() error = %v", err)
	}
	if err := payments.CompleteRefund(ctx, ref.ID, 1, now); err != nil {
		t.Fatalf("CompleteRefund() error = %v", err)
	}
}

func TestRecordExpenseRejectsUnusablePayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	refunded := dbtest.Approval(t, env.db, env.b, 30000)
	env.refund(t, refunded)
	matchFee := dbtest.ApprovalFor(t, env.db, env.b, 30000, string(payment.PurposeMatch))

	tests := []struct {
		name     string
		approval int64
		wantErr  error
		wantKind apperr.Kind
	}{
		{"refunded payment", refunded, ErrPaymentRefunded, apperr.KindState},
		{"guide fee payment", matchFee, ErrNotExpensePayment, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.RecordExpense(ctx, env.settlement, env.b, tt.approval, []int64{env.a, env.b, env.c})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RecordExpense() error = %v, want %v", err, tt.wantErr)
			}
			if apperr.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %s, want %s", apperr.KindOf(err), tt.wantKind)
			}
		})
	}

	list, err := env.svc.ListBySettlement(ctx, env.settlement, env.a)
	if err != nil {
		t.Fatalf("ListBySettlement() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expenses = %d, want 0", len(list))
	}
}

func TestCreateRejectsPaymentRefundedAfterCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := NewRepository(env.db)

	approvalID := dbtest.Approval(t, env.db, env.b, 30000)
	env.refund(t, approvalID)

	_, err := repo.Create(ctx, &Expense{
		SettlementID:      env.settlement,
		PaymentApprovalID: approvalID,
		PayerID:           env.b,
		Amount:            30000,
	}, []int64{env.a, env.b}, time.Now())
	if !errors.Is(err, errPaymentNotUsable) {
		t.Fatalf("Create() error = %v, want %v", err, errPaymentNotUsable)
	}
	list, err := repo.ListBySettlement(ctx, env.settlement)
	if err != nil {
		t.Fatalf("ListBySettlement() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expenses = %d, want 0", len(list))
	}
}

func TestUpdateParticipants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exp := env.record(t, env.b, 30000, env.a, env.b)

	got, err := env.svc.UpdateParticipants(ctx, exp.ID, env.b, []int64{env.c, env.b})
	if err != nil {
		t.Fatalf("UpdateParticipants() error = %v", err)
	}
	if ids := participantIDs(got); !slices.Equal(ids, []int64{env.c, env.b}) {
		t.Errorf("returned participants = %v, want %v", ids, []int64{env.c, env.b})
	}

	stored, err := env.svc.GetExpenseByID(ctx, exp.ID, env.b)
	if err != nil {
		t.Fatalf("GetExpenseByID() error = %v", err)
	}
	if ids := participantIDs(stored.Participants); !slices.Equal(ids, []int64{env.b, env.c}) {
		t.Errorf("stored participants = %v, want %v", ids, []int64{env.b, env.c})
	}

	// The treasurer may edit too; a plain participant may not.
	if _, err := env.svc.UpdateParticipants(ctx, exp.ID, env.a, []int64{env.a}); err != nil {
		t.Errorf("UpdateParticipants(treasurer) error = %v", err)
	}
	if _, err := env.svc.UpdateParticipants(ctx, exp.ID, env.c, []int64{env.c}); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("UpdateParticipants(participant) kind = %s, want %s", apperr.KindOf(err), apperr.KindAuthorization)
	}

	if _, err := env.svc.UpdateParticipants(ctx, exp.ID+100, env.b, []int64{env.b}); !errors.Is(err, ErrExpenseNotFound) {
		t.Errorf("UpdateParticipants(missing) error = %v, want %v", err, ErrExpenseNotFound)
	}
}

func TestUpdateParticipantsDuplicatePersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exp := env.record(t, env.b, 30000, env.a, env.b, env.c)

	_, err := env.svc.UpdateParticipants(ctx, exp.ID, env.b, []int64{env.a, env.a, env.b})
	if !errors.Is(err, ErrDuplicateParticipant) {
		t.Fatalf("UpdateParticipants() error = %v, want %v", err, ErrDuplicateParticipant)
	}
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("kind = %s, want %s", apperr.KindOf(err), apperr.KindConflict)
	}

	stored, err := env.svc.GetExpenseByID(ctx, exp.ID, env.b)
	if err != nil {
		t.Fatalf("GetExpenseByID() error = %v", err)
	}
	if ids := participantIDs(stored.Participants); !slices.Equal(ids, []int64{env.a, env.b, env.c}) {
		t.Errorf("participants = %v, want unchanged %v", ids, []int64{env.a, env.b, env.c})
	}
}

func TestReplaceParticipantsRollsBackOnUniqueViolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exp := env.record(t, env.b, 30000, env.a, env.b)
	repo := NewRepository(env.db)

	_, err := repo.ReplaceParticipants(ctx, exp.ID, env.settlement, []int64{env.c, env.c}, exp.CreatedAt)
	if !errors.Is(err, errDuplicateMember) {
		t.Fatalf("ReplaceParticipants() error = %v, want %v", err, errDuplicateMember)
	}

	ps, err := repo.GetParticipants(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetParticipants() error = %v", err)
	}
	if ids := participantIDs(ps); !slices.Equal(ids, []int64{env.a, env.b}) {
		t.Errorf("participants = %v, want unchanged %v", ids, []int64{env.a, env.b})
	}
}

func TestChangesBlockedOnceSettlementMoves(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		locked  bool
		wantErr error
	}{
		{"calculation running", "PENDING", true, ErrSettlementCalculating},
		{"in progress", "IN_PROGRESS", false, ErrSettlementNotPending},
		{"completed", "COMPLETED", false, ErrSettlementNotPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			exp := env.record(t, env.b, 30000, env.a, env.b)
			env.setSettlement(t, tt.status, tt.locked)

			if _, err := env.svc.UpdateParticipants(ctx, exp.ID, env.b, []int64{env.c}); !errors.Is(err, tt.wantErr) {
				t.Errorf("UpdateParticipants() error = %v, want %v", err, tt.wantErr)
			}

			approval := dbtest.Approval(t, env.db, env.c, 1000)
			if _, err := env.svc.RecordExpense(ctx, env.settlement, env.c, approval, []int64{env.c}); !errors.Is(err, tt.wantErr) {
				t.Errorf("RecordExpense() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGuardRejectsLockTakenAfterRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exp := env.record(t, env.b, 30000, env.a, env.b)
	repo := NewRepository(env.db)

	env.setSettlement(t, "PENDING", true)
	_, err := repo.ReplaceParticipants(ctx, exp.ID, env.settlement, []int64{env.c}, exp.CreatedAt)
	if !errors.Is(err, errSettlementBusy) {
		t.Fatalf("ReplaceParticipants() error = %v, want %v", err, errSettlementBusy)
	}
	if got := env.svc.writeError(ctx, env.settlement, err); !errors.Is(got, ErrSettlementCalculating) {
		t.Errorf("writeError() = %v, want %v", got, ErrSettlementCalculating)
	}
}
