// Package dbtest provides a throwaway SQLite database and seed helpers for
// repository and service tests.
package dbtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fkhayef/travelmate/internal/database"
)

var seq atomic.Int64

// New opens a migrated SQLite database in t.TempDir()
func New(t testing.TB) *database.DB {
	t.Helper()

	url := "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("dbtest: open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// User inserts a user and returns its id
func User(t testing.TB, db *database.DB, username string) int64 {
	t.Helper()

	email := fmt.Sprintf("%s.%d@example.com", username, seq.Add(1))
	var id int64
	err := db.QueryRowContext(context.Background(),
		`INSERT INTO users (username, email, created_at) VALUES ($1, $2, $3) RETURNING id`,
		username, email, database.Millis(time.Now()),
	).Scan(&id)
	if err != nil {
		t.Fatalf("dbtest: insert user: %v", err)
	}
	return id
}

// Plan inserts a plan owned by ownerID with the given members (owner included
// automatically) and returns its id.
func Plan(t testing.TB, db *database.DB, ownerID int64, memberIDs ...int64) int64 {
	t.Helper()

	ctx := context.Background()
	now := time.Now()

	var id int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO plans (name, owner_id, start_date, end_date, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		"trip", ownerID, database.Millis(now), database.Millis(now.Add(72*time.Hour)), database.Millis(now),
	).Scan(&id)
	if err != nil {
		t.Fatalf("dbtest: insert plan: %v", err)
	}

	seen := map[int64]bool{}
	for _, m := range append([]int64{ownerID}, memberIDs...) {
		if seen[m] {
			continue
		}
		seen[m] = true
		if _, err := db.ExecContext(ctx,
			`INSERT INTO plan_members (plan_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			id, m, database.Millis(now),
		); err != nil {
			t.Fatalf("dbtest: insert plan member: %v", err)
		}
	}
	return id
}

// Approval inserts a captured expense payment (order plus approval) for
// payerID and returns the approval id.
func Approval(t testing.TB, db *database.DB, payerID, amount int64) int64 {
	t.Helper()
	return ApprovalFor(t, db, payerID, amount, "EXPENSE")
}

// ApprovalFor is Approval for an order opened with purpose
func ApprovalFor(t testing.TB, db *database.DB, payerID, amount int64, purpose string) int64 {
	t.Helper()

	ctx := context.Background()
	now := database.Millis(time.Now())
	orderID := fmt.Sprintf("order-%d", seq.Add(1))
	tid := "T" + orderID

	if _, err := db.ExecContext(ctx,
		`INSERT INTO payment_orders (order_id, gateway_tid, payer_id, item_name, quantity, total_amount, purpose, status, created_at, updated_at)
		 VALUES ($1, $2, $3, 'expense', 1, $4, $5, 'APPROVED', $6, $6)`,
		orderID, tid, payerID, amount, purpose, now,
	); err != nil {
		t.Fatalf("dbtest: insert order: %v", err)
	}

	var id int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO payment_approvals (gateway_tid, partner_order_id, payer_id, total_amount, approved_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		tid, orderID, payerID, amount, now,
	).Scan(&id)
	if err != nil {
		t.Fatalf("dbtest: insert approval: %v", err)
	}
	return id
}

// Settlement inserts a PENDING settlement for planID and returns its id
func Settlement(t testing.TB, db *database.DB, planID, treasurerID int64) int64 {
	t.Helper()

	now := database.Millis(time.Now())
	var id int64
	err := db.QueryRowContext(context.Background(),
		`INSERT INTO settlements (plan_id, treasurer_id, status, start_date, end_date, created_at, updated_at)
		 SELECT id, $1, 'PENDING', start_date, end_date, $2, $2 FROM plans WHERE id = $3
		 RETURNING id`,
		treasurerID, now, planID,
	).Scan(&id)
	if err != nil {
		t.Fatalf("dbtest: insert settlement: %v", err)
	}
	return id
}
