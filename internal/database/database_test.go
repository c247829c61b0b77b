package database

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), url)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name      string
		dialect   Dialect
		query     string
		args      []any
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "postgres untouched",
			dialect:   Postgres,
			query:     "SELECT * FROM t WHERE a = $2 AND b = $1",
			args:      []any{1, 2},
			wantQuery: "SELECT * FROM t WHERE a = $2 AND b = $1",
			wantArgs:  []any{1, 2},
		},
		{
			name:      "sqlite reorders",
			dialect:   SQLite,
			query:     "SELECT * FROM t WHERE a = $2 AND b = $1",
			args:      []any{1, 2},
			wantQuery: "SELECT * FROM t WHERE a = ? AND b = ?",
			wantArgs:  []any{2, 1},
		},
		{
			name:      "sqlite repeats",
			dialect:   SQLite,
			query:     "UPDATE t SET a = $1, b = $1 WHERE id = $2",
			args:      []any{"x", 7},
			wantQuery: "UPDATE t SET a = ?, b = ? WHERE id = ?",
			wantArgs:  []any{"x", "x", 7},
		},
		{
			name:      "multi-digit placeholder",
			dialect:   SQLite,
			query:     "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
			args:      []any{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			wantQuery: "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			wantArgs:  []any{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotQuery, gotArgs := Rebind(tt.dialect, tt.query, tt.args)
			if gotQuery != tt.wantQuery {
				t.Errorf("query = %q, want %q", gotQuery, tt.wantQuery)
			}
			if !reflect.DeepEqual(gotArgs, tt.wantArgs) {
				t.Errorf("args = %v, want %v", gotArgs, tt.wantArgs)
			}
		})
	}
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open(context.Background(), "mysql://localhost/db"); err == nil {
		t.Fatal("Open() expected error for unsupported scheme")
	}
}

func TestOpenMigrates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"users", "payment_orders", "matches", "settlements", "expenses", "refunds"} {
		if _, err := db.ExecContext(ctx, `SELECT COUNT(*) FROM `+table); err != nil {
			t.Errorf("table %s missing after Open: %v", table, err)
		}
	}
	if err := db.Migrate(ctx); err != nil {
		t.Errorf("Migrate() on a migrated database error = %v", err)
	}
}

func TestUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := Millis(time.Now())

	insert := `INSERT INTO users (username, email, created_at) VALUES ($1, $2, $3)`
	if _, err := db.ExecContext(ctx, insert, "ana", "ana@example.com", now); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := db.ExecContext(ctx, insert, "ana2", "ana@example.com", now)
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("IsUniqueViolation(plain error) = true")
	}
}

func TestTransactRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sentinel := errors.New("abort")

	err := db.Transact(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, email, created_at) VALUES ($1, $2, $3)`,
			"bo", "bo@example.com", Millis(time.Now()))
		if err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Transact() error = %v, want %v", err, sentinel)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("users = %d after rollback, want 0", count)
	}
}

func TestMillisRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond).UTC()
	if got := FromMillis(Millis(now)); !got.Equal(now) {
		t.Errorf("FromMillis(Millis(%v)) = %v", now, got)
	}
	if Millis(time.Time{}) != 0 || !FromMillis(0).IsZero() {
		t.Error("zero time should map to 0 and back")
	}
}
