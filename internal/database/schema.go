package database

import (
	"context"
	"fmt"
	"strings"
)

// Timestamps are unix milliseconds in BIGINT columns so the same statements
// run unchanged on both engines. {{pk}} expands to the dialect's
// auto-increment primary key.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS plans (
		id {{pk}},
		name TEXT NOT NULL,
		owner_id BIGINT NOT NULL REFERENCES users(id),
		start_date BIGINT NOT NULL,
		end_date BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS plan_members (
		plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id),
		joined_at BIGINT NOT NULL,
		PRIMARY KEY (plan_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS payment_orders (
		order_id TEXT PRIMARY KEY,
		gateway_tid TEXT NOT NULL,
		payer_id BIGINT NOT NULL REFERENCES users(id),
		item_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		total_amount BIGINT NOT NULL CHECK (total_amount > 0),
		purpose TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'READY',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS payment_approvals (
		id {{pk}},
		gateway_tid TEXT NOT NULL,
		partner_order_id TEXT NOT NULL UNIQUE REFERENCES payment_orders(order_id),
		payer_id BIGINT NOT NULL REFERENCES users(id),
		total_amount BIGINT NOT NULL,
		tax_free_amount BIGINT NOT NULL DEFAULT 0,
		vat_amount BIGINT NOT NULL DEFAULT 0,
		point_amount BIGINT NOT NULL DEFAULT 0,
		discount_amount BIGINT NOT NULL DEFAULT 0,
		approved_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS refunds (
		id {{pk}},
		payment_approval_id BIGINT NOT NULL REFERENCES payment_approvals(id),
		gateway_tid TEXT NOT NULL,
		partner_order_id TEXT NOT NULL UNIQUE,
		amount BIGINT NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL DEFAULT 'PENDING',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		next_attempt_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refunds_due ON refunds(status, next_attempt_at)`,

	`CREATE TABLE IF NOT EXISTS guide_request_forms (
		id {{pk}},
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS matches (
		id {{pk}},
		requester_id BIGINT NOT NULL REFERENCES users(id),
		guide_id BIGINT NOT NULL REFERENCES users(id),
		region_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		guide_request_form_id BIGINT NOT NULL REFERENCES guide_request_forms(id),
		partner_order_id TEXT NOT NULL UNIQUE,
		pending_transition TEXT,
		transition_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CHECK (requester_id <> guide_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_guide ON matches(guide_id)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_requester ON matches(requester_id)`,

	`CREATE TABLE IF NOT EXISTS match_tags (
		match_id BIGINT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
		tag_id BIGINT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (match_id, tag_id)
	)`,

	`CREATE TABLE IF NOT EXISTS settlements (
		id {{pk}},
		plan_id BIGINT NOT NULL UNIQUE REFERENCES plans(id),
		treasurer_id BIGINT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL DEFAULT 'PENDING',
		start_date BIGINT NOT NULL,
		end_date BIGINT NOT NULL,
		lock_token TEXT,
		locked_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS expenses (
		id {{pk}},
		settlement_id BIGINT NOT NULL REFERENCES settlements(id),
		payment_approval_id BIGINT NOT NULL UNIQUE REFERENCES payment_approvals(id),
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_expenses_settlement ON expenses(settlement_id)`,

	`CREATE TABLE IF NOT EXISTS expense_participants (
		id {{pk}},
		expense_id BIGINT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
		member_id BIGINT NOT NULL REFERENCES users(id),
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (expense_id, member_id)
	)`,

	`CREATE TABLE IF NOT EXISTS settlement_transactions (
		id {{pk}},
		settlement_id BIGINT NOT NULL REFERENCES settlements(id),
		payer_id BIGINT NOT NULL REFERENCES users(id),
		payee_id BIGINT NOT NULL REFERENCES users(id),
		cost BIGINT NOT NULL CHECK (cost > 0),
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at BIGINT NOT NULL,
		sent_at BIGINT,
		updated_at BIGINT NOT NULL,
		CHECK (payer_id <> payee_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlement_transactions_settlement ON settlement_transactions(settlement_id)`,
}

// Migrate creates every table that does not exist yet
func (db *DB) Migrate(ctx context.Context) error {
	pk := "BIGSERIAL PRIMARY KEY"
	if db.dialect == SQLite {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	for i, stmt := range migrations {
		stmt = strings.ReplaceAll(stmt, "{{pk}}", pk)
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
