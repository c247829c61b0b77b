package plan

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fkhayef/travelmate/internal/database"
)

// Repository reads plans and their members. Plans are written elsewhere.
type Repository struct {
	db database.Querier
}

// NewRepository creates a new plan repository
func NewRepository(db database.Querier) *Repository {
	return &Repository{db: db}
}

// GetByID retrieves a plan by its ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*Plan, error) {
	query := `
		SELECT id, name, owner_id, start_date, end_date, created_at
		FROM plans
		WHERE id = $1
	`

	plan := &Plan{}
	var startDate, endDate, createdAt int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&plan.ID,
		&plan.Name,
		&plan.OwnerID,
		&startDate,
		&endDate,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	plan.StartDate = database.FromMillis(startDate)
	plan.EndDate = database.FromMillis(endDate)
	plan.CreatedAt = database.FromMillis(createdAt)

	return plan, nil
}

// GetMembers retrieves all members of a plan ordered by user id
func (r *Repository) GetMembers(ctx context.Context, planID int64) ([]*Member, error) {
	query := `
		SELECT pm.plan_id, pm.user_id, pm.joined_at, u.username
		FROM plan_members pm
		JOIN users u ON pm.user_id = u.id
		WHERE pm.plan_id = $1
		ORDER BY pm.user_id
	`

	rows, err := r.db.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		var joinedAt int64
		if err := rows.Scan(
			&member.PlanID,
			&member.UserID,
			&joinedAt,
			&member.Username,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.JoinedAt = database.FromMillis(joinedAt)
		members = append(members, member)
	}

	return members, rows.Err()
}

// IsMember checks if a user belongs to a plan
func (r *Repository) IsMember(ctx context.Context, planID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM plan_members WHERE plan_id = $1 AND user_id = $2)`,
		planID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}
