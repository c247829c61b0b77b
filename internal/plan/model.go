package plan

import "time"

// Plan is a trip whose members share expenses
type Plan struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"owner_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	CreatedAt time.Time `json:"created_at"`
}

// Ended reports whether the trip window closed before now
func (p *Plan) Ended(now time.Time) bool {
	return !now.Before(p.EndDate)
}

// Member represents a user's membership in a plan
type Member struct {
	PlanID   int64     `json:"plan_id"`
	UserID   int64     `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`

	// Populated from JOIN
	Username string `json:"username,omitempty"`
}
