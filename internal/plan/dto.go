package plan

import "time"

// PlanResponse represents the response for a plan
type PlanResponse struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	OwnerID   int64             `json:"owner_id"`
	StartDate string            `json:"start_date"`
	EndDate   string            `json:"end_date"`
	CreatedAt string            `json:"created_at"`
	Members   []*MemberResponse `json:"members,omitempty"`
}

// MemberResponse represents the response for a plan member
type MemberResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	JoinedAt string `json:"joined_at"`
}

// ToResponse converts a Plan model to a PlanResponse DTO
func (p *Plan) ToResponse() *PlanResponse {
	return &PlanResponse{
		ID:        p.ID,
		Name:      p.Name,
		OwnerID:   p.OwnerID,
		StartDate: p.StartDate.Format(time.RFC3339),
		EndDate:   p.EndDate.Format(time.RFC3339),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

// ToResponse converts a Member model to a MemberResponse DTO
func (m *Member) ToResponse() *MemberResponse {
	return &MemberResponse{
		UserID:   m.UserID,
		Username: m.Username,
		JoinedAt: m.JoinedAt.Format(time.RFC3339),
	}
}
