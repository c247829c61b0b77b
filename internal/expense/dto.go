package expense

import (
	"time"

	"github.com/fkhayef/travelmate/internal/expense/split"
)

// RecordExpenseRequest represents the request to record an expense
type RecordExpenseRequest struct {
	PaymentApprovalID int64   `json:"payment_approval_id"`
	MemberIDs         []int64 `json:"member_ids"`
}

// UpdateParticipantsRequest replaces an expense's participant set
type UpdateParticipantsRequest struct {
	MemberIDs []int64 `json:"member_id"`
}

// ExpenseResponse represents the response for an expense
type ExpenseResponse struct {
	ID                int64                  `json:"id"`
	SettlementID      int64                  `json:"settlement_id"`
	PaymentApprovalID int64                  `json:"payment_approval_id"`
	PayerID           int64                  `json:"payer_id"`
	Amount            int64                  `json:"amount"`
	CreatedAt         string                 `json:"created_at"`
	Participants      []*ParticipantResponse `json:"participants"`
	Shares            []split.Share          `json:"shares,omitempty"`
}

// ParticipantResponse represents the response for a participant
type ParticipantResponse struct {
	ID        int64  `json:"id"`
	MemberID  int64  `json:"member_id"`
	UpdatedAt string `json:"updated_at"`
}

// ParticipantsResponse is returned by PUT /expenses/{expenseId}/participants
type ParticipantsResponse struct {
	ExpenseID    int64                  `json:"expense_id"`
	Participants []*ParticipantResponse `json:"participants"`
}

// ToResponse converts an Expense model to an ExpenseResponse DTO, including
// each participant's even share.
func (e *Expense) ToResponse() *ExpenseResponse {
	resp := &ExpenseResponse{
		ID:                e.ID,
		SettlementID:      e.SettlementID,
		PaymentApprovalID: e.PaymentApprovalID,
		PayerID:           e.PayerID,
		Amount:            e.Amount,
		CreatedAt:         e.CreatedAt.Format(time.RFC3339),
		Participants:      participantResponses(e.Participants),
	}
	if shares, err := split.Even.Calculate(e.Amount, e.MemberIDs()); err == nil {
		resp.Shares = shares
	}
	return resp
}

// ToResponse converts a Participant model to a ParticipantResponse DTO
func (p *Participant) ToResponse() *ParticipantResponse {
	return &ParticipantResponse{
		ID:        p.ID,
		MemberID:  p.MemberID,
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

func participantResponses(ps []*Participant) []*ParticipantResponse {
	out := make([]*ParticipantResponse, len(ps))
	for i, p := range ps {
		out[i] = p.ToResponse()
	}
	return out
}
