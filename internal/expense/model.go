package expense

import "time"

// Expense links one captured payment into a settlement's expense pool.
// Payer and amount come from the payment approval.
type Expense struct {
	ID                int64     `json:"id"`
	SettlementID      int64     `json:"settlement_id"`
	PaymentApprovalID int64     `json:"payment_approval_id"`
	PayerID           int64     `json:"payer_id"`
	Amount            int64     `json:"amount"`
	CreatedAt         time.Time `json:"created_at"`

	Participants []*Participant `json:"participants,omitempty"`
}

// MemberIDs returns the participant member ids in stored order
func (e *Expense) MemberIDs() []int64 {
	ids := make([]int64, len(e.Participants))
	for i, p := range e.Participants {
		ids[i] = p.MemberID
	}
	return ids
}

// Participant is a member sharing an expense
type Participant struct {
	ID        int64     `json:"id"`
	ExpenseID int64     `json:"expense_id"`
	MemberID  int64     `json:"member_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// settlementRef is the part of a settlement expense rules depend on
type settlementRef struct {
	ID          int64
	PlanID      int64
	TreasurerID int64
	Status      string
	Locked      bool
}
