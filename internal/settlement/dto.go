package settlement

import "time"

// SettlementResponse represents the response for a settlement
type SettlementResponse struct {
	ID          int64  `json:"id"`
	PlanID      int64  `json:"plan_id"`
	TreasurerID int64  `json:"treasurer_id"`
	Status      Status `json:"status"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// TransactionResponse represents one transfer of a settlement
type TransactionResponse struct {
	ID           int64             `json:"id"`
	SettlementID int64             `json:"settlement_id"`
	PayerID      int64             `json:"payer_id"`
	PayeeID      int64             `json:"payee_id"`
	Cost         int64             `json:"cost"`
	Status       TransactionStatus `json:"status"`
	SentAt       string            `json:"sent_at,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

// CalculateResponse is returned by a calculation run. Balances are the
// members' net positions over all expenses.
type CalculateResponse struct {
	Settlement   *SettlementResponse    `json:"settlement"`
	Balances     []NetBalance           `json:"balances"`
	Transactions []*TransactionResponse `json:"transactions"`
}

// ToResponse converts a Settlement model to a SettlementResponse DTO
func (s *Settlement) ToResponse() *SettlementResponse {
	return &SettlementResponse{
		ID:          s.ID,
		PlanID:      s.PlanID,
		TreasurerID: s.TreasurerID,
		Status:      s.Status,
		StartDate:   s.StartDate.Format(time.DateOnly),
		EndDate:     s.EndDate.Format(time.DateOnly),
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

// ToResponse converts a Transaction model to a TransactionResponse DTO
func (t *Transaction) ToResponse() *TransactionResponse {
	resp := &TransactionResponse{
		ID:           t.ID,
		SettlementID: t.SettlementID,
		PayerID:      t.PayerID,
		PayeeID:      t.PayeeID,
		Cost:         t.Cost,
		Status:       t.Status,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    t.UpdatedAt.Format(time.RFC3339),
	}
	if t.SentAt != nil {
		resp.SentAt = t.SentAt.Format(time.RFC3339)
	}
	return resp
}

func transactionResponses(txs []*Transaction) []*TransactionResponse {
	resp := make([]*TransactionResponse, len(txs))
	for i, t := range txs {
		resp[i] = t.ToResponse()
	}
	return resp
}

// ToResponse converts a Calculation to a CalculateResponse DTO
func (c *Calculation) ToResponse() *CalculateResponse {
	return &CalculateResponse{
		Settlement:   c.Settlement.ToResponse(),
		Balances:     c.Balances,
		Transactions: transactionResponses(c.Transactions),
	}
}
