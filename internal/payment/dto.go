package payment

import "time"

// ReadyRequest opens a payment for the caller
type ReadyRequest struct {
	PayerID     int64
	ItemName    string
	Quantity    int
	TotalAmount int64
	Purpose     Purpose
	Payload     string
}

// ReadyResponse tells the client where to send the user to authorize
type ReadyResponse struct {
	TID                   string `json:"tid"`
	OrderID               string `json:"order_id"`
	NextRedirectAppURL    string `json:"next_redirect_app_url"`
	NextRedirectMobileURL string `json:"next_redirect_mobile_url"`
	NextRedirectPCURL     string `json:"next_redirect_pc_url"`
	CreatedAt             string `json:"created_at"`
}

// ApproveRequest captures a payment after the user authorized it
type ApproveRequest struct {
	TID     string `json:"tid"`
	PGToken string `json:"pg_token"`
	OrderID string `json:"order_id"`
	PayerID int64  `json:"user_id"`
	Amount  int64  `json:"amount"`

	// Purpose, when set, must match the purpose the order was opened with
	Purpose Purpose `json:"-"`
}

// ApproveResult is an approval plus the order it captured. Replayed is true
// when the approval already existed and the gateway was not called.
type ApproveResult struct {
	Approval *Approval
	Order    *Order
	Replayed bool
}

// ExpenseReadyRequest is the body of POST /payments/ready
type ExpenseReadyRequest struct {
	ItemName    string `json:"item_name"`
	Quantity    int    `json:"quantity"`
	TotalAmount int64  `json:"total_amount"`
}

// ApprovalResponse represents a captured payment
type ApprovalResponse struct {
	ID             int64  `json:"id"`
	TID            string `json:"tid"`
	PartnerOrderID string `json:"partner_order_id"`
	PayerID        int64  `json:"payer_id"`
	Amount         Amount `json:"amount"`
	ApprovedAt     string `json:"approved_at"`
}

// RefundResponse represents a refund obligation
type RefundResponse struct {
	ID             int64        `json:"id"`
	PartnerOrderID string       `json:"partner_order_id"`
	Amount         int64        `json:"amount"`
	Status         RefundStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	NextAttemptAt  string       `json:"next_attempt_at,omitempty"`
}

// ToResponse converts an Approval model to an ApprovalResponse DTO
func (a *Approval) ToResponse() *ApprovalResponse {
	return &ApprovalResponse{
		ID:             a.ID,
		TID:            a.GatewayTID,
		PartnerOrderID: a.PartnerOrderID,
		PayerID:        a.PayerID,
		Amount:         a.Amount,
		ApprovedAt:     a.ApprovedAt.Format(time.RFC3339),
	}
}

// ToResponse converts a Refund model to a RefundResponse DTO
func (r *Refund) ToResponse() *RefundResponse {
	resp := &RefundResponse{
		ID:             r.ID,
		PartnerOrderID: r.PartnerOrderID,
		Amount:         r.Amount,
		Status:         r.Status,
		Attempts:       r.Attempts,
	}
	if r.Status == RefundStatusPending {
		resp.NextAttemptAt = r.NextAttemptAt.Format(time.RFC3339)
	}
	return resp
}
