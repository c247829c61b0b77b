package payment

import "time"

// OrderStatus tracks a payment order between ready and approve
type OrderStatus string

const (
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusApproving OrderStatus = "APPROVING"
	OrderStatusApproved  OrderStatus = "APPROVED"
)

// Purpose says what a captured payment pays for
type Purpose string

const (
	PurposeMatch   Purpose = "MATCH"
	PurposeExpense Purpose = "EXPENSE"
)

// Order is created by Ready and correlates the later Approve call
type Order struct {
	OrderID     string      `json:"order_id"`
	GatewayTID  string      `json:"tid"`
	PayerID     int64       `json:"payer_id"`
	ItemName    string      `json:"item_name"`
	Quantity    int         `json:"quantity"`
	TotalAmount int64       `json:"total_amount"`
	Purpose     Purpose     `json:"purpose"`
	Payload     string      `json:"-"` // JSON the caller needs back after approve
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Amount is the gateway's breakdown of a captured amount, in minor units
type Amount struct {
	Total    int64 `json:"total"`
	TaxFree  int64 `json:"tax_free"`
	VAT      int64 `json:"vat"`
	Point    int64 `json:"point"`
	Discount int64 `json:"discount"`
}

// Approval is an immutable record of a captured payment
type Approval struct {
	ID             int64     `json:"id"`
	GatewayTID     string    `json:"tid"`
	PartnerOrderID string    `json:"partner_order_id"`
	PayerID        int64     `json:"payer_id"`
	Amount         Amount    `json:"amount"`
	ApprovedAt     time.Time `json:"approved_at"`
}

// RefundStatus tracks a refund obligation
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusCompleted RefundStatus = "COMPLETED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// Refund is an obligation to return a captured payment. It stays PENDING
// until the gateway confirms the cancel or the retry budget runs out.
type Refund struct {
	ID                int64        `json:"id"`
	PaymentApprovalID int64        `json:"payment_approval_id"`
	GatewayTID        string       `json:"tid"`
	PartnerOrderID    string       `json:"partner_order_id"`
	Amount            int64        `json:"amount"`
	Status            RefundStatus `json:"status"`
	Attempts          int          `json:"attempts"`
	LastError         string       `json:"last_error,omitempty"`
	NextAttemptAt     time.Time    `json:"next_attempt_at"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}
