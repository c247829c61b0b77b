package settlement

import "time"

// Status represents the status of a settlement
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

// Settlement is the financial closing of one plan
type Settlement struct {
	ID          int64     `json:"id"`
	PlanID      int64     `json:"plan_id"`
	TreasurerID int64     `json:"treasurer_id"`
	Status      Status    `json:"status"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TransactionStatus represents the status of one transfer
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionCanceled  TransactionStatus = "CANCELED"
)

// Terminal reports whether the transfer can no longer change
func (s TransactionStatus) Terminal() bool {
	return s != TransactionPending
}

// Transaction is a transfer the payer owes the payee, acknowledged
// out of band. Only its status and sent time change after creation.
type Transaction struct {
	ID           int64             `json:"id"`
	SettlementID int64             `json:"settlement_id"`
	PayerID      int64             `json:"payer_id"`
	PayeeID      int64             `json:"payee_id"`
	Cost         int64             `json:"cost"`
	Status       TransactionStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NetBalance is a member's net position in a settlement.
// Positive = others owe the member, negative = the member owes others.
type NetBalance struct {
	MemberID int64 `json:"member_id"`
	Amount   int64 `json:"amount"`
}
