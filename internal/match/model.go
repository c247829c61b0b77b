package match

import "time"

// Status is the lifecycle state of a match
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Match pairs a requester with a guide after the requester paid.
// Matches are never deleted; CANCELED is terminal.
type Match struct {
	ID                 int64     `json:"id"`
	RequesterID        int64     `json:"requester_id"`
	GuideID            int64     `json:"guide_id"`
	RegionID           int64     `json:"region_id"`
	TagIDs             []int64   `json:"tag_ids"`
	Status             Status    `json:"status"`
	GuideRequestFormID int64     `json:"guide_request_form_id"`
	PartnerOrderID     string    `json:"partner_order_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Populated via JOIN
	Form *GuideRequestForm `json:"form,omitempty"`
}

// GuideRequestForm is the requester's note to the guide
type GuideRequestForm struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	CreatedAt time.Time `json:"created_at"`
}
