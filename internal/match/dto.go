package match

import (
	"time"

	"github.com/fkhayef/travelmate/internal/payment"
)

// Request is the body of POST /match/create. It is also stored with the
// payment order and replayed when the payment is approved.
type Request struct {
	GuideID  int64     `json:"guide_id"`
	RegionID int64     `json:"region_id"`
	TagIDs   []int64   `json:"tag_ids"`
	Form     FormInput `json:"form"`
	Amount   int64     `json:"amount"`
}

// FormInput is the guide request form as submitted
type FormInput struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ApproveResult is a captured payment and the match it produced
type ApproveResult struct {
	Approval *payment.Approval
	Match    *Match
}

// TransitionResult is the outcome of a refund-bearing transition
type TransitionResult struct {
	Match  *Match
	Refund *payment.Refund
}

// MatchResponse represents the response for a match
type MatchResponse struct {
	ID             int64         `json:"id"`
	RequesterID    int64         `json:"requester_id"`
	GuideID        int64         `json:"guide_id"`
	RegionID       int64         `json:"region_id"`
	TagIDs         []int64       `json:"tag_ids"`
	Status         Status        `json:"status"`
	PartnerOrderID string        `json:"partner_order_id"`
	Form           *FormResponse `json:"form,omitempty"`
	CreatedAt      string        `json:"created_at"`
	UpdatedAt      string        `json:"updated_at"`
}

// FormResponse represents a guide request form
type FormResponse struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ApproveResponse is returned by POST /match/approve
type ApproveResponse struct {
	Approval *payment.ApprovalResponse `json:"approval"`
	Match    *MatchResponse            `json:"match"`
}

// RejectResponse is returned by PUT /match/guide/reject/{matchId}
type RejectResponse struct {
	Match        *MatchResponse          `json:"match"`
	RefundStatus payment.RefundStatus    `json:"refund_status"`
	Refund       *payment.RefundResponse `json:"refund,omitempty"`
}

// ToResponse converts a Match model to a MatchResponse DTO
func (m *Match) ToResponse() *MatchResponse {
	resp := &MatchResponse{
		ID:             m.ID,
		RequesterID:    m.RequesterID,
		GuideID:        m.GuideID,
		RegionID:       m.RegionID,
		TagIDs:         m.TagIDs,
		Status:         m.Status,
		PartnerOrderID: m.PartnerOrderID,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      m.UpdatedAt.Format(time.RFC3339),
	}
	if m.Form != nil {
		resp.Form = &FormResponse{
			ID:        m.Form.ID,
			Title:     m.Form.Title,
			Message:   m.Form.Message,
			StartDate: m.Form.StartDate,
			EndDate:   m.Form.EndDate,
		}
	}
	return resp
}
