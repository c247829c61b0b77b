package payment

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fkhayef/travelmate/pkg/middleware"
	"github.com/fkhayef/travelmate/pkg/response"
)

// Handler exposes payments made for shared trip expenses. Match payments
// go through the match endpoints instead.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for payment endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/ready", h.Ready)
	r.Post("/approve", h.Approve)
	r.Get("/approvals/{approvalId}", h.GetApproval)

	return r
}

// Ready handles POST /payments/ready
// @Summary      Start an expense payment
// @Description  Opens a gateway payment session for a shared expense and returns the redirect URLs
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        request body ExpenseReadyRequest true "Payment details"
// @Success      200 {object} response.APIResponse{data=ReadyResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      502 {object} response.APIResponse
// @Router       /payments/ready [post]
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	var req ExpenseReadyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	resp, err := h.service.Ready(r.Context(), ReadyRequest{
		PayerID:     userID,
		ItemName:    req.ItemName,
		Quantity:    req.Quantity,
		TotalAmount: req.TotalAmount,
		Purpose:     PurposeExpense,
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, resp)
}

// Approve handles POST /payments/approve
// @Summary      Capture an expense payment
// @Description  Captures a previously readied expense payment. Retries return the stored approval.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        request body ApproveRequest true "Approval details"
// @Success      200 {object} response.APIResponse{data=ApprovalResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Failure      502 {object} response.APIResponse
// @Router       /payments/approve [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	req.PayerID = userID
	req.Purpose = PurposeExpense

	result, err := h.service.Approve(r.Context(), req)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, result.Approval.ToResponse())
}

// GetApproval handles GET /payments/approvals/{approvalId}
// @Summary      Get a captured payment
// @Tags         payments
// @Produce      json
// @Param        approvalId path int true "Approval ID"
// @Success      200 {object} response.APIResponse{data=ApprovalResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /payments/approvals/{approvalId} [get]
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "approvalId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid approval ID")
		return
	}

	approval, err := h.service.ViewApproval(r.Context(), id, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, approval.ToResponse())
}
