package expense

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fkhayef/travelmate/pkg/middleware"
	"github.com/fkhayef/travelmate/pkg/response"
)

// Handler handles HTTP requests for expense operations
type Handler struct {
	service *Service
}

// NewHandler creates a new expense handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for /expenses endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{expenseId}", h.GetByID)
	r.Put("/{expenseId}/participants", h.UpdateParticipants)

	return r
}

// SettlementRoutes returns the router mounted under
// /settlements/{settlementId}/expenses
func (h *Handler) SettlementRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Record)
	r.Get("/", h.List)

	return r
}

// Record handles POST /settlements/{settlementId}/expenses
// @Summary      Record an expense
// @Description  Links a captured payment into the settlement, shared evenly by the given members
// @Tags         expenses
// @Accept       json
// @Produce      json
// @Param        settlementId path int true "Settlement ID"
// @Param        request body RecordExpenseRequest true "Expense details"
// @Success      201 {object} response.APIResponse{data=ExpenseResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /settlements/{settlementId}/expenses [post]
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	settlementID, err := strconv.ParseInt(chi.URLParam(r, "settlementId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid settlement ID")
		return
	}

	var req RecordExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	e, err := h.service.RecordExpense(r.Context(), settlementID, userID, req.PaymentApprovalID, req.MemberIDs)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.Created(w, "/api/v1/expenses/"+strconv.FormatInt(e.ID, 10), e.ToResponse())
}

// List handles GET /settlements/{settlementId}/expenses
// @Summary      List a settlement's expenses
// @Tags         expenses
// @Produce      json
// @Param        settlementId path int true "Settlement ID"
// @Success      200 {object} response.APIResponse{data=[]ExpenseResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /settlements/{settlementId}/expenses [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	settlementID, err := strconv.ParseInt(chi.URLParam(r, "settlementId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid settlement ID")
		return
	}

	expenses, err := h.service.ListBySettlement(r.Context(), settlementID, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	resp := make([]*ExpenseResponse, len(expenses))
	for i, e := range expenses {
		resp[i] = e.ToResponse()
	}
	response.JSON(w, http.StatusOK, resp)
}

// GetByID handles GET /expenses/{expenseId}
// @Summary      Get expense by ID
// @Description  Get an expense with its participants and their shares
// @Tags         expenses
// @Produce      json
// @Param        expenseId path int true "Expense ID"
// @Success      200 {object} response.APIResponse{data=ExpenseResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /expenses/{expenseId} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "expenseId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid expense ID")
		return
	}

	e, err := h.service.GetExpenseByID(r.Context(), id, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, e.ToResponse())
}

// UpdateParticipants handles PUT /expenses/{expenseId}/participants
// @Summary      Replace an expense's participants
// @Description  Replaces the whole participant set. A repeated member id is rejected and nothing is saved.
// @Tags         expenses
// @Accept       json
// @Produce      json
// @Param        expenseId path int true "Expense ID"
// @Param        request body UpdateParticipantsRequest true "New participant set"
// @Success      200 {object} response.APIResponse{data=ParticipantsResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /expenses/{expenseId}/participants [put]
func (h *Handler) UpdateParticipants(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "expenseId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid expense ID")
		return
	}

	var req UpdateParticipantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	participants, err := h.service.UpdateParticipants(r.Context(), id, userID, req.MemberIDs)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, &ParticipantsResponse{
		ExpenseID:    id,
		Participants: participantResponses(participants),
	})
}
