package settlement

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fkhayef/travelmate/pkg/middleware"
	"github.com/fkhayef/travelmate/pkg/response"
)

// Handler handles HTTP requests for settlement operations
type Handler struct {
	service *Service
}

// NewHandler creates a new settlement handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// PlanRoutes returns the router mounted under /plans/{planId}/settlement
func (h *Handler) PlanRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.GetByPlan)

	return r
}

// Routes returns the router mounted under /settlements/{settlementId}
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetByID)
	r.Post("/calculate", h.Calculate)
	r.Post("/cancel", h.Cancel)
	r.Get("/transactions", h.ListTransactions)
	r.Post("/transactions/{txId}/send", h.transition((*Service).MarkSent))
	r.Post("/transactions/{txId}/confirm", h.transition((*Service).Confirm))
	r.Post("/transactions/{txId}/fail", h.transition((*Service).Fail))
	r.Post("/transactions/{txId}/cancel", h.transition((*Service).CancelTransaction))

	return r
}

// Create handles POST /plans/{planId}/settlement
// @Summary      Open a plan's settlement
// @Description  A member opens the settlement once the trip has ended and becomes its treasurer
// @Tags         settlements
// @Produce      json
// @Param        planId path int true "Plan ID"
// @Success      201 {object} response.APIResponse{data=SettlementResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /plans/{planId}/settlement [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, planID, ok := params(w, r, "planId", "Invalid plan ID")
	if !ok {
		return
	}

	st, err := h.service.Create(r.Context(), planID, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.Created(w, "/api/v1/settlements/"+strconv.FormatInt(st.ID, 10), st.ToResponse())
}

// GetByPlan handles GET /plans/{planId}/settlement
// @Summary      Get a plan's settlement
// @Tags         settlements
// @Produce      json
// @Param        planId path int true "Plan ID"
// @Success      200 {object} response.APIResponse{data=SettlementResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /plans/{planId}/settlement [get]
func (h *Handler) GetByPlan(w http.ResponseWriter, r *http.Request) {
	userID, planID, ok := params(w, r, "planId", "Invalid plan ID")
	if !ok {
		return
	}

	st, err := h.service.GetByPlan(r.Context(), planID, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, st.ToResponse())
}

// GetByID handles GET /settlements/{settlementId}
// @Summary      Get settlement by ID
// @Tags         settlements
// @Produce      json
// @Param        settlementId path int true "Settlement ID"
// @Success      200 {object} response.APIResponse{data=SettlementResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /settlements/{settlementId} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := params(w, r, "settlementId", "Invalid settlement ID")
	if !ok {
		return
	}

	st, err := h.service.Get(r.Context(), id, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, st.ToResponse())
}

// Calculate handles POST /settlements/{settlementId}/calculate
// @Summary      Calculate settlement transfers
// @Description  Nets every expense into the fewest transfers and stores them as PENDING.
// @Description  Fails with 409 while a calculation runs or transfers are still pending.
// @Tags         settlements
// @Produce      json
// @Param        settlementId path int true "Settlement ID"
// @Success      200 {object} response.APIResponse{data=CalculateResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /settlements/{settlementId}/calculate [post]
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := params(w, r, "settlementId", "Invalid settlement ID")
	if !ok {
		return
	}

	calc, err := h.service.Calculate(r.Context(), id, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, calc.ToResponse())
}

// Cancel handles POST /settlements/{settlementId}/cancel
// @Summary      Cancel a settlement
// @Description  Allowed until a transfer completes. Pending transfers are canceled with it.
// @Tags         settlements
// @Produce      json
// @Param        settlementId path int true "Settlement ID"
// @Success      200 {object} response.APIResponse{data=SettlementResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /settlements/{settlementId}/cancel [post]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := params(w, r, "settlementId", "Invalid settlement ID")
	if !ok {
		return
	}

	st, err := h.service.Cancel(r.Context(), id, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, st.ToResponse())
}

// ListTransactions handles GET /settlements/{settlementId}/transactions
// @Summary      List settlement transfers
// @Tags         settlements
// @Produce      json
// @Param        settlementId path int true "Settlement ID"
// @Success      200 {object} response.APIResponse{data=[]TransactionResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /settlements/{settlementId}/transactions [get]
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := params(w, r, "settlementId", "Invalid settlement ID")
	if !ok {
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), id, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, transactionResponses(txs))
}

type transitionFunc func(s *Service, ctx context.Context, settlementID, txID, callerID int64) (*Transaction, error)

// transition serves POST /settlements/{settlementId}/transactions/{txId}/{send|confirm|fail|cancel}
// @Summary      Update a settlement transfer
// @Description  send: the payer marks it sent. confirm: the payee acknowledges receipt.
// @Description  fail: the payee or treasurer reports it not received. cancel: the treasurer withdraws it.
// @Tags         settlements
// @Produce      json
// @Param        settlementId path int true "Settlement ID"
// @Param        txId path int true "Transaction ID"
// @Param        action path string true "Transition" Enums(send, confirm, fail, cancel)
// @Success      200 {object} response.APIResponse{data=TransactionResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /settlements/{settlementId}/transactions/{txId}/{action} [post]
func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, settlementID, ok := params(w, r, "settlementId", "Invalid settlement ID")
		if !ok {
			return
		}
		txID, err := strconv.ParseInt(chi.URLParam(r, "txId"), 10, 64)
		if err != nil {
			response.BadRequest(w, "Invalid transaction ID")
			return
		}

		tx, err := fn(h.service, r.Context(), settlementID, txID, userID)
		if err != nil {
			response.Err(w, r, err)
			return
		}

		response.JSON(w, http.StatusOK, tx.ToResponse())
	}
}

func params(w http.ResponseWriter, r *http.Request, key, invalid string) (userID, id int64, ok bool) {
	userID, ok = middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return 0, 0, false
	}

	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil {
		response.BadRequest(w, invalid)
		return 0, 0, false
	}
	return userID, id, true
}
