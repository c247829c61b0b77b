package match

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fkhayef/travelmate/internal/payment"
	"github.com/fkhayef/travelmate/pkg/apperr"
	"github.com/fkhayef/travelmate/pkg/middleware"
	"github.com/fkhayef/travelmate/pkg/response"
)

var errUserMismatch = apperr.Authorization("user_id does not match the authenticated user")

// Handler handles HTTP requests for match operations
type Handler struct {
	service *Service
}

// NewHandler creates a new match handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for match endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/create", h.Create)
	r.Post("/approve", h.Approve)
	r.Get("/{matchId}", h.GetByID)

	// Guide decisions
	r.Put("/guide/confirm/{matchId}", h.Confirm)
	r.Put("/guide/reject/{matchId}", h.Reject)

	r.Delete("/delete/{matchId}", h.Cancel)

	return r
}

// Create handles POST /match/create
// @Summary      Request a guide match
// @Description  Validates the request and opens the payment. The match is created once the payment is approved.
// @Tags         match
// @Accept       json
// @Produce      json
// @Param        request body Request true "Match request"
// @Success      200 {object} response.APIResponse{data=payment.ReadyResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      502 {object} response.APIResponse
// @Router       /match/create [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	ready, err := h.service.Request(r.Context(), &req, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, ready)
}

// Approve handles POST /match/approve
// @Summary      Approve a match payment
// @Description  Captures the payment and creates the PENDING match. Retrying returns the same approval and match.
// @Tags         match
// @Accept       json
// @Produce      json
// @Param        request body payment.ApproveRequest true "Approval details"
// @Success      200 {object} response.APIResponse{data=ApproveResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Failure      502 {object} response.APIResponse
// @Router       /match/approve [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	var req payment.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.PayerID == 0 {
		req.PayerID = userID
	}
	if req.PayerID != userID {
		response.Err(w, r, errUserMismatch)
		return
	}

	result, err := h.service.Approve(r.Context(), req)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, &ApproveResponse{
		Approval: result.Approval.ToResponse(),
		Match:    result.Match.ToResponse(),
	})
}

// GetByID handles GET /match/{matchId}
// @Summary      Get a match
// @Description  Visible to the requester and the guide only
// @Tags         match
// @Produce      json
// @Param        matchId path int true "Match ID"
// @Success      200 {object} response.APIResponse{data=MatchResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /match/{matchId} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID, matchID, ok := h.params(w, r)
	if !ok {
		return
	}

	m, err := h.service.Get(r.Context(), matchID, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, m.ToResponse())
}

// Confirm handles PUT /match/guide/confirm/{matchId}
// @Summary      Accept a match
// @Tags         match
// @Produce      json
// @Param        matchId path int true "Match ID"
// @Success      200 {object} response.APIResponse{data=MatchResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /match/guide/confirm/{matchId} [put]
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, matchID, ok := h.params(w, r)
	if !ok {
		return
	}

	m, err := h.service.Accept(r.Context(), matchID, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, m.ToResponse())
}

// Reject handles PUT /match/guide/reject/{matchId}
// @Summary      Reject a match
// @Description  Rejects the match and refunds the requester. refund_status is PENDING when the refund will be retried.
// @Tags         match
// @Produce      json
// @Param        matchId path int true "Match ID"
// @Success      200 {object} response.APIResponse{data=RejectResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /match/guide/reject/{matchId} [put]
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	userID, matchID, ok := h.params(w, r)
	if !ok {
		return
	}

	result, err := h.service.Reject(r.Context(), matchID, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, &RejectResponse{
		Match:        result.Match.ToResponse(),
		RefundStatus: result.Refund.Status,
		Refund:       result.Refund.ToResponse(),
	})
}

// Cancel handles DELETE /match/delete/{matchId}
// @Summary      Cancel a match
// @Description  The requester withdraws a PENDING match and is refunded
// @Tags         match
// @Param        matchId path int true "Match ID"
// @Success      204
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /match/delete/{matchId} [delete]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, matchID, ok := h.params(w, r)
	if !ok {
		return
	}

	if _, err := h.service.Cancel(r.Context(), matchID, userID); err != nil {
		response.Err(w, r, err)
		return
	}

	response.NoContent(w)
}

func (h *Handler) params(w http.ResponseWriter, r *http.Request) (userID, matchID int64, ok bool) {
	userID, ok = middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return 0, 0, false
	}

	matchID, err := strconv.ParseInt(chi.URLParam(r, "matchId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid match ID")
		return 0, 0, false
	}
	return userID, matchID, true
}
