package plan

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fkhayef/travelmate/pkg/middleware"
	"github.com/fkhayef/travelmate/pkg/response"
)

// Handler handles HTTP requests for plan lookups
type Handler struct {
	service *Service
}

// NewHandler creates a new plan handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Get handles GET /plans/{planId}
// @Summary      Get a plan
// @Description  Get a plan with all its members. Visible to members only.
// @Tags         plans
// @Produce      json
// @Param        planId path int true "Plan ID"
// @Success      200 {object} response.APIResponse{data=PlanResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /plans/{planId} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User not authenticated")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "planId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid plan ID")
		return
	}

	plan, members, err := h.service.GetWithMembers(r.Context(), id, userID)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	resp := plan.ToResponse()
	resp.Members = make([]*MemberResponse, len(members))
	for i, m := range members {
		resp.Members[i] = m.ToResponse()
	}
	response.JSON(w, http.StatusOK, resp)
}
