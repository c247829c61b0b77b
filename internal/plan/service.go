package plan

import (
	"context"

	"github.com/fkhayef/travelmate/pkg/apperr"
)

// Common errors
var (
	ErrPlanNotFound = apperr.NotFound("plan not found")
	ErrNotMember    = apperr.Authorization("user is not a member of this plan")
)

// Service answers plan and membership lookups for settlements and expenses
type Service struct {
	repo *Repository
}

// NewService creates a new plan service with repository dependency injected
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// GetByID retrieves a plan by its ID
func (s *Service) GetByID(ctx context.Context, id int64) (*Plan, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

// GetWithMembers returns a plan and its members to one of those members
func (s *Service) GetWithMembers(ctx context.Context, id, callerID int64) (*Plan, []*Member, error) {
	plan, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	members, err := s.repo.GetMembers(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range members {
		if m.UserID == callerID {
			return plan, members, nil
		}
	}
	return nil, nil, ErrNotMember
}

// IsMember checks if a user belongs to a plan
func (s *Service) IsMember(ctx context.Context, planID, userID int64) (bool, error) {
	return s.repo.IsMember(ctx, planID, userID)
}
