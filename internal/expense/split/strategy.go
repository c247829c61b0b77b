// Package split divides an expense total among its participants in integer
// minor units. Shares always sum to the total.
package split

import "errors"

// SplitType defines the type of split strategy
type SplitType string

const (
	SplitTypeEven SplitType = "EVEN"
)

// Share is the portion of an expense one participant owes
type Share struct {
	MemberID int64 `json:"member_id"`
	Amount   int64 `json:"amount"`
}

// Strategy is the interface that all split strategies must implement
type Strategy interface {
	// Calculate computes each participant's share of total
	Calculate(total int64, memberIDs []int64) ([]Share, error)

	// Type returns the type identifier for this strategy
	Type() SplitType
}

var (
	ErrNoParticipants        = errors.New("at least one participant is required")
	ErrNegativeAmount        = errors.New("amounts cannot be negative")
	ErrDuplicateParticipant  = errors.New("participants must be distinct")
	ErrParticipantIDRequired = errors.New("participant ids must be positive")
)

func validate(total int64, memberIDs []int64) error {
	if len(memberIDs) == 0 {
		return ErrNoParticipants
	}
	if total < 0 {
		return ErrNegativeAmount
	}
	seen := make(map[int64]bool, len(memberIDs))
	for _, id := range memberIDs {
		if id <= 0 {
			return ErrParticipantIDRequired
		}
		if seen[id] {
			return ErrDuplicateParticipant
		}
		seen[id] = true
	}
	return nil
}
