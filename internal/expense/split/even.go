package split

import "slices"

// EvenStrategy divides the total equally. The remainder of the integer
// division goes one unit each to the lowest member ids.
type EvenStrategy struct{}

// Type returns the split type identifier
func (s *EvenStrategy) Type() SplitType {
	return SplitTypeEven
}

// Calculate returns one share per participant, ordered by member id
func (s *EvenStrategy) Calculate(total int64, memberIDs []int64) ([]Share, error) {
	if err := validate(total, memberIDs); err != nil {
		return nil, err
	}

	ids := slices.Clone(memberIDs)
	slices.Sort(ids)

	n := int64(len(ids))
	base, remainder := total/n, total%n

	shares := make([]Share, len(ids))
	for i, id := range ids {
		amount := base
		if int64(i) < remainder {
			amount++
		}
		shares[i] = Share{MemberID: id, Amount: amount}
	}
	return shares, nil
}

// Even is the strategy used for every expense
var Even Strategy = &EvenStrategy{}
