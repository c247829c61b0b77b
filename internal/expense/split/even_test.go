package split

import (
	"errors"
	"slices"
	"testing"
)

func TestEvenCalculate(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		members []int64
		want    []Share
	}{
		{
			name:    "divides exactly",
			total:   30000,
			members: []int64{1, 2, 3},
			want:    []Share{{1, 10000}, {2, 10000}, {3, 10000}},
		},
		{
			name:    "remainder to lowest ids",
			total:   10,
			members: []int64{7, 3, 5},
			want:    []Share{{3, 4}, {5, 3}, {7, 3}},
		},
		{
			name:    "single participant",
			total:   999,
			members: []int64{4},
			want:    []Share{{4, 999}},
		},
		{
			name:    "less than one unit each",
			total:   2,
			members: []int64{9, 8, 1},
			want:    []Share{{1, 1}, {8, 1}, {9, 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Even.Calculate(tt.total, tt.members)
			if err != nil {
				t.Fatalf("Calculate() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Calculate() = %v, want %v", got, tt.want)
			}

			var sum int64
			for _, s := range got {
				sum += s.Amount
			}
			if sum != tt.total {
				t.Errorf("shares sum to %d, want %d", sum, tt.total)
			}
		})
	}
}

func TestEvenCalculateDoesNotReorderInput(t *testing.T) {
	members := []int64{3, 1, 2}
	if _, err := Even.Calculate(100, members); err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if !slices.Equal(members, []int64{3, 1, 2}) {
		t.Errorf("input reordered to %v", members)
	}
}

func TestEvenCalculateErrors(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		members []int64
		want    error
	}{
		{"no participants", 100, nil, ErrNoParticipants},
		{"negative total", -1, []int64{1}, ErrNegativeAmount},
		{"duplicate participant", 100, []int64{1, 1, 2}, ErrDuplicateParticipant},
		{"zero id", 100, []int64{0}, ErrParticipantIDRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Even.Calculate(tt.total, tt.members); !errors.Is(err, tt.want) {
				t.Errorf("Calculate() error = %v, want %v", err, tt.want)
			}
		})
	}
}
