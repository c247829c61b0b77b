package settlement

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/fkhayef/travelmate/internal/expense"
	"github.com/fkhayef/travelmate/internal/expense/split"
)

func exp(id, payer, amount int64, members ...int64) *expense.Expense {
	e := &expense.Expense{ID: id, PayerID: payer, Amount: amount}
	for _, m := range members {
		e.Participants = append(e.Participants, &expense.Participant{ExpenseID: id, MemberID: m})
	}
	return e
}

// checkClosure verifies that the transfers reproduce net exactly
func checkClosure(t *testing.T, net map[int64]int64, transfers []Transfer) {
	t.Helper()

	moved := map[int64]int64{}
	for _, tr := range transfers {
		if tr.PayerID == tr.PayeeID {
			t.Errorf("transfer %+v pays itself", tr)
		}
		if tr.Cost <= 0 {
			t.Errorf("transfer %+v has non-positive cost", tr)
		}
		moved[tr.PayerID] += tr.Cost
		moved[tr.PayeeID] -= tr.Cost
	}
	for id, amount := range net {
		if moved[id] != -amount {
			t.Errorf("member %d: paid out minus received = %d, want %d", id, moved[id], -amount)
		}
	}
	for id, amount := range moved {
		if amount != 0 && net[id] == 0 {
			t.Errorf("member %d with zero balance moved %d", id, amount)
		}
	}
}

func TestBalancesAndNet(t *testing.T) {
	const a, b, c, d = 1, 2, 3, 4

	tests := []struct {
		name      string
		expenses  []*expense.Expense
		wantNet   map[int64]int64
		wantTrans []Transfer
	}{
		{
			name:      "one payer three participants",
			expenses:  []*expense.Expense{exp(1, a, 30000, a, b, c)},
			wantNet:   map[int64]int64{a: 20000, b: -10000, c: -10000},
			wantTrans: []Transfer{{PayerID: b, PayeeID: a, Cost: 10000}, {PayerID: c, PayeeID: a, Cost: 10000}},
		},
		{
			name:     "remainder goes to lowest ids",
			expenses: []*expense.Expense{exp(1, c, 100, a, b, c)},
			// shares: a 34, b 33, c 33
			wantNet:   map[int64]int64{a: -34, b: -33, c: 67},
			wantTrans: []Transfer{{PayerID: a, PayeeID: c, Cost: 34}, {PayerID: b, PayeeID: c, Cost: 33}},
		},
		{
			name:      "single participant nets to zero",
			expenses:  []*expense.Expense{exp(1, a, 5000, a)},
			wantNet:   map[int64]int64{},
			wantTrans: nil,
		},
		{
			name: "mutual debts cancel",
			expenses: []*expense.Expense{
				exp(1, a, 2000, a, b),
				exp(2, b, 2000, a, b),
			},
			wantNet:   map[int64]int64{a: 0, b: 0},
			wantTrans: nil,
		},
		{
			name: "payer outside the participant set",
			expenses: []*expense.Expense{
				exp(1, d, 9000, a, b, c),
			},
			wantNet: map[int64]int64{a: -3000, b: -3000, c: -3000, d: 9000},
			wantTrans: []Transfer{
				{PayerID: a, PayeeID: d, Cost: 3000},
				{PayerID: b, PayeeID: d, Cost: 3000},
				{PayerID: c, PayeeID: d, Cost: 3000},
			},
		},
		{
			name: "largest creditor pairs with largest debtor",
			expenses: []*expense.Expense{
				exp(1, a, 6000, a, b, c),
				exp(2, b, 3000, b, c, d),
			},
			// a +4000, b -2000+2000=0, c -2000-1000=-3000, d -1000
			wantNet: map[int64]int64{a: 4000, b: 0, c: -3000, d: -1000},
			wantTrans: []Transfer{
				{PayerID: c, PayeeID: a, Cost: 3000},
				{PayerID: d, PayeeID: a, Cost: 1000},
			},
		},
		{
			name:      "no expenses",
			expenses:  nil,
			wantNet:   map[int64]int64{},
			wantTrans: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, err := Balances(tt.expenses, split.Even)
			if err != nil {
				t.Fatalf("Balances() error = %v", err)
			}
			for id, want := range tt.wantNet {
				if net[id] != want {
					t.Errorf("net[%d] = %d, want %d", id, net[id], want)
				}
			}

			var sum int64
			for _, amount := range net {
				sum += amount
			}
			if sum != 0 {
				t.Errorf("balances sum to %d, want 0", sum)
			}

			got := Net(net)
			if !slices.Equal(got, tt.wantTrans) {
				t.Errorf("Net() = %+v, want %+v", got, tt.wantTrans)
			}
			checkClosure(t, net, got)
		})
	}
}

func TestNetTieBreaksOnLowerID(t *testing.T) {
	got := Net(map[int64]int64{7: 500, 3: 500, 9: -500, 5: -500})
	want := []Transfer{
		{PayerID: 5, PayeeID: 3, Cost: 500},
		{PayerID: 9, PayeeID: 7, Cost: 500},
	}
	if !slices.Equal(got, want) {
		t.Errorf("Net() = %+v, want %+v", got, want)
	}
}

func TestNetClosureProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		members := int64(2 + rng.Intn(7))
		var expenses []*expense.Expense
		for i := 0; i < 1+rng.Intn(6); i++ {
			payer := 1 + rng.Int63n(members)
			var participants []int64
			for m := int64(1); m <= members; m++ {
				if rng.Intn(2) == 0 {
					participants = append(participants, m)
				}
			}
			if len(participants) == 0 {
				participants = []int64{payer}
			}
			expenses = append(expenses, exp(int64(i+1), payer, 1+rng.Int63n(100000), participants...))
		}

		net, err := Balances(expenses, split.Even)
		if err != nil {
			t.Fatalf("round %d: Balances() error = %v", round, err)
		}
		transfers := Net(net)
		checkClosure(t, net, transfers)

		nonzero := 0
		for _, amount := range net {
			if amount != 0 {
				nonzero++
			}
		}
		if nonzero > 0 && len(transfers) > nonzero-1 {
			t.Errorf("round %d: %d transfers for %d nonzero balances", round, len(transfers), nonzero)
		}
	}
}

func TestResidual(t *testing.T) {
	net := map[int64]int64{1: 20000, 2: -10000, 3: -10000}
	done := []*Transaction{
		{PayerID: 2, PayeeID: 1, Cost: 10000, Status: TransactionCompleted},
		{PayerID: 3, PayeeID: 1, Cost: 10000, Status: TransactionFailed},
	}

	rest := Residual(net, done)
	want := map[int64]int64{1: 10000, 2: 0, 3: -10000}
	for id, amount := range want {
		if rest[id] != amount {
			t.Errorf("rest[%d] = %d, want %d", id, rest[id], amount)
		}
	}
	if net[1] != 20000 {
		t.Error("Residual modified its input")
	}

	got := Net(rest)
	if !slices.Equal(got, []Transfer{{PayerID: 3, PayeeID: 1, Cost: 10000}}) {
		t.Errorf("Net(rest) = %+v", got)
	}
}

func TestSortedBalances(t *testing.T) {
	got := SortedBalances(map[int64]int64{9: -5, 2: 0, 4: 5})
	want := []NetBalance{{MemberID: 4, Amount: 5}, {MemberID: 9, Amount: -5}}
	if !slices.Equal(got, want) {
		t.Errorf("SortedBalances() = %+v, want %+v", got, want)
	}
}
