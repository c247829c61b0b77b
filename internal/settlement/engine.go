package settlement

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/fkhayef/travelmate/internal/expense"
	"github.com/fkhayef/travelmate/internal/expense/split"
)

// Transfer is one computed payment from a debtor to a creditor
type Transfer struct {
	PayerID int64 `json:"payer_id"`
	PayeeID int64 `json:"payee_id"`
	Cost    int64 `json:"cost"`
}

// Balances computes every member's net balance over the expenses. Each
// participant owes their share of an expense to its payer; the balances
// always sum to zero.
func Balances(expenses []*expense.Expense, splitter split.Strategy) (map[int64]int64, error) {
	net := make(map[int64]int64)
	for _, e := range expenses {
		shares, err := splitter.Calculate(e.Amount, e.MemberIDs())
		if err != nil {
			return nil, fmt.Errorf("expense %d: %w", e.ID, err)
		}
		for _, s := range shares {
			if s.MemberID == e.PayerID {
				continue
			}
			net[e.PayerID] += s.Amount
			net[s.MemberID] -= s.Amount
		}
	}
	return net, nil
}

// Residual subtracts transfers that already completed from net, leaving
// what is still owed.
func Residual(net map[int64]int64, completed []*Transaction) map[int64]int64 {
	rest := make(map[int64]int64, len(net))
	for id, amount := range net {
		rest[id] = amount
	}
	for _, tx := range completed {
		if tx.Status != TransactionCompleted {
			continue
		}
		rest[tx.PayerID] += tx.Cost
		rest[tx.PayeeID] -= tx.Cost
	}
	return rest
}

type position struct {
	id     int64
	amount int64 // magnitude
}

// Net pairs the largest creditor with the largest debtor until every
// balance is zero. Ties go to the lower member id, so the result is
// deterministic. At most N-1 transfers are emitted for N nonzero balances.
func Net(balances map[int64]int64) []Transfer {
	var creditors, debtors []position
	for id, amount := range balances {
		switch {
		case amount > 0:
			creditors = append(creditors, position{id, amount})
		case amount < 0:
			debtors = append(debtors, position{id, -amount})
		}
	}

	var transfers []Transfer
	for len(creditors) > 0 && len(debtors) > 0 {
		ci, di := largest(creditors), largest(debtors)
		c, d := &creditors[ci], &debtors[di]

		cost := min(c.amount, d.amount)
		transfers = append(transfers, Transfer{PayerID: d.id, PayeeID: c.id, Cost: cost})
		c.amount -= cost
		d.amount -= cost

		if c.amount == 0 {
			creditors = slices.Delete(creditors, ci, ci+1)
		}
		if d.amount == 0 {
			debtors = slices.Delete(debtors, di, di+1)
		}
	}
	return transfers
}

func largest(ps []position) int {
	best := 0
	for i, p := range ps[1:] {
		b := ps[best]
		if p.amount > b.amount || (p.amount == b.amount && p.id < b.id) {
			best = i + 1
		}
	}
	return best
}

// SortedBalances returns the nonzero balances ordered by member id
func SortedBalances(balances map[int64]int64) []NetBalance {
	out := make([]NetBalance, 0, len(balances))
	for id, amount := range balances {
		if amount != 0 {
			out = append(out, NetBalance{MemberID: id, Amount: amount})
		}
	}
	slices.SortFunc(out, func(a, b NetBalance) int {
		return cmp.Compare(a.MemberID, b.MemberID)
	})
	return out
}
