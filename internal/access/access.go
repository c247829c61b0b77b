// Package access holds the single capability check applied at every
// state-changing boundary. Each action lists the roles allowed to perform it;
// callers describe who holds which role on the resource with Grants.
package access

import (
	"slices"

	"github.com/fkhayef/travelmate/pkg/apperr"
)

// Role is a caller's relationship to a resource
type Role string

const (
	Requester Role = "requester"
	Guide     Role = "guide"
	Treasurer Role = "treasurer"
	Member    Role = "member"
	Payer     Role = "payer"
	Payee     Role = "payee"
)

// Action is a guarded operation
type Action string

const (
	ViewMatch   Action = "match.view"
	AcceptMatch Action = "match.accept"
	RejectMatch Action = "match.reject"
	CancelMatch Action = "match.cancel"

	CreateSettlement    Action = "settlement.create"
	ViewSettlement      Action = "settlement.view"
	CalculateSettlement Action = "settlement.calculate"
	CancelSettlement    Action = "settlement.cancel"

	ViewApproval Action = "payment.view"

	RecordExpense    Action = "expense.record"
	EditParticipants Action = "expense.participants"
	SendTransfer     Action = "transfer.send"
	ConfirmTransfer  Action = "transfer.confirm"
	FailTransfer     Action = "transfer.fail"
	CancelTransfer   Action = "transfer.cancel"
)

type rule struct {
	roles   []Role
	message string
}

var policy = map[Action]rule{
	ViewMatch:   {[]Role{Requester, Guide}, "only the requester or the guide may view this match"},
	AcceptMatch: {[]Role{Guide}, "only the assigned guide may accept this match"},
	RejectMatch: {[]Role{Guide}, "only the assigned guide may reject this match"},
	CancelMatch: {[]Role{Requester}, "only the requester may cancel this match"},

	CreateSettlement:    {[]Role{Member}, "only plan members may create its settlement"},
	ViewSettlement:      {[]Role{Member, Treasurer}, "only plan members may view this settlement"},
	CalculateSettlement: {[]Role{Treasurer}, "only the treasurer may calculate this settlement"},
	CancelSettlement:    {[]Role{Treasurer}, "only the treasurer may cancel this settlement"},

	ViewApproval: {[]Role{Payer}, "only the payer may view this payment"},

	RecordExpense:    {[]Role{Payer, Treasurer}, "only the payer or the treasurer may record this expense"},
	EditParticipants: {[]Role{Payer, Treasurer}, "only the payer or the treasurer may change participants"},

	SendTransfer:    {[]Role{Payer}, "only the paying member may mark this transfer sent"},
	ConfirmTransfer: {[]Role{Payee}, "only the receiving member may confirm this transfer"},
	FailTransfer:    {[]Role{Payee, Treasurer}, "only the receiving member or the treasurer may fail this transfer"},
	CancelTransfer:  {[]Role{Treasurer}, "only the treasurer may cancel this transfer"},
}

// Grants lists, per role, the users holding it on one resource
type Grants map[Role][]int64

// Grant returns Grants with a single holder for role
func Grant(role Role, userID int64) Grants {
	return Grants{role: {userID}}
}

// With adds holders for role and returns g
func (g Grants) With(role Role, userIDs ...int64) Grants {
	g[role] = append(g[role], userIDs...)
	return g
}

// Check returns nil when callerID holds any role allowed for action,
// otherwise an Authorization error.
func Check(action Action, callerID int64, grants Grants) error {
	r, ok := policy[action]
	if !ok {
		return apperr.Authorization("action not permitted")
	}
	for _, role := range r.roles {
		if slices.Contains(grants[role], callerID) {
			return nil
		}
	}
	return apperr.Authorization(r.message)
}
