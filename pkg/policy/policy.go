// Package policy holds the static action→role authorization matrix.
//
// The matrix is the source of truth for which operator roles may approve
// which financial actions. It is compiled in on purpose: changing it
// requires a redeploy, which keeps the authorization surface out of
// reach of runtime configuration attacks.
package policy

// Action is a financial action an operator can delegate.
type Action string

const (
	ActionTransfer         Action = "transfer"
	ActionCheckBalance     Action = "check_balance"
	ActionPayBill          Action = "pay_bill"
	ActionApproveLoan      Action = "approve_loan"
	ActionCreateAccount    Action = "create_account"
	ActionAuditTransaction Action = "audit_transaction"
	ActionDeleteAccount    Action = "delete_account"
	ActionInformational    Action = "informational"

	// ActionNone is the parser's sentinel for "no clear financial
	// action". It is never authorizable.
	ActionNone Action = "N/A"
)

// roleActionMap maps each action to the non-empty role set allowed to
// approve it. Read-only after process start.
var roleActionMap = map[Action][]string{
	ActionTransfer:         {"teller"},
	ActionCheckBalance:     {"teller", "customer_service"},
	ActionPayBill:          {"teller", "customer_service"},
	ActionApproveLoan:      {"loan_officer", "manager"},
	ActionCreateAccount:    {"teller", "manager"},
	ActionAuditTransaction: {"auditor", "admin"},
	ActionDeleteAccount:    {"manager", "admin"},
	ActionInformational:    {"teller", "customer_service", "advisor", "loan_officer", "manager", "auditor", "admin"},
}

// Known reports whether action is in the matrix.
func Known(action Action) bool {
	_, ok := roleActionMap[action]
	return ok
}

// RequiredRoles returns the roles allowed to approve action, or nil for
// unknown actions. Callers must not mutate the returned slice.
func RequiredRoles(action Action) []string {
	return roleActionMap[action]
}

// Authorize reports whether any of the operator's roles intersects the
// role set required for action. Unknown actions are never authorized.
func Authorize(action Action, operatorRoles []string) bool {
	required := roleActionMap[action]
	if len(required) == 0 {
		return false
	}
	for _, have := range operatorRoles {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}
