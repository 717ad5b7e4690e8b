package budget

import (
	"context"

	"github.com/reprise-io/reprise/policy"
)

// Standard Decision.Reason strings.
const (
	ReasonAllowed        = "allowed"
	ReasonNoBudget       = "no_budget"
	ReasonBudgetNotFound = "budget_not_found"
	ReasonBudgetDenied   = "budget_denied"
	ReasonBudgetNil      = "budget_nil"
)

// Decision is the result of a budget check.
type Decision struct {
	Allowed bool
	Reason  string

	// Release, when non-nil, is called exactly once after an allowed attempt
	// finishes.
	Release func()
}

// Budget gates retry attempts to prevent retry storms. The first attempt of a
// call is never gated; attemptIdx starts at 1 for the first retry.
type Budget interface {
	AllowAttempt(ctx context.Context, key policy.PolicyKey, attemptIdx int, ref policy.BudgetRef) Decision
}
