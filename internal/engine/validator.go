package engine

import "github.com/roach88/reconcilor/internal/account"

// validator tracks the per-account probes of one cycle.
//
// It is an AND-gate: done only once every account has an outcome. A probe
// that never answers holds the cycle in Gathering; the Directory and Prober
// own timeouts.
type validator struct {
	accounts []account.ID
	expected account.Set
	outcome  account.ValidationOutcome
}

func newValidator(accounts []account.ID) *validator {
	return &validator{
		accounts: accounts,
		expected: account.NewSet(accounts...),
		outcome:  account.NewValidationOutcome(),
	}
}

// resolve records a probe result. Returns false for unknown accounts and
// repeat results.
func (v *validator) resolve(id account.ID, valid bool) bool {
	if !v.expected.Has(id) {
		return false
	}
	return v.outcome.Resolve(id, valid)
}

func (v *validator) done() bool {
	return v.outcome.Len() == len(v.expected)
}

func (v *validator) unresolved() int {
	return len(v.expected) - v.outcome.Len()
}
