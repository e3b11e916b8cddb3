package account

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrPrimaryNotInAccounts is returned by LocalSet.Validate when the primary
// account is set but missing from the account list.
var ErrPrimaryNotInAccounts = errors.New("account: primary not in accounts")

// ID is an opaque account identity. Two IDs are the same account when their
// normalized forms are equal.
type ID string

// Normalize returns the canonical form of an identity: surrounding whitespace
// trimmed, NFC normalized and case folded.
//
// The credential store and the prober both compare normalized IDs, so an
// account typed as " Alice@Example.com" and "alice@example.com" resolves to
// the same identity.
func Normalize(raw string) ID {
	s := strings.TrimSpace(raw)
	s = norm.NFC.String(s)
	// Casers are stateful, so each call gets its own.
	return ID(cases.Fold().String(s))
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Set is an unordered collection of account IDs.
type Set map[ID]struct{}

// NewSet builds a set from the given IDs.
func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s Set) Add(id ID) {
	s[id] = struct{}{}
}

// RemoteSession is one entry of the provider's session directory.
type RemoteSession struct {
	ID    ID   `json:"id" yaml:"id"`
	Valid bool `json:"valid" yaml:"valid"`
}

// RemoteSessionList is the provider's ordered session list. Index 0 is the
// provider's primary session. The same ID may appear more than once.
type RemoteSessionList []RemoteSession

// Primary returns the ID at index 0, or false when the list is empty.
func (l RemoteSessionList) Primary() (ID, bool) {
	if len(l) == 0 {
		return "", false
	}
	return l[0].ID, true
}

// IDs returns the session IDs in list order with repeats removed.
func (l RemoteSessionList) IDs() []ID {
	seen := make(Set, len(l))
	out := make([]ID, 0, len(l))
	for _, s := range l {
		if seen.Has(s.ID) {
			continue
		}
		seen.Add(s.ID)
		out = append(out, s.ID)
	}
	return out
}

// LocalSet is the snapshot of the local credential store taken at the start
// of a reconciliation cycle.
type LocalSet struct {
	// Primary is the signed-in account. Empty when signed out.
	Primary ID `json:"primary,omitempty"`

	// Accounts lists every local account in registry order.
	Accounts []ID `json:"accounts"`
}

// NewLocalSet builds a snapshot, dropping repeated accounts while keeping the
// first occurrence's position.
func NewLocalSet(primary ID, accounts []ID) LocalSet {
	seen := make(Set, len(accounts))
	out := make([]ID, 0, len(accounts))
	for _, id := range accounts {
		if id == "" || seen.Has(id) {
			continue
		}
		seen.Add(id)
		out = append(out, id)
	}
	return LocalSet{Primary: primary, Accounts: out}
}

// SignedIn reports whether the snapshot has a primary account.
func (s LocalSet) SignedIn() bool {
	return s.Primary != ""
}

// Validate checks that a set primary appears in Accounts.
func (s LocalSet) Validate() error {
	if s.Primary == "" {
		return nil
	}
	for _, id := range s.Accounts {
		if id == s.Primary {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPrimaryNotInAccounts, s.Primary)
}

// ValidationOutcome partitions a cycle's local accounts into valid and
// invalid. An account is in neither set until its probe resolves and never in
// both.
type ValidationOutcome struct {
	Valid   Set
	Invalid Set
}

// NewValidationOutcome returns an outcome with no account resolved.
func NewValidationOutcome() ValidationOutcome {
	return ValidationOutcome{Valid: Set{}, Invalid: Set{}}
}

// Resolve records the outcome for id. The first resolution wins; later calls
// for the same id are ignored and report false.
func (o ValidationOutcome) Resolve(id ID, valid bool) bool {
	if o.Resolved(id) {
		return false
	}
	if valid {
		o.Valid.Add(id)
	} else {
		o.Invalid.Add(id)
	}
	return true
}

// Resolved reports whether id has an outcome.
func (o ValidationOutcome) Resolved(id ID) bool {
	return o.Valid.Has(id) || o.Invalid.Has(id)
}

// Len returns the number of resolved accounts.
func (o ValidationOutcome) Len() int {
	return len(o.Valid) + len(o.Invalid)
}

// ValidIn returns the valid accounts of ids, keeping the order of ids.
func (o ValidationOutcome) ValidIn(ids []ID) []ID {
	out := make([]ID, 0, len(o.Valid))
	for _, id := range ids {
		if o.Valid.Has(id) {
			out = append(out, id)
		}
	}
	return out
}
