package engine

import (
	"context"
	"errors"

	"github.com/roach88/reconcilor/internal/account"
)

// Boundary sentinels. Collaborators wrap these so the engine and the prober
// can classify failures with errors.Is.
var (
	// ErrUnauthorized marks token or authorization failures. A probe that
	// fails this way invalidates the account's cached token.
	ErrUnauthorized = errors.New("engine: unauthorized")

	// ErrUnavailable marks transport failures and malformed responses.
	ErrUnavailable = errors.New("engine: directory unavailable")

	// ErrAccountMismatch is reported when the provider returns a different
	// identity than the one probed.
	ErrAccountMismatch = errors.New("engine: account id mismatch")
)

// Directory is the remote session directory client.
//
// Every call may block on the network; the engine only ever calls it from
// spawned tasks, never from the Run loop. Timeouts are the implementation's
// business.
type Directory interface {
	// ListSessions returns the ordered session list. Index 0 is primary.
	ListSessions(ctx context.Context) (account.RemoteSessionList, error)

	// CreateSession adds a session for id.
	CreateSession(ctx context.Context, id account.ID) error

	// DestroyAllSessions drops every remote session.
	DestroyAllSessions(ctx context.Context) error

	// FetchAuthToken returns a credential for the session at index.
	FetchAuthToken(ctx context.Context, index int) (string, error)

	// RemoveSession drops id's session. remaining is the session list the
	// caller observed, minus id, in provider order.
	RemoveSession(ctx context.Context, id account.ID, remaining []account.ID) error
}

// Registry is the local credential store.
type Registry interface {
	// PrimaryAccount returns the signed-in account, or "" when signed out.
	PrimaryAccount(ctx context.Context) (account.ID, error)

	// ListAccounts returns every local account in registry order.
	ListAccounts(ctx context.Context) ([]account.ID, error)

	// UpdateCredentials stores token for id, adding the account if needed.
	UpdateCredentials(ctx context.Context, id account.ID, token string) error

	// InvalidateToken drops any cached access token for id.
	InvalidateToken(ctx context.Context, id account.ID) error
}

// ProbeResult is the outcome of validating one local account.
type ProbeResult struct {
	// Valid is true when the provider confirmed the account's identity.
	Valid bool

	// InvalidateToken asks the engine to drop the cached token, set when
	// the failure was an authorization error.
	InvalidateToken bool

	// Err describes why the account is invalid. Nil when Valid.
	Err error
}

// Prober validates one local account against the provider.
type Prober interface {
	Probe(ctx context.Context, id account.ID) ProbeResult
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, id account.ID) ProbeResult

// Probe calls f(ctx, id).
func (f ProberFunc) Probe(ctx context.Context, id account.ID) ProbeResult {
	return f(ctx, id)
}
