package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
)

// Memory is a goroutine-safe in-memory identity provider.
type Memory struct {
	mu       sync.Mutex
	sessions account.RemoteSessionList
	known    account.Set
	revoked  account.Set
	access   map[string]account.ID
	minted   int
	calls    []string

	listErr     error
	destroyErr  error
	tokenErr    error
	removeErr   error
	createErr   map[account.ID]error
	flaky       map[account.ID]int
	userDenied  account.Set
	impersonate map[account.ID]account.ID
}

// NewMemory creates a provider that knows the given accounts and has no
// sessions.
func NewMemory(accounts ...account.ID) *Memory {
	return &Memory{
		known:       account.NewSet(accounts...),
		revoked:     account.NewSet(),
		access:      make(map[string]account.ID),
		createErr:   make(map[account.ID]error),
		flaky:       make(map[account.ID]int),
		userDenied:  account.NewSet(),
		impersonate: make(map[account.ID]account.ID),
	}
}

// RefreshTokenFor returns the refresh token the provider issues for id.
func RefreshTokenFor(id account.ID) string {
	return "rt-" + string(id)
}

func accountForRefreshToken(token string) (account.ID, bool) {
	id, ok := strings.CutPrefix(token, "rt-")
	return account.ID(id), ok && id != ""
}

// SetSessions replaces the session list. Every listed account becomes known.
func (m *Memory) SetSessions(sessions account.RemoteSessionList) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(account.RemoteSessionList(nil), sessions...)
	for _, s := range sessions {
		m.known.Add(s.ID)
	}
}

// Sessions returns a copy of the session list.
func (m *Memory) Sessions() account.RemoteSessionList {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(account.RemoteSessionList{}, m.sessions...)
}

// AddAccount makes id known to the provider and returns its refresh token.
func (m *Memory) AddAccount(id account.ID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known.Add(id)
	return RefreshTokenFor(id)
}

// Revoke invalidates id's refresh token and every access token minted for it.
func (m *Memory) Revoke(id account.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked.Add(id)
}

// FailList makes ListSessions return err. Nil clears the fault.
func (m *Memory) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailDestroy makes DestroyAllSessions return err.
func (m *Memory) FailDestroy(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyErr = err
}

// FailFetchToken makes FetchAuthToken return err.
func (m *Memory) FailFetchToken(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenErr = err
}

// FailRemove makes RemoveSession return err.
func (m *Memory) FailRemove(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeErr = err
}

// FailCreate makes CreateSession(id) return err.
func (m *Memory) FailCreate(id account.ID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.createErr, id)
		return
	}
	m.createErr[id] = err
}

// FailUserInfo makes the next n UserID lookups for id fail with
// engine.ErrUnavailable. A negative n fails every lookup.
func (m *Memory) FailUserInfo(id account.ID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flaky[id] = n
}

// DenyUserInfo makes UserID lookups for id fail with engine.ErrUnauthorized
// while leaving token minting intact.
func (m *Memory) DenyUserInfo(id account.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userDenied.Add(id)
}

// Impersonate makes UserID report as for tokens minted for id.
func (m *Memory) Impersonate(id, as account.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.impersonate[id] = as
}

// Calls returns the recorded calls in order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// ResetCalls clears the call record.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *Memory) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// ListSessions implements engine.Directory.
func (m *Memory) ListSessions(ctx context.Context) (account.RemoteSessionList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append(account.RemoteSessionList{}, m.sessions...), nil
}

// CreateSession implements engine.Directory. An existing entry for id is
// marked valid; otherwise a valid entry is appended.
func (m *Memory) CreateSession(ctx context.Context, id account.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create:%s", id)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.createErr[id]; err != nil {
		return err
	}
	m.known.Add(id)
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			m.sessions[i].Valid = true
			return nil
		}
	}
	m.sessions = append(m.sessions, account.RemoteSession{ID: id, Valid: true})
	return nil
}

// DestroyAllSessions implements engine.Directory.
func (m *Memory) DestroyAllSessions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("destroy")
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.destroyErr != nil {
		return m.destroyErr
	}
	m.sessions = nil
	return nil
}

// FetchAuthToken implements engine.Directory. It returns the refresh token of
// the account signed in at index.
func (m *Memory) FetchAuthToken(ctx context.Context, index int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("token:%d", index)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	if index < 0 || index >= len(m.sessions) {
		return "", fmt.Errorf("%w: no session at index %d", engine.ErrUnavailable, index)
	}
	s := m.sessions[index]
	if !s.Valid || m.revoked.Has(s.ID) {
		return "", fmt.Errorf("%w: session %d is not signed in", engine.ErrUnauthorized, index)
	}
	return RefreshTokenFor(s.ID), nil
}

// RemoveSession implements engine.Directory. The session list becomes
// remaining; entries keep the validity they had.
func (m *Memory) RemoveSession(ctx context.Context, id account.ID, remaining []account.ID) error {
	ids := make([]string, len(remaining))
	for i, r := range remaining {
		ids[i] = string(r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("remove:%s|%s", id, strings.Join(ids, ","))
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.removeErr != nil {
		return m.removeErr
	}

	valid := make(map[account.ID]bool, len(m.sessions))
	for _, s := range m.sessions {
		if _, seen := valid[s.ID]; !seen {
			valid[s.ID] = s.Valid
		}
	}
	next := make(account.RemoteSessionList, 0, len(remaining))
	for _, r := range remaining {
		v, ok := valid[r]
		next = append(next, account.RemoteSession{ID: r, Valid: !ok || v})
	}
	m.sessions = next
	return nil
}

// MintAccessToken implements probe.Minter.
func (m *Memory) MintAccessToken(ctx context.Context, refreshToken, scope string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := accountForRefreshToken(refreshToken)
	m.record("mint:%s", id)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ok || !m.known.Has(id) || m.revoked.Has(id) {
		return "", fmt.Errorf("%w: refresh token rejected", engine.ErrUnauthorized)
	}
	m.minted++
	token := fmt.Sprintf("at-%d", m.minted)
	m.access[token] = id
	return token, nil
}

// UserID implements probe.UserInfo.
func (m *Memory) UserID(ctx context.Context, accessToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.access[accessToken]
	m.record("userinfo:%s", id)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ok || m.revoked.Has(id) || m.userDenied.Has(id) {
		return "", fmt.Errorf("%w: access token rejected", engine.ErrUnauthorized)
	}
	if n := m.flaky[id]; n != 0 {
		if n > 0 {
			m.flaky[id] = n - 1
		}
		return "", fmt.Errorf("%w: userinfo timed out", engine.ErrUnavailable)
	}
	if as, ok := m.impersonate[id]; ok {
		return string(as), nil
	}
	return string(id), nil
}
