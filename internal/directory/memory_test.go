package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
)

func TestMemoryCreateAppendsOrRevalidates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetSessions(account.RemoteSessionList{{ID: "a", Valid: true}, {ID: "b", Valid: false}})

	require.NoError(t, m.CreateSession(ctx, "b"))
	require.NoError(t, m.CreateSession(ctx, "c"))

	assert.Equal(t, account.RemoteSessionList{
		{ID: "a", Valid: true},
		{ID: "b", Valid: true},
		{ID: "c", Valid: true},
	}, m.Sessions())
}

func TestMemoryDestroyAll(t *testing.T) {
	m := NewMemory()
	m.SetSessions(account.RemoteSessionList{{ID: "a", Valid: true}})

	require.NoError(t, m.DestroyAllSessions(context.Background()))
	assert.Empty(t, m.Sessions())
}

func TestMemoryRemoveKeepsValidity(t *testing.T) {
	m := NewMemory()
	m.SetSessions(account.RemoteSessionList{
		{ID: "a", Valid: true},
		{ID: "b", Valid: true},
		{ID: "c", Valid: false},
	})

	require.NoError(t, m.RemoveSession(context.Background(), "b", []account.ID{"a", "c"}))
	assert.Equal(t, account.RemoteSessionList{{ID: "a", Valid: true}, {ID: "c", Valid: false}}, m.Sessions())
	assert.Equal(t, []string{"remove:b|a,c"}, m.Calls())
}

func TestMemoryFetchAuthToken(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetSessions(account.RemoteSessionList{{ID: "a", Valid: true}, {ID: "b", Valid: false}})

	tok, err := m.FetchAuthToken(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, RefreshTokenFor("a"), tok)

	_, err = m.FetchAuthToken(ctx, 1)
	assert.ErrorIs(t, err, engine.ErrUnauthorized)

	_, err = m.FetchAuthToken(ctx, 7)
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestMemoryFaults(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	m := NewMemory()

	m.FailList(boom)
	_, err := m.ListSessions(ctx)
	assert.ErrorIs(t, err, boom)
	m.FailList(nil)
	_, err = m.ListSessions(ctx)
	assert.NoError(t, err)

	m.FailCreate("x", boom)
	assert.ErrorIs(t, m.CreateSession(ctx, "x"), boom)
	m.FailCreate("x", nil)
	assert.NoError(t, m.CreateSession(ctx, "x"))

	m.FailDestroy(boom)
	assert.ErrorIs(t, m.DestroyAllSessions(ctx), boom)

	m.FailFetchToken(boom)
	_, err = m.FetchAuthToken(ctx, 0)
	assert.ErrorIs(t, err, boom)

	m.FailRemove(boom)
	assert.ErrorIs(t, m.RemoveSession(ctx, "x", nil), boom)
}

func TestMemoryMintAndUserInfo(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("alice", "bob")

	tok, err := m.MintAccessToken(ctx, RefreshTokenFor("alice"), "scope")
	require.NoError(t, err)

	id, err := m.UserID(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = m.MintAccessToken(ctx, RefreshTokenFor("mallory"), "scope")
	assert.ErrorIs(t, err, engine.ErrUnauthorized)

	_, err = m.UserID(ctx, "at-unknown")
	assert.ErrorIs(t, err, engine.ErrUnauthorized)
}

func TestMemoryRevokeInvalidatesOutstandingTokens(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("alice")
	tok, err := m.MintAccessToken(ctx, RefreshTokenFor("alice"), "scope")
	require.NoError(t, err)

	m.Revoke("alice")

	_, err = m.UserID(ctx, tok)
	assert.ErrorIs(t, err, engine.ErrUnauthorized)
	_, err = m.MintAccessToken(ctx, RefreshTokenFor("alice"), "scope")
	assert.ErrorIs(t, err, engine.ErrUnauthorized)
}

func TestMemoryUserInfoFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("alice", "bob", "carol")

	alice, _ := m.MintAccessToken(ctx, RefreshTokenFor("alice"), "s")
	bob, _ := m.MintAccessToken(ctx, RefreshTokenFor("bob"), "s")
	carol, _ := m.MintAccessToken(ctx, RefreshTokenFor("carol"), "s")

	m.FailUserInfo("alice", 2)
	for i := 0; i < 2; i++ {
		_, err := m.UserID(ctx, alice)
		assert.ErrorIs(t, err, engine.ErrUnavailable)
	}
	id, err := m.UserID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	m.Impersonate("bob", "mallory")
	id, err = m.UserID(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "mallory", id)

	m.DenyUserInfo("carol")
	_, err = m.UserID(ctx, carol)
	assert.ErrorIs(t, err, engine.ErrUnauthorized)
}

func TestMemoryRecordsCalls(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetSessions(account.RemoteSessionList{{ID: "a", Valid: true}})

	_, _ = m.ListSessions(ctx)
	_ = m.CreateSession(ctx, "b")
	_, _ = m.FetchAuthToken(ctx, 0)
	_ = m.DestroyAllSessions(ctx)

	assert.Equal(t, []string{"list", "create:b", "token:0", "destroy"}, m.Calls())
	m.ResetCalls()
	assert.Empty(t, m.Calls())
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	m.SetSessions(account.RemoteSessionList{{ID: "a", Valid: true}})

	assert.ErrorIs(t, m.DestroyAllSessions(ctx), context.Canceled)
	assert.Len(t, m.Sessions(), 1)
}
