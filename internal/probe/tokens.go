package probe

import (
	"context"
	"fmt"

	"github.com/roach88/reconcilor/internal/account"
)

// TokenCache stores access tokens and the refresh tokens they are minted
// from. Implemented by store.Store.
type TokenCache interface {
	CachedAccessToken(ctx context.Context, id account.ID, scope string) (string, bool, error)
	StoreAccessToken(ctx context.Context, id account.ID, scope, token string) error
	RefreshToken(ctx context.Context, id account.ID) (string, error)
}

// Minter exchanges a refresh token for a scoped access token.
type Minter interface {
	MintAccessToken(ctx context.Context, refreshToken, scope string) (string, error)
}

// CachedTokens is a TokenSource that serves cached access tokens and mints
// new ones on a miss. Invalidating an account's cached token (the engine
// does this after authorization failures) forces the next probe to mint.
type CachedTokens struct {
	cache  TokenCache
	minter Minter
}

// NewCachedTokens creates a CachedTokens.
func NewCachedTokens(cache TokenCache, minter Minter) *CachedTokens {
	return &CachedTokens{cache: cache, minter: minter}
}

// AccessToken implements TokenSource.
func (c *CachedTokens) AccessToken(ctx context.Context, id account.ID, scope string) (string, error) {
	if token, ok, err := c.cache.CachedAccessToken(ctx, id, scope); err != nil {
		return "", fmt.Errorf("read token cache: %w", err)
	} else if ok {
		return token, nil
	}

	refresh, err := c.cache.RefreshToken(ctx, id)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}

	token, err := c.minter.MintAccessToken(ctx, refresh, scope)
	if err != nil {
		return "", err
	}

	if err := c.cache.StoreAccessToken(ctx, id, scope, token); err != nil {
		return "", fmt.Errorf("write token cache: %w", err)
	}
	return token, nil
}
