package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
)

// DefaultScope is the identity-verification scope.
const DefaultScope = "https://www.googleapis.com/auth/userinfo.profile"

// DefaultMaxRetries bounds user-id retries after transport failures.
const DefaultMaxRetries = 5

// DefaultRetryDelay is the base delay between user-id attempts. Attempt n
// waits n times this long.
const DefaultRetryDelay = 500 * time.Millisecond

// TokenSource returns access tokens for local accounts.
type TokenSource interface {
	AccessToken(ctx context.Context, id account.ID, scope string) (string, error)
}

// UserInfo resolves an access token to the provider's canonical user id.
type UserInfo interface {
	UserID(ctx context.Context, accessToken string) (string, error)
}

// Prober implements engine.Prober.
type Prober struct {
	tokens     TokenSource
	users      UserInfo
	scope      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Prober.
type Option func(*Prober)

// WithScope overrides DefaultScope.
func WithScope(scope string) Option {
	return func(p *Prober) {
		if scope != "" {
			p.scope = scope
		}
	}
}

// WithRetries sets the retry budget and base delay for the user-id step.
func WithRetries(max int, delay time.Duration) Option {
	return func(p *Prober) {
		if max >= 0 {
			p.maxRetries = max
		}
		if delay >= 0 {
			p.retryDelay = delay
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSleep replaces the retry sleeper. Tests pass one that returns at once.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Prober) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New creates a Prober.
func New(tokens TokenSource, users UserInfo, opts ...Option) *Prober {
	p := &Prober{
		tokens:     tokens,
		users:      users,
		scope:      DefaultScope,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe validates id. It never returns an error directly; failures are
// folded into the result.
func (p *Prober) Probe(ctx context.Context, id account.ID) engine.ProbeResult {
	token, err := p.tokens.AccessToken(ctx, id, p.scope)
	if err != nil {
		return failure(fmt.Errorf("access token: %w", err))
	}

	for attempt := 0; ; attempt++ {
		uid, err := p.users.UserID(ctx, token)
		if err == nil {
			if account.Normalize(uid) != account.Normalize(string(id)) {
				return engine.ProbeResult{
					Err: fmt.Errorf("%w: provider says %q", engine.ErrAccountMismatch, uid),
				}
			}
			return engine.ProbeResult{Valid: true}
		}

		if errors.Is(err, engine.ErrUnauthorized) || ctx.Err() != nil || attempt >= p.maxRetries {
			return failure(fmt.Errorf("user id: %w", err))
		}

		p.logger.Debug("user id lookup failed, retrying",
			"account", string(id), "attempt", attempt+1, "error", err)
		if err := p.sleep(ctx, time.Duration(attempt+1)*p.retryDelay); err != nil {
			return failure(fmt.Errorf("user id: %w", err))
		}
	}
}

// failure marks the account invalid and asks for token invalidation when
// the cause is an authorization error.
func failure(err error) engine.ProbeResult {
	return engine.ProbeResult{
		InvalidateToken: errors.Is(err, engine.ErrUnauthorized),
		Err:             err,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
