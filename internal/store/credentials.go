package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/reconcilor/internal/account"
)

// ChangeKind names a credential change.
type ChangeKind int

const (
	// AccountAdded: a new account was stored.
	AccountAdded ChangeKind = iota
	// AccountRemoved: an account and its tokens were deleted.
	AccountRemoved
	// PrimaryChanged: the primary account was set or cleared. Account is
	// empty when cleared.
	PrimaryChanged
)

// String returns the change name.
func (k ChangeKind) String() string {
	switch k {
	case AccountAdded:
		return "AccountAdded"
	case AccountRemoved:
		return "AccountRemoved"
	case PrimaryChanged:
		return "PrimaryChanged"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is published to subscribers after a mutation commits.
type Change struct {
	Kind    ChangeKind
	Account account.ID
}

// AccountRecord is one row of the accounts table.
type AccountRecord struct {
	ID           account.ID `json:"id"`
	Position     int        `json:"position"`
	Primary      bool       `json:"primary"`
	CachedTokens int        `json:"cached_tokens"`
}

// Subscribe registers fn for credential changes and returns a function that
// unregisters it. fn runs synchronously on the goroutine that made the
// change, after the change is committed.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subscribers))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}

func normalizeID(raw account.ID) (account.ID, error) {
	id := account.Normalize(string(raw))
	if id == "" {
		return "", ErrInvalidID
	}
	return id, nil
}

// AddAccount stores id with refreshToken. An existing account keeps its
// position and gets the new token; its cached access tokens are dropped.
// Returns the normalized id.
func (s *Store) AddAccount(ctx context.Context, raw account.ID, refreshToken string) (account.ID, error) {
	id, err := normalizeID(raw)
	if err != nil {
		return "", fmt.Errorf("add account: %w", err)
	}

	added, err := s.upsertAccount(ctx, id, refreshToken)
	if err != nil {
		return "", fmt.Errorf("add account: %w", err)
	}
	if added {
		s.publish(Change{Kind: AccountAdded, Account: id})
	}
	return id, nil
}

func (s *Store) upsertAccount(ctx context.Context, id account.ID, refreshToken string) (added bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET refresh_token = ? WHERE id = ?`,
		refreshToken, string(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO accounts (id, refresh_token, position)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM accounts))
		`, string(id), refreshToken)
		if err != nil {
			return false, err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM access_tokens WHERE account_id = ?`, string(id)); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n == 0, nil
}

// RemoveAccount deletes id and its cached tokens. The primary account cannot
// be removed.
func (s *Store) RemoveAccount(ctx context.Context, raw account.ID) error {
	id, err := normalizeID(raw)
	if err != nil {
		return fmt.Errorf("remove account: %w", err)
	}

	var primary bool
	err = s.db.QueryRowContext(ctx,
		`SELECT is_primary FROM accounts WHERE id = ?`, string(id)).Scan(&primary)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("remove account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("remove account: %w", err)
	}
	if primary {
		return fmt.Errorf("remove account %s: %w", id, ErrPrimaryAccount)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("remove account: %w", err)
	}

	s.publish(Change{Kind: AccountRemoved, Account: id})
	return nil
}

// SetPrimary makes id the primary account, signing the store in.
func (s *Store) SetPrimary(ctx context.Context, raw account.ID) error {
	id, err := normalizeID(raw)
	if err != nil {
		return fmt.Errorf("set primary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set primary: begin tx: %w", err)
	}
	defer tx.Rollback()

	var current bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_primary FROM accounts WHERE id = ?`, string(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("set primary %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	if current {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET is_primary = 0 WHERE is_primary = 1`); err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET is_primary = 1 WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set primary: commit: %w", err)
	}

	s.publish(Change{Kind: PrimaryChanged, Account: id})
	return nil
}

// ClearPrimary signs the store out. Accounts are kept.
func (s *Store) ClearPrimary(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET is_primary = 0 WHERE is_primary = 1`)
	if err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}
	if n > 0 {
		s.publish(Change{Kind: PrimaryChanged})
	}
	return nil
}

// Accounts returns every account in registry order.
func (s *Store) Accounts(ctx context.Context) ([]AccountRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.position, a.is_primary,
		       (SELECT COUNT(*) FROM access_tokens t WHERE t.account_id = a.id)
		FROM accounts a
		ORDER BY a.position ASC, a.id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	records := make([]AccountRecord, 0)
	for rows.Next() {
		var r AccountRecord
		var id string
		if err := rows.Scan(&id, &r.Position, &r.Primary, &r.CachedTokens); err != nil {
			return nil, fmt.Errorf("list accounts: scan: %w", err)
		}
		r.ID = account.ID(id)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return records, nil
}

// PrimaryAccount implements engine.Registry.
func (s *Store) PrimaryAccount(ctx context.Context) (account.ID, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE is_primary = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("primary account: %w", err)
	}
	return account.ID(id), nil
}

// ListAccounts implements engine.Registry.
func (s *Store) ListAccounts(ctx context.Context) ([]account.ID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM accounts ORDER BY position ASC, id ASC COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	ids := make([]account.ID, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list accounts: scan: %w", err)
		}
		ids = append(ids, account.ID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return ids, nil
}

// UpdateCredentials implements engine.Registry. It is AddAccount for ids
// the engine imports from the provider.
func (s *Store) UpdateCredentials(ctx context.Context, id account.ID, token string) error {
	_, err := s.AddAccount(ctx, id, token)
	return err
}

// InvalidateToken implements engine.Registry.
func (s *Store) InvalidateToken(ctx context.Context, raw account.ID) error {
	id, err := normalizeID(raw)
	if err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE account_id = ?`, string(id)); err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	return nil
}

// RefreshToken implements probe.TokenCache.
func (s *Store) RefreshToken(ctx context.Context, raw account.ID) (string, error) {
	id, err := normalizeID(raw)
	if err != nil {
		return "", err
	}
	var token string
	err = s.db.QueryRowContext(ctx,
		`SELECT refresh_token FROM accounts WHERE id = ?`, string(id)).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("refresh token %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	return token, nil
}

// CachedAccessToken implements probe.TokenCache.
func (s *Store) CachedAccessToken(ctx context.Context, raw account.ID, scope string) (string, bool, error) {
	id, err := normalizeID(raw)
	if err != nil {
		return "", false, err
	}
	var token string
	err = s.db.QueryRowContext(ctx,
		`SELECT token FROM access_tokens WHERE account_id = ? AND scope = ?`,
		string(id), scope).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cached access token: %w", err)
	}
	return token, true, nil
}

// StoreAccessToken implements probe.TokenCache. The account must exist.
func (s *Store) StoreAccessToken(ctx context.Context, raw account.ID, scope, token string) error {
	id, err := normalizeID(raw)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO access_tokens (account_id, scope, token)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, scope) DO UPDATE SET token = excluded.token
	`, string(id), scope, token)
	if err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	return nil
}
