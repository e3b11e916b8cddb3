// Package store provides SQLite-backed storage for local credentials and the
// reconcile journal.
//
// # Credentials
//
// The accounts table holds every local account with its refresh token and
// registry position. At most one account is primary; the store is signed in
// exactly when a primary exists. Access tokens minted for probes are cached
// per (account, scope) in access_tokens and dropped by InvalidateToken or
// when the account's refresh token changes.
//
// Store implements engine.Registry and probe.TokenCache. Account ids are
// normalized with account.Normalize before they touch the database.
//
// Mutations that matter to the reconcile engine are published to
// subscribers as Change values after they commit (see Subscribe).
//
// # Journal
//
// Journal is an engine.Observer that records each cycle and each boundary
// operation in the cycles and operations tables. Cycle rows are keyed by the
// engine's logical cycle sequence, never by wall time; timestamps are kept
// for display only.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
