// Package account provides the value types shared by every part of the
// reconciler: account identities, the local account snapshot, the remote
// session list, validation outcomes and reconciliation plans.
//
// This package contains type definitions and pure functions only. Every other
// internal package imports account; account imports nothing internal.
//
// Key design constraints:
//   - Identities are compared as opaque strings after Normalize
//   - Remote session order is significant: index 0 is the provider primary
//   - Plans are immutable once built and carry a stable Fingerprint
package account
