// Package engine implements the identity reconciliation engine.
//
// The engine keeps a local credential registry consistent with a remote
// session directory. Each cycle gathers two things concurrently, the remote
// session list and a validity probe for every local account, then computes a
// plan and executes it.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All state lives on one goroutine (Run). Owner calls and boundary results
// arrive as events in a FIFO mailbox and are handled one at a time, so no
// engine state is ever locked.
//
// Cycle Flow:
//  1. StartReconcile moves Idle -> Gathering and snapshots the registry
//  2. One shared ListSessions call (sessionFetcher) and one probe per account
//  3. When both gathers are complete, Plan runs once: Gathering -> Planned
//  4. The executor dispatches destroy/create/import and tracks each handle
//  5. When every handle has reported back: Planned -> Idle
//
// A failed session fetch aborts the cycle; nothing from it is executed.
//
// Staleness:
// Every boundary result carries the activation epoch and the cycle sequence
// (or fetch generation, or operation handle) that issued it. Sign-out bumps
// the epoch and cancels the activation context, so anything still in flight
// is dropped on arrival.
package engine
