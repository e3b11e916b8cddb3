// Package probe validates local accounts against the identity provider.
//
// A probe has two steps. First it obtains an access token for the account,
// scoped to the identity-verification scope. Then it asks the provider whose
// token that is and compares the answer with the account's own id.
//
// Authorization failures in either step are reported with InvalidateToken
// set, so the engine drops the cached token and the next cycle mints a fresh
// one. Transport failures in the user-id step are retried a bounded number
// of times before the account is declared invalid.
package probe
