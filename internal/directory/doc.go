// Package directory provides session directory implementations.
//
// Memory is an in-process identity provider: it holds the ordered session
// list, the provider's accounts and their refresh tokens, and mints access
// tokens. It implements engine.Directory, probe.Minter and probe.UserInfo,
// records every call and supports fault injection. The harness and the
// simulate command run against it.
//
// HTTPClient speaks the provider's JSON API over HTTP/2. NewServer exposes a
// Memory through the same API, which the client tests (and local
// development) use as the remote end.
package directory
