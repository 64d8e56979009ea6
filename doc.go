// Package authcore is a session-based authentication core: it issues,
// rotates, validates, and revokes paired access/refresh JWTs over a pluggable
// persistence adapter.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Token lifecycle
//
// Authentication opens a token family: one persisted refresh record plus a
// signed access/refresh token pair. Each refresh atomically marks the current
// record ROTATED and creates a new ACTIVE one, so a refresh token is strictly
// single-use. Presenting a superseded refresh token is treated as theft and
// revokes every session of the owning user. Access tokens are verified
// purely by signature and expiry, with no store round-trip.
//
// # Architecture boundaries
//
// authcore is the public surface: [Engine], [Builder], [Config], [Adapter],
// and value types. Adapter implementations live under adapter/, transport
// helpers under middleware/, metric exporters under metrics/export/.
//
// # What this package must NOT do
//
//   - Speak HTTP beyond building cookie values and reading headers handed in.
//   - Retry adapter calls; store failures propagate to the caller as
//     [ErrAdapterFailure].
//   - Cache revocation state across requests.
package authcore
