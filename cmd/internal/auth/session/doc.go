// Package session implements authd's session and token lifecycle.
//
// A successful signup or signin creates a Session (one per device) and a
// single-use refresh token bound to it, and signs a short-lived JWT access
// token. Refresh consumes the presented token atomically and mints a new
// pair bound to the same session, so each session carries a linear chain of
// refresh tokens with at most one live link. Logout revokes a token and
// terminates its session; logout-all does the same for every device of a user.
//
// Access tokens are not tracked server-side; their short TTL is the only
// revocation mechanism. Refresh tokens are opaque, stored only as a hash, and
// expire after RefreshTokenTTL. Sessions are terminated, never deleted.
//
// Periodic sweeps (expired-token revocation, inactive-session termination,
// retention purge) are exposed as methods and scheduled by the sweep package.
//
// Persistence is abstracted by SessionStore and RefreshTokenStore, with
// Postgres and in-memory implementations.
package session
