// Package token hashes opaque bearer values (refresh tokens) for server-side storage.
//
// Raw values are handed to clients exactly once and never persisted. The store keys
// rows by a 64-char hex digest:
//   - HMAC-SHA256(value, key) when a key is configured
//   - SHA-256(value) otherwise (development only)
//
// Deployments that set AUTHD_REQUIRE_TOKEN_HMAC must provide a key of at least
// MinHMACKeyBytes; see KeyFromString.
package token
