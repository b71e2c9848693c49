// Package session persists refresh sessions in Redis.
//
// # Layout
//
// Each session is a hash at prefix:<sid> holding the identity id, network
// origin, refresh hash, timestamps and the approved/revoked flags. A set at
// prefix:idx:<identityID> indexes the identity's live sessions.
//
// Every multi-key mutation (rotate, approve, revoke-all, reassign) runs as a
// single Lua script so concurrent requests for one identity never interleave.
// Revoked records stay until their original expiry so that a replayed value
// is reported as revoked rather than unknown.
//
// # What this package must NOT do
//
//   - Import goAccount or jwt (no upward imports).
//   - Decide subnet recognition or any other login policy.
//   - Store plaintext refresh secrets.
package session
