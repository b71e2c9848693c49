// Package stores provides the Redis-backed record store behind single-use
// email tokens (verify-email, reset-password, passwordless-login,
// approve-subnet, merge-accounts).
//
// # Design
//
// Each token persists a versioned, binary-encoded record with a TTL. Redemption
// is a two-phase lease: Claim moves a pending record to claimed under
// WATCH/MULTI, the caller applies its side effect, then Commit marks it
// consumed or Release returns it to pending. A lapsed lease counts as pending
// again, so a crashed redeemer never strands a token. Consumed records are kept
// for a retention window so replays are reported as already consumed.
// Secret comparisons use constant-time compare.
//
// # What this package must NOT do
//
//   - Import goAccount or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Decide what a token authorizes; that belongs to the Engine flows.
package stores
