// Package internal contains helpers that stay private to goAccount: opaque token
// encoding for refresh sessions and email tokens, and secure random generation.
//
// # Sub-packages
//
//   - logging: slog setup with trace context and oops-aware error logging
//   - httpapi: HTTP transport for the Engine flows
//   - rate: Redis-backed fixed-window pre-check gate
//   - safeemail: canonical comparable email form
//   - stores: single-use email-token records with claim / commit / release
//
// # What this package must NOT do
//
//   - Export types that appear in the public goAccount API.
//   - Be imported by any package outside the goAccount module.
package internal
