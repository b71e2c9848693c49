// Package rate is the Redis-backed pre-check gate in front of the auth flows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al:   failed logins per email
//   - ali:  failed logins per IP
//   - ar:   refreshes per session
//   - aer:  outbound emails per kind and address
//   - amfa: wrong MFA codes per identity
//
// # What this package must NOT do
//
//   - Decide what a flow does once it is limited (the Engine maps the error).
//   - Be imported outside the goAccount module.
package rate
