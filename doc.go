// Package goAccount is an account and session engine: password, passwordless,
// TOTP and federated login, rotating opaque refresh sessions in Redis,
// short-lived signed access tokens carrying capability scopes, and
// single-use email tokens for verification, password reset, subnet approval
// and account merges.
//
// An [Engine] is built once through [New] and is safe for concurrent use.
// Identities live behind the [IdentityProvider] interface (see the postgres
// package); outbound mail goes through a [Notifier] (see the notify package)
// and never fails the flow that triggered it.
//
// # Subnet approval
//
// A successful login from a network the identity has no active session on
// does not return tokens. It creates a pending session and mails an
// approve-subnet link; [Engine.ApproveSubnet] activates that session. Repeat
// logins from a known network get tokens directly.
//
// # Errors
//
// Flows return the sentinel errors in errors.go, possibly wrapped; test
// them with errors.Is. No error distinguishes an unknown email from a wrong
// password.
package goAccount
