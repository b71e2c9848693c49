// Package jwt signs and verifies the access tokens handed to clients and the
// short-lived purpose tokens used between login steps.
package jwt
