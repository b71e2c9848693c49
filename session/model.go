package session

import "time"

// RefreshSession is one logged-in device. Only the SHA-256 of the refresh
// secret is kept; the plaintext value exists once, in the caller's hands.
type RefreshSession struct {
	SessionID   string
	IdentityID  string
	IP          string
	UserAgent   string
	Fingerprint string
	RefreshHash [32]byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Approved    bool
	Revoked     bool
}

// Active reports whether the session may be refreshed at now.
func (s *RefreshSession) Active(now time.Time) bool {
	return s.Approved && !s.Revoked && now.Before(s.ExpiresAt)
}

// Pending reports whether the session still waits for subnet approval.
func (s *RefreshSession) Pending() bool {
	return !s.Approved && !s.Revoked
}

// NewSession carries the request-side attributes of a session about to be
// created or rotated.
type NewSession struct {
	IdentityID  string
	IP          string
	UserAgent   string
	Fingerprint string
	Approved    bool
}
