package goAccount

import "time"

// SecurityReport is a read-only summary of the Engine's security posture,
// suitable for logging at startup. It carries no key material.
type SecurityReport struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Argon2                PasswordConfigReport
	TOTPAlgorithm         string
	TOTPSkew              int
	SubnetGuardActive     bool
	IPv4PrefixBits        int
	IPv6PrefixBits        int
	LoginThrottleActive   bool
	RefreshThrottleActive bool
	MFAThrottleActive     bool
	EmailThrottleActive   bool
	RequireVerifiedEmail  bool
	RegistrationOpen      bool
	AuditEnabled          bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	return SecurityReport{
		SigningAlgorithm: c.JWT.SigningMethod,
		AccessTTL:        c.JWT.AccessTTL,
		RefreshTTL:       c.Session.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		TOTPAlgorithm:         c.TOTP.Algorithm,
		TOTPSkew:              c.TOTP.Skew,
		SubnetGuardActive:     c.Subnet.Enabled,
		IPv4PrefixBits:        c.Subnet.IPv4PrefixBits,
		IPv6PrefixBits:        c.Subnet.IPv6PrefixBits,
		LoginThrottleActive:   c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldown > 0,
		RefreshThrottleActive: c.Security.EnableRefreshThrottle && c.Security.MaxRefreshAttempts > 0,
		MFAThrottleActive:     c.Security.MaxMFAAttempts > 0 && c.Security.MFACooldown > 0,
		EmailThrottleActive:   c.Security.MaxEmailRequests > 0 && c.Security.EmailRequestCooldown > 0,
		RequireVerifiedEmail:  c.Policy.RequireVerifiedEmail,
		RegistrationOpen:      c.Policy.AllowRegistration,
		AuditEnabled:          c.Audit.Enabled,
	}
}
