package goAccount

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccount/capability"
	"github.com/MrEthical07/goAccount/jwt"
)

// Config is the Engine's complete configuration. Build clones it; changing
// a Config after Build has no effect on the Engine.
type Config struct {
	JWT        JWTConfig
	Session    SessionConfig
	Password   PasswordConfig
	TOTP       TOTPConfig
	Subnet     SubnetConfig
	EmailToken EmailTokenConfig
	Capability CapabilityConfig
	Security   SecurityConfig
	Policy     PolicyConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the access-token signer.
type JWTConfig struct {
	AccessTTL     time.Duration
	MaxAccessTTL  time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures refresh sessions. RefreshTTL bounds every
// session, including pending ones.
type SessionConfig struct {
	RedisPrefix string
	RefreshTTL  time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures second-factor verification. Skew is the number of
// periods tolerated on either side of now.
type TOTPConfig struct {
	Digits      int
	Period      int
	Algorithm   string
	Skew        int
	MFATokenTTL time.Duration
}

/*
====================================
SUBNET CONFIG
====================================
*/

// SubnetConfig configures the anomaly guard. With Enabled false every login
// counts as recognized.
type SubnetConfig struct {
	Enabled        bool
	IPv4PrefixBits int
	IPv6PrefixBits int
}

/*
====================================
EMAIL TOKEN CONFIG
====================================
*/

// EmailTokenConfig sets lifetimes per purpose. ClaimLease bounds how long a
// redemption may hold a token before it counts as abandoned;
// ConsumedRetention keeps spent tokens around so reuse is reported as such.
type EmailTokenConfig struct {
	RedisPrefix         string
	VerifyEmailTTL      time.Duration
	ResetPasswordTTL    time.Duration
	PasswordlessTTL     time.Duration
	ApproveSubnetTTL    time.Duration
	MergeAccountsTTL    time.Duration
	ClaimLease          time.Duration
	ConsumedRetention   time.Duration
	FrontendBaseURL     string
	ProductName         string
	NotificationTimeout time.Duration
}

/*
====================================
CAPABILITY CONFIG
====================================
*/

// CapabilityConfig lists the scope templates granted in every access token.
// The only placeholder available at issuance is {userId}.
type CapabilityConfig struct {
	Templates []string
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig drives the Redis rate-limit gate. A zero max disables the
// matching gate.
type SecurityConfig struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration
	MaxEmailRequests      int
	EmailRequestCooldown  time.Duration
	MaxMFAAttempts        int
	MFACooldown           time.Duration
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig holds product decisions. Unverified identities may log in
// unless RequireVerifiedEmail is set.
type PolicyConfig struct {
	RequireVerifiedEmail bool
	AllowRegistration    bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration Build starts from. Signing keys
// are left empty.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			MaxAccessTTL:  time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "goaccount",
		},
		Session: SessionConfig{
			RedisPrefix: "ars",
			RefreshTTL:  30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Digits:      6,
			Period:      30,
			Algorithm:   "SHA1",
			Skew:        1,
			MFATokenTTL: 5 * time.Minute,
		},
		Subnet: SubnetConfig{
			Enabled:        true,
			IPv4PrefixBits: 24,
			IPv6PrefixBits: 48,
		},
		EmailToken: EmailTokenConfig{
			RedisPrefix:         "aet",
			VerifyEmailTTL:      7 * 24 * time.Hour,
			ResetPasswordTTL:    time.Hour,
			PasswordlessTTL:     15 * time.Minute,
			ApproveSubnetTTL:    30 * time.Minute,
			MergeAccountsTTL:    30 * time.Minute,
			ClaimLease:          30 * time.Second,
			ConsumedRetention:   24 * time.Hour,
			ProductName:         "goAccount",
			NotificationTimeout: 2 * time.Second,
		},
		Capability: CapabilityConfig{
			Templates: []string{"user-{userId}:*"},
		},
		Security: SecurityConfig{
			EnableIPThrottle:      true,
			MaxLoginAttempts:      10,
			LoginCooldown:         15 * time.Minute,
			EnableRefreshThrottle: true,
			MaxRefreshAttempts:    60,
			RefreshCooldown:       time.Minute,
			MaxEmailRequests:      5,
			EmailRequestCooldown:  time.Hour,
			MaxMFAAttempts:        5,
			MFACooldown:           5 * time.Minute,
		},
		Policy: PolicyConfig{
			RequireVerifiedEmail: false,
			AllowRegistration:    true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Capability.Templates = append([]string(nil), cfg.Capability.Templates...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first setting that would make the Engine unsafe or
// unusable.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.MaxAccessTTL < c.JWT.AccessTTL {
		return errors.New("JWT MaxAccessTTL must be >= AccessTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
		return errors.New("JWT Leeway must be between 0 and 1m")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// TOTP
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	if _, err := hmacFunc(c.TOTP.Algorithm); err != nil {
		return fmt.Errorf("TOTP Algorithm: %w", err)
	}
	if c.TOTP.MFATokenTTL <= 0 || c.TOTP.MFATokenTTL > c.JWT.MaxAccessTTL {
		return errors.New("TOTP MFATokenTTL must be > 0 and <= JWT MaxAccessTTL")
	}

	// Subnet
	if c.Subnet.IPv4PrefixBits < 8 || c.Subnet.IPv4PrefixBits > 32 {
		return errors.New("Subnet IPv4PrefixBits must be between 8 and 32")
	}
	if c.Subnet.IPv6PrefixBits < 16 || c.Subnet.IPv6PrefixBits > 128 {
		return errors.New("Subnet IPv6PrefixBits must be between 16 and 128")
	}

	// Email tokens
	for name, ttl := range map[string]time.Duration{
		"VerifyEmailTTL":   c.EmailToken.VerifyEmailTTL,
		"ResetPasswordTTL": c.EmailToken.ResetPasswordTTL,
		"PasswordlessTTL":  c.EmailToken.PasswordlessTTL,
		"ApproveSubnetTTL": c.EmailToken.ApproveSubnetTTL,
		"MergeAccountsTTL": c.EmailToken.MergeAccountsTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("EmailToken %s must be > 0", name)
		}
	}
	if c.EmailToken.ClaimLease <= 0 {
		return errors.New("EmailToken ClaimLease must be > 0")
	}
	if c.EmailToken.ConsumedRetention <= 0 {
		return errors.New("EmailToken ConsumedRetention must be > 0")
	}
	if c.EmailToken.RedisPrefix == "" || c.EmailToken.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("EmailToken RedisPrefix must be set and differ from Session RedisPrefix")
	}

	// Capability
	for _, tmpl := range c.Capability.Templates {
		if _, err := capability.Resolve(tmpl, map[string]string{"userId": "x"}); err != nil {
			return fmt.Errorf("Capability template %q: %w", tmpl, err)
		}
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 || c.Security.MaxRefreshAttempts < 0 ||
		c.Security.MaxEmailRequests < 0 || c.Security.MaxMFAAttempts < 0 {
		return errors.New("Security max attempts must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldown <= 0 {
		return errors.New("Security LoginCooldown must be > 0 when MaxLoginAttempts is set")
	}
	if c.Security.MaxRefreshAttempts > 0 && c.Security.RefreshCooldown <= 0 {
		return errors.New("Security RefreshCooldown must be > 0 when MaxRefreshAttempts is set")
	}
	if c.Security.MaxEmailRequests > 0 && c.Security.EmailRequestCooldown <= 0 {
		return errors.New("Security EmailRequestCooldown must be > 0 when MaxEmailRequests is set")
	}
	if c.Security.MaxMFAAttempts > 0 && c.Security.MFACooldown <= 0 {
		return errors.New("Security MFACooldown must be > 0 when MaxMFAAttempts is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
