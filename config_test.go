package goAccount

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "test config valid", mutate: func(*Config) {}, wantValid: true},
		{
			name: "ed25519 without keys",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = nil
			},
			wantValid: false,
		},
		{
			name: "ed25519 with keys",
			mutate: func(c *Config) {
				pub, priv, err := ed25519.GenerateKey(nil)
				if err != nil {
					panic(err)
				}
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = priv
				c.JWT.PublicKey = pub
			},
			wantValid: true,
		},
		{
			name:      "unsupported signing method",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "max access ttl below access ttl",
			mutate:    func(c *Config) { c.JWT.MaxAccessTTL = time.Minute },
			wantValid: false,
		},
		{
			name:      "leeway too large",
			mutate:    func(c *Config) { c.JWT.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "argon2 memory too small",
			mutate:    func(c *Config) { c.Password.Memory = 1024 },
			wantValid: false,
		},
		{
			name:      "totp digits",
			mutate:    func(c *Config) { c.TOTP.Digits = 7 },
			wantValid: false,
		},
		{
			name:      "totp algorithm",
			mutate:    func(c *Config) { c.TOTP.Algorithm = "MD5" },
			wantValid: false,
		},
		{
			name:      "mfa token outlives access tokens",
			mutate:    func(c *Config) { c.TOTP.MFATokenTTL = 2 * time.Hour },
			wantValid: false,
		},
		{
			name:      "ipv4 prefix out of range",
			mutate:    func(c *Config) { c.Subnet.IPv4PrefixBits = 33 },
			wantValid: false,
		},
		{
			name:      "ipv6 prefix out of range",
			mutate:    func(c *Config) { c.Subnet.IPv6PrefixBits = 8 },
			wantValid: false,
		},
		{
			name:      "email token ttl zero",
			mutate:    func(c *Config) { c.EmailToken.MergeAccountsTTL = 0 },
			wantValid: false,
		},
		{
			name:      "email token prefix shared with sessions",
			mutate:    func(c *Config) { c.EmailToken.RedisPrefix = c.Session.RedisPrefix },
			wantValid: false,
		},
		{
			name:      "unknown capability placeholder",
			mutate:    func(c *Config) { c.Capability.Templates = []string{"org-{orgId}:*"} },
			wantValid: false,
		},
		{
			name:      "unbalanced capability template",
			mutate:    func(c *Config) { c.Capability.Templates = []string{"user-{userId:*"} },
			wantValid: false,
		},
		{
			name: "login limit without cooldown",
			mutate: func(c *Config) {
				c.Security.MaxLoginAttempts = 3
				c.Security.LoginCooldown = 0
			},
			wantValid: false,
		},
		{
			name: "disabled limits need no cooldown",
			mutate: func(c *Config) {
				c.Security.MaxMFAAttempts = 0
				c.Security.MFACooldown = 0
			},
			wantValid: true,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultConfigNeedsOnlyKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config without signing keys should not validate")
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with keys should validate: %v", err)
	}
}
