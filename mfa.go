package goAccount

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &totpManager{config: cfg}
}

// VerifyCode reports whether code matches any step in now ± Skew periods.
// Malformed codes are a plain mismatch, not an error.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, error) {
	if m == nil {
		return false, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, nil
	}

	if len(secret) == 0 {
		return false, errors.New("empty totp secret")
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	matched := 0
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, err
		}
		matched |= subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed))
	}

	return matched == 1, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	code := bin % mod
	return fmt.Sprintf("%0*d", digits, code), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumericString(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}

// canonicalBackupCode uppercases code and strips the dashes and spaces
// people type between groups.
func canonicalBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashBackupCode returns the digest an IdentityProvider stores for a backup
// code. Enrollment tooling uses it so stored hashes match what the Engine
// looks up. The digest does not depend on the owning identity, so codes
// survive an account merge.
func HashBackupCode(code string) [32]byte {
	return sha256.Sum256([]byte(canonicalBackupCode(code)))
}

// verifyMFA accepts a TOTP code or, failing that, a single-use backup code.
// Anything that does not verify is ErrInvalidMfaCode.
func (e *Engine) verifyMFA(ctx context.Context, identity Identity, code string) error {
	if err := e.rate.CheckMFA(ctx, identity.ID); err != nil {
		e.emitRateLimit(ctx, "mfa", identity.ID)
		return e.mapRateErr(err)
	}

	ok, err := e.totp.VerifyCode(identity.TOTPSecret, code, e.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMfaCode, err)
	}

	if !ok {
		canonical := canonicalBackupCode(code)
		if canonical != "" {
			used, err := e.identities.ConsumeBackupCode(ctx, identity.ID, HashBackupCode(canonical))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			}
			ok = used
		}
	}

	if !ok {
		if err := e.rate.IncrementMFA(ctx, identity.ID); err != nil {
			e.logger.Warn("mfa attempt counter update failed", "identity_id", identity.ID, "error", err)
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, identity.ID, "", ErrInvalidMfaCode, nil)
		return ErrInvalidMfaCode
	}

	if err := e.rate.ResetMFA(ctx, identity.ID); err != nil {
		e.logger.Warn("mfa attempt counter reset failed", "identity_id", identity.ID, "error", err)
	}
	e.metricInc(MetricMFASuccess)
	return nil
}
