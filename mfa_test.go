package goAccount

import (
	"testing"
	"time"
)

func TestTOTPVerifyRFCVectors(t *testing.T) {
	cases := []struct {
		algorithm string
		secret    string
		vectors   map[int64]string
	}{
		{
			algorithm: "SHA1",
			secret:    "12345678901234567890",
			vectors: map[int64]string{
				59:          "94287082",
				1111111109:  "07081804",
				1111111111:  "14050471",
				1234567890:  "89005924",
				2000000000:  "69279037",
				20000000000: "65353130",
			},
		},
		{
			algorithm: "SHA256",
			secret:    "12345678901234567890123456789012",
			vectors: map[int64]string{
				59:          "46119246",
				1111111109:  "68084774",
				1111111111:  "67062674",
				1234567890:  "91819424",
				2000000000:  "90698825",
				20000000000: "77737706",
			},
		},
		{
			algorithm: "SHA512",
			secret:    "1234567890123456789012345678901234567890123456789012345678901234",
			vectors: map[int64]string{
				59:          "90693936",
				1111111109:  "25091201",
				1111111111:  "99943326",
				1234567890:  "93441116",
				2000000000:  "38618901",
				20000000000: "47863826",
			},
		},
	}

	for _, tc := range cases {
		m := newTOTPManager(TOTPConfig{Digits: 8, Period: 30, Algorithm: tc.algorithm, Skew: 0})
		for ts, code := range tc.vectors {
			ok, err := m.VerifyCode([]byte(tc.secret), code, time.Unix(ts, 0))
			if err != nil || !ok {
				t.Fatalf("%s vector failed at t=%d, ok=%v err=%v", tc.algorithm, ts, ok, err)
			}
		}
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)
	base := now.Unix() / 30

	for _, step := range []int64{-1, 0, 1} {
		code, err := hotpCode(secret, base+step, 6, "SHA1")
		if err != nil {
			t.Fatalf("hotpCode failed: %v", err)
		}
		if ok, err := m.VerifyCode(secret, code, now); err != nil || !ok {
			t.Fatalf("step %d should be accepted, ok=%v err=%v", step, ok, err)
		}
	}

	far, err := hotpCode(secret, base+2, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	if ok, _ := m.VerifyCode(secret, far, now); ok {
		t.Fatal("code two steps ahead should be rejected")
	}
}

func TestTOTPMalformedCodesAreMismatches(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	secret := []byte("12345678901234567890")

	for _, code := range []string{"", "12345", "12345678", "12a456", "ABCD-EFGH"} {
		ok, err := m.VerifyCode(secret, code, time.Now())
		if err != nil {
			t.Fatalf("code %q: unexpected error %v", code, err)
		}
		if ok {
			t.Fatalf("code %q should not verify", code)
		}
	}
}

func TestHashBackupCodeCanonicalizes(t *testing.T) {
	if HashBackupCode("abcd-efgh") != HashBackupCode(" ABCD EFGH ") {
		t.Fatal("expected formatting to be ignored")
	}
	if HashBackupCode("abcd-efgh") == HashBackupCode("abcd-efgi") {
		t.Fatal("distinct codes must not collide")
	}
}
