package internal

import (
	"testing"
)

// FuzzDecodeOpaque exercises opaque value decoding with arbitrary strings.
// Invalid inputs must return errors without panicking.
func FuzzDecodeOpaque(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	if _, _, value, err := NewOpaque(); err == nil {
		f.Add(value)
	}

	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")
	f.Add("dG9vLXNob3J0")

	f.Fuzz(func(t *testing.T, input string) {
		id, secret, err := DecodeOpaque(input)
		if err != nil {
			return
		}

		reEncoded, err := EncodeOpaque(id, secret)
		if err != nil {
			t.Fatalf("EncodeOpaque failed after successful decode: %v", err)
		}

		id2, secret2, err := DecodeOpaque(reEncoded)
		if err != nil {
			t.Fatalf("roundtrip decode failed: %v", err)
		}
		if id2 != id {
			t.Errorf("roundtrip id mismatch: %q vs %q", id2, id)
		}
		if secret2 != secret {
			t.Error("roundtrip secret mismatch")
		}
	})
}

func TestNewOpaqueValuesAreDistinct(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		id, secret, value, err := NewOpaque()
		if err != nil {
			t.Fatalf("NewOpaque failed: %v", err)
		}
		if _, dup := seen[value]; dup {
			t.Fatalf("duplicate opaque value at iteration %d", i)
		}
		seen[value] = struct{}{}

		gotID, gotSecret, err := DecodeOpaque(value)
		if err != nil {
			t.Fatalf("DecodeOpaque failed: %v", err)
		}
		if gotID != id || gotSecret != secret {
			t.Fatal("decoded parts do not match minted parts")
		}
	}
}

func TestDecodeOpaqueRejectsWrongSize(t *testing.T) {
	if _, _, err := DecodeOpaque("dG9vLXNob3J0"); err != ErrOpaqueSize {
		t.Fatalf("expected ErrOpaqueSize, got %v", err)
	}
	if _, _, err := DecodeOpaque("!!!"); err != ErrOpaqueEncoding {
		t.Fatalf("expected ErrOpaqueEncoding, got %v", err)
	}
}
