package safeemail

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"User@Host.com", "user@host.com"},
		{"  user+tag@host.com ", "user@host.com"},
		{"first.last@example.org", "first.last@example.org"},
		{"First.Last+news@Gmail.com", "firstlast@gmail.com"},
		{"f.l@googlemail.com", "fl@gmail.com"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if err != nil {
			t.Fatalf("Normalize(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "no-at-sign", "@host.com", "user@", "+tag@host.com", "Name <user@host.com>"} {
		if _, err := Normalize(in); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("Normalize(%q) err = %v, want ErrInvalidEmail", in, err)
		}
	}
}
