// Package safeemail reduces an email address to the canonical form used for
// identity lookup, so aliases of one mailbox resolve to one identity.
package safeemail

import (
	"errors"
	"net/mail"
	"strings"
)

var ErrInvalidEmail = errors.New("invalid email address")

var dotInsensitiveDomains = map[string]string{
	"gmail.com":      "gmail.com",
	"googlemail.com": "gmail.com",
}

// Normalize lowercases and trims address, drops any +tag from the local
// part and removes dots for providers that ignore them.
func Normalize(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || len(address) > 320 {
		return "", ErrInvalidEmail
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return "", ErrInvalidEmail
	}
	local, domain := address[:at], address[at+1:]

	if plus := strings.IndexByte(local, '+'); plus >= 0 {
		local = local[:plus]
	}
	if canonical, ok := dotInsensitiveDomains[domain]; ok {
		local = strings.ReplaceAll(local, ".", "")
		domain = canonical
	}
	if local == "" {
		return "", ErrInvalidEmail
	}

	return local + "@" + domain, nil
}
