package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ID is a 128-bit random identifier used for refresh sessions and email tokens.
type ID [16]byte

// Secret is the 256-bit random half of an opaque token value.
type Secret [32]byte

const opaqueRawSize = len(ID{}) + len(Secret{})

var (
	ErrOpaqueEncoding = errors.New("invalid opaque token encoding")
	ErrOpaqueSize     = errors.New("invalid opaque token size")
	ErrIDSize         = errors.New("invalid id size")
)

func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, ErrOpaqueEncoding
	}
	if len(raw) != len(id) {
		return id, ErrIDSize
	}

	copy(id[:], raw)
	return id, nil
}

func NewSecret() (Secret, error) {
	var secret Secret
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret Secret) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeOpaque joins an id and its secret into the value handed to clients.
func EncodeOpaque(id string, secret Secret) (string, error) {
	parsed, err := ParseID(id)
	if err != nil {
		return "", err
	}

	var raw [opaqueRawSize]byte
	copy(raw[:len(parsed)], parsed[:])
	copy(raw[len(parsed):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeOpaque splits a client value back into its id and secret.
func DecodeOpaque(value string) (string, Secret, error) {
	var secret Secret

	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", secret, ErrOpaqueEncoding
	}
	if len(raw) != opaqueRawSize {
		return "", secret, ErrOpaqueSize
	}

	var id ID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}

// NewOpaque mints a fresh id, secret and encoded value in one call.
func NewOpaque() (id string, secret Secret, value string, err error) {
	rawID, err := NewID()
	if err != nil {
		return "", secret, "", err
	}
	secret, err = NewSecret()
	if err != nil {
		return "", secret, "", err
	}
	id = rawID.String()
	value, err = EncodeOpaque(id, secret)
	if err != nil {
		return "", secret, "", err
	}
	return id, secret, value, nil
}
