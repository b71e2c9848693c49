package session

import (
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

const sessionFormatVersionCurrent = "1"

const (
	fieldVersion     = "v"
	fieldIdentity    = "identity"
	fieldIP          = "ip"
	fieldUserAgent   = "ua"
	fieldFingerprint = "fp"
	fieldHash        = "hash"
	fieldCreatedAt   = "created"
	fieldExpiresAt   = "expires"
	fieldApproved    = "approved"
	fieldRevoked     = "revoked"
)

const maxFieldLen = 1024

// encodeFields flattens s into HSET arguments. The refresh hash is hex so
// Lua can compare it as a plain string.
func encodeFields(s *RefreshSession) ([]interface{}, error) {
	if s.IdentityID == "" {
		return nil, errors.New("identity id required")
	}
	for _, v := range []string{s.IdentityID, s.IP, s.UserAgent, s.Fingerprint} {
		if len(v) > maxFieldLen {
			return nil, errors.New("session field too long")
		}
	}

	return []interface{}{
		fieldVersion, sessionFormatVersionCurrent,
		fieldIdentity, s.IdentityID,
		fieldIP, s.IP,
		fieldUserAgent, s.UserAgent,
		fieldFingerprint, s.Fingerprint,
		fieldHash, hex.EncodeToString(s.RefreshHash[:]),
		fieldCreatedAt, strconv.FormatInt(s.CreatedAt.Unix(), 10),
		fieldExpiresAt, strconv.FormatInt(s.ExpiresAt.Unix(), 10),
		fieldApproved, flag(s.Approved),
		fieldRevoked, flag(s.Revoked),
	}, nil
}

func decodeFields(sessionID string, fields map[string]string) (*RefreshSession, error) {
	if fields[fieldVersion] != sessionFormatVersionCurrent {
		return nil, ErrSessionCorrupt
	}

	identity := fields[fieldIdentity]
	if identity == "" {
		return nil, ErrSessionCorrupt
	}

	rawHash, err := hex.DecodeString(fields[fieldHash])
	if err != nil || len(rawHash) != 32 {
		return nil, ErrSessionCorrupt
	}

	created, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	expires, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}

	s := &RefreshSession{
		SessionID:   sessionID,
		IdentityID:  identity,
		IP:          fields[fieldIP],
		UserAgent:   fields[fieldUserAgent],
		Fingerprint: fields[fieldFingerprint],
		CreatedAt:   time.Unix(created, 0),
		ExpiresAt:   time.Unix(expires, 0),
		Approved:    fields[fieldApproved] == "1",
		Revoked:     fields[fieldRevoked] == "1",
	}
	copy(s.RefreshHash[:], rawHash)
	return s, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
