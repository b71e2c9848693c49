package stores

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	emailTokenRecordVersionV1 = 1

	maxWatchRetries = 4
)

// TokenState is the lifecycle position of an email token record.
type TokenState uint8

const (
	TokenPending TokenState = iota
	TokenClaimed
	TokenConsumed
)

var (
	ErrEmailTokenNotFound         = errors.New("email token not found")
	ErrEmailTokenExpired          = errors.New("email token expired")
	ErrEmailTokenConsumed         = errors.New("email token already consumed")
	ErrEmailTokenInFlight         = errors.New("email token redemption in flight")
	ErrEmailTokenWrongPurpose     = errors.New("email token purpose mismatch")
	ErrEmailTokenLeaseLost        = errors.New("email token lease lost")
	ErrEmailTokenRedisUnavailable = errors.New("email token redis unavailable")
)

// EmailTokenRecord is the stored half of an email token. The plaintext secret
// never reaches Redis.
type EmailTokenRecord struct {
	IdentityID string
	Purpose    string
	Subject    string
	SecretHash [32]byte
	ExpiresAt  int64
	State      TokenState
	LeaseNonce [16]byte
	LeaseUntil int64
}

// Lease identifies one in-flight redemption of a token.
type Lease struct {
	TokenID string
	Nonce   [16]byte
}

// EmailTokenStore persists email token records keyed by token id.
type EmailTokenStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewEmailTokenStore returns a store writing under prefix (default "aet").
func NewEmailTokenStore(redisClient redis.UniversalClient, prefix string) *EmailTokenStore {
	if prefix == "" {
		prefix = "aet"
	}
	return &EmailTokenStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *EmailTokenStore) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

// Save writes a fresh pending record. The Redis TTL is the token lifetime.
func (s *EmailTokenStore) Save(ctx context.Context, tokenID string, record *EmailTokenRecord, ttl time.Duration) error {
	record.State = TokenPending
	record.LeaseNonce = [16]byte{}
	record.LeaseUntil = 0

	encoded, err := encodeEmailTokenRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(tokenID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailTokenRedisUnavailable, err)
	}
	return nil
}

// Claim takes a redemption lease on the token. Checks run in a fixed order:
// secret hash, consumed, in flight, purpose, expiry. A purpose mismatch leaves
// the record untouched.
func (s *EmailTokenStore) Claim(
	ctx context.Context,
	tokenID string,
	providedHash [32]byte,
	purpose string,
	leaseTTL time.Duration,
) (*EmailTokenRecord, Lease, error) {
	key := s.key(tokenID)

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, Lease{}, err
	}

	for i := 0; i < maxWatchRetries; i++ {
		var claimed *EmailTokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			record, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return ErrEmailTokenNotFound
			}

			now := s.now()
			switch record.State {
			case TokenConsumed:
				return ErrEmailTokenConsumed
			case TokenClaimed:
				if now.Unix() < record.LeaseUntil {
					return ErrEmailTokenInFlight
				}
			}

			if record.Purpose != purpose {
				return ErrEmailTokenWrongPurpose
			}

			if now.Unix() >= record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrEmailTokenExpired
			}

			record.State = TokenClaimed
			record.LeaseNonce = nonce
			record.LeaseUntil = now.Add(leaseTTL).Unix()

			updated, err := encodeEmailTokenRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			if err != nil {
				return err
			}

			claimed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, Lease{}, classifyEmailTokenErr(err)
		}

		return claimed, Lease{TokenID: tokenID, Nonce: nonce}, nil
	}

	return nil, Lease{}, ErrEmailTokenInFlight
}

// Commit marks a claimed token consumed. The tombstone lives for retention
// or until the token's own expiry, whichever is later, so a replay inside
// the token lifetime always reports consumed.
func (s *EmailTokenStore) Commit(ctx context.Context, lease Lease, retention time.Duration) error {
	return s.settle(ctx, lease, func(record *EmailTokenRecord) (time.Duration, bool) {
		record.State = TokenConsumed
		record.LeaseNonce = [16]byte{}
		record.LeaseUntil = 0
		return tombstoneTTL(record.ExpiresAt, s.now(), retention), false
	})
}

func tombstoneTTL(expiresAt int64, now time.Time, retention time.Duration) time.Duration {
	if remaining := time.Unix(expiresAt, 0).Sub(now); remaining > retention {
		return remaining
	}
	return retention
}

// Release returns a claimed token to pending after a failed side effect.
// Releasing a lease that was already lost is a no-op.
func (s *EmailTokenStore) Release(ctx context.Context, lease Lease) error {
	err := s.settle(ctx, lease, func(record *EmailTokenRecord) (time.Duration, bool) {
		record.State = TokenPending
		record.LeaseNonce = [16]byte{}
		record.LeaseUntil = 0
		return 0, true
	})
	if errors.Is(err, ErrEmailTokenLeaseLost) || errors.Is(err, ErrEmailTokenNotFound) {
		return nil
	}
	return err
}

func (s *EmailTokenStore) settle(
	ctx context.Context,
	lease Lease,
	mutate func(*EmailTokenRecord) (ttl time.Duration, keepTTL bool),
) error {
	key := s.key(lease.TokenID)

	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			record, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			if record.State != TokenClaimed ||
				subtle.ConstantTimeCompare(record.LeaseNonce[:], lease.Nonce[:]) != 1 {
				return ErrEmailTokenLeaseLost
			}

			ttl, keepTTL := mutate(record)
			updated, err := encodeEmailTokenRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if keepTTL {
					pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				} else {
					pipe.Set(ctx, key, updated, ttl)
				}
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return classifyEmailTokenErr(err)
		}
		return nil
	}

	return ErrEmailTokenLeaseLost
}

// Get returns the record for inspection without changing it.
func (s *EmailTokenStore) Get(ctx context.Context, tokenID string) (*EmailTokenRecord, error) {
	record, err := s.load(ctx, s.redis, s.key(tokenID))
	if err != nil {
		return nil, classifyEmailTokenErr(err)
	}
	return record, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *EmailTokenStore) load(ctx context.Context, client getter, key string) (*EmailTokenRecord, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmailTokenNotFound
		}
		return nil, err
	}
	return decodeEmailTokenRecord(data)
}

func classifyEmailTokenErr(err error) error {
	switch {
	case errors.Is(err, ErrEmailTokenNotFound),
		errors.Is(err, ErrEmailTokenExpired),
		errors.Is(err, ErrEmailTokenConsumed),
		errors.Is(err, ErrEmailTokenInFlight),
		errors.Is(err, ErrEmailTokenWrongPurpose),
		errors.Is(err, ErrEmailTokenLeaseLost),
		errors.Is(err, errEmailTokenCorrupt):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrEmailTokenRedisUnavailable, err)
	}
}

var errEmailTokenCorrupt = errors.New("invalid email token record")

func encodeEmailTokenRecord(record *EmailTokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(emailTokenRecordVersionV1)
	buf.WriteByte(byte(record.State))

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.LeaseUntil); err != nil {
		return nil, err
	}
	buf.Write(record.LeaseNonce[:])
	buf.Write(record.SecretHash[:])

	for _, field := range []string{record.IdentityID, record.Purpose, record.Subject} {
		if len(field) > 65535 {
			return nil, errors.New("email token record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeEmailTokenRecord(data []byte) (*EmailTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errEmailTokenCorrupt
	}
	if version != emailTokenRecordVersionV1 {
		return nil, errEmailTokenCorrupt
	}

	state, err := reader.ReadByte()
	if err != nil || TokenState(state) > TokenConsumed {
		return nil, errEmailTokenCorrupt
	}

	record := &EmailTokenRecord{State: TokenState(state)}

	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, errEmailTokenCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &record.LeaseUntil); err != nil {
		return nil, errEmailTokenCorrupt
	}
	if _, err := io.ReadFull(reader, record.LeaseNonce[:]); err != nil {
		return nil, errEmailTokenCorrupt
	}
	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, errEmailTokenCorrupt
	}

	fields := make([]string, 3)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, errEmailTokenCorrupt
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, errEmailTokenCorrupt
		}
		fields[i] = string(raw)
	}
	record.IdentityID, record.Purpose, record.Subject = fields[0], fields[1], fields[2]

	if reader.Len() != 0 {
		return nil, errEmailTokenCorrupt
	}

	return record, nil
}
