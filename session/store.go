package session

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound covers an unknown session id, an expired record and
	// a refresh value whose secret does not match.
	ErrSessionNotFound = errors.New("refresh session not found")
	// ErrSessionRevoked is returned when the session exists but was revoked or rotated away.
	ErrSessionRevoked = errors.New("refresh session revoked")
	// ErrSessionPending is returned when a session is still waiting for subnet approval.
	ErrSessionPending = errors.New("refresh session pending approval")
	// ErrSessionAlreadyApproved is returned by MarkApproved on a session that is already active.
	ErrSessionAlreadyApproved = errors.New("refresh session already approved")
	// ErrSessionCorrupt is returned when a stored record cannot be decoded.
	ErrSessionCorrupt = errors.New("refresh session corrupt")
	// ErrRedisUnavailable wraps transport failures talking to Redis.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	statusNotFound        int64 = 0
	statusExpired         int64 = 1
	statusMismatch        int64 = 2
	statusOK              int64 = 3
	statusRevoked         int64 = 5
	statusPending         int64 = 6
	statusAlreadyApproved int64 = 7
)

const rotateScript = `
local old = redis.call("HMGET", KEYS[1], "identity", "hash", "revoked", "approved", "expires", "fp", "ip", "ua")
local identity = old[1]
if not identity then
  return {0}
end
if old[2] ~= ARGV[3] then
  return {2}
end
if old[3] == "1" then
  return {5}
end
if old[4] ~= "1" then
  return {6}
end
if tonumber(old[5]) <= tonumber(ARGV[5]) then
  return {1}
end

local ip = ARGV[8]
if ip == "" then
  ip = old[7] or ""
end
local ua = ARGV[9]
if ua == "" then
  ua = old[8] or ""
end
local fp = old[6] or ""
local index_key = ARGV[7] .. identity

redis.call("HSET", KEYS[1], "revoked", "1")
redis.call("SREM", index_key, ARGV[1])

redis.call("HSET", KEYS[2],
  "v", ARGV[11],
  "identity", identity,
  "ip", ip,
  "ua", ua,
  "fp", fp,
  "hash", ARGV[4],
  "created", ARGV[5],
  "expires", ARGV[10],
  "approved", "1",
  "revoked", "0")
redis.call("PEXPIRE", KEYS[2], ARGV[6])
redis.call("SADD", index_key, ARGV[2])

return {3, identity, ip, ua, fp}
`

var rotateLua = redis.NewScript(rotateScript)

const markApprovedScript = `
local state = redis.call("HMGET", KEYS[1], "identity", "revoked", "approved", "expires")
if not state[1] then
  return 0
end
if state[2] == "1" then
  return 5
end
if state[3] == "1" then
  return 7
end
if tonumber(state[4]) <= tonumber(ARGV[2]) then
  return 1
end
redis.call("HSET", KEYS[1], "approved", "1", "hash", ARGV[1])
return 3
`

var markApprovedLua = redis.NewScript(markApprovedScript)

const revokeScript = `
local identity = redis.call("HGET", KEYS[1], "identity")
if not identity then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
redis.call("SREM", ARGV[1] .. identity, ARGV[2])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

const revokeAllScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
local kept = false
for _, sid in ipairs(members) do
  local key = ARGV[1] .. sid
  if sid == ARGV[2] then
    kept = redis.call("EXISTS", key) == 1
  elseif redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "revoked") ~= "1" then
    redis.call("HSET", key, "revoked", "1")
    revoked = revoked + 1
  end
end
redis.call("DEL", KEYS[1])
if kept then
  redis.call("SADD", KEYS[1], ARGV[2])
end
return revoked
`

var revokeAllLua = redis.NewScript(revokeAllScript)

const reassignScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local moved = 0
for _, sid in ipairs(members) do
  local key = ARGV[1] .. sid
  if redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "revoked") ~= "1" then
    if redis.call("HGET", key, "approved") == "1" then
      redis.call("HSET", key, "identity", ARGV[2])
      redis.call("SADD", KEYS[2], sid)
      moved = moved + 1
    else
      redis.call("HSET", key, "revoked", "1")
    end
  end
end
redis.call("DEL", KEYS[1])
return moved
`

var reassignLua = redis.NewScript(reassignScript)

// Store is the Redis-backed refresh session store. All methods are safe for
// concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore returns a Store writing under prefix (default "ars").
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ars"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) keyPrefix() string {
	return s.prefix + ":"
}

func (s *Store) indexPrefix() string {
	return s.prefix + ":idx:"
}

func (s *Store) indexKey(identityID string) string {
	return s.indexPrefix() + identityID
}

// Create persists a new session and returns it together with the opaque
// refresh value. Pending sessions are indexed too so bulk revocation and
// reassignment reach them.
func (s *Store) Create(ctx context.Context, in NewSession, ttl time.Duration) (*RefreshSession, string, error) {
	if ttl <= 0 {
		return nil, "", errors.New("session ttl must be positive")
	}

	sessionID, secret, value, err := internal.NewOpaque()
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	sess := &RefreshSession{
		SessionID:   sessionID,
		IdentityID:  in.IdentityID,
		IP:          in.IP,
		UserAgent:   in.UserAgent,
		Fingerprint: in.Fingerprint,
		RefreshHash: internal.HashSecret(secret),
		CreatedAt:   time.Unix(now.Unix(), 0),
		ExpiresAt:   time.Unix(now.Add(ttl).Unix(), 0),
		Approved:    in.Approved,
	}

	fields, err := encodeFields(sess)
	if err != nil {
		return nil, "", err
	}

	key := s.key(sessionID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields...)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.indexKey(in.IdentityID), sessionID)
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sess, value, nil
}

// Get loads a session by id. Revoked records are returned as-is.
func (s *Store) Get(ctx context.Context, sessionID string) (*RefreshSession, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	sess, err := decodeFields(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(sess.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// FindByValue resolves an opaque refresh value. The secret is compared in
// constant time; a malformed value, unknown id or wrong secret all yield
// ErrSessionNotFound. The session may be revoked or pending.
func (s *Store) FindByValue(ctx context.Context, value string) (*RefreshSession, error) {
	sessionID, secret, err := internal.DecodeOpaque(value)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	provided := internal.HashSecret(secret)
	if subtle.ConstantTimeCompare(provided[:], sess.RefreshHash[:]) != 1 {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Revoke marks a session revoked and drops it from the identity index.
// Revoking an unknown or already revoked session is not an error.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}, s.indexPrefix(), sessionID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// MarkApproved turns a pending session active and installs nextHash as its
// refresh hash. It fails if the session is gone, revoked or already approved.
func (s *Store) MarkApproved(ctx context.Context, sessionID string, nextHash [32]byte) error {
	status, err := markApprovedLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		hex.EncodeToString(nextHash[:]),
		s.now().Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch status {
	case statusOK:
		return nil
	case statusRevoked:
		return ErrSessionRevoked
	case statusAlreadyApproved:
		return ErrSessionAlreadyApproved
	default:
		return ErrSessionNotFound
	}
}

// ListActive returns the identity's approved, unrevoked, unexpired sessions.
// Index entries whose record has expired are pruned on the way.
func (s *Store) ListActive(ctx context.Context, identityID string) ([]*RefreshSession, error) {
	indexKey := s.indexKey(identityID)

	sessionIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.HGetAll(ctx, s.key(sid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := s.now()
	active := make([]*RefreshSession, 0, len(sessionIDs))
	var stale []interface{}
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(fields) == 0 {
			stale = append(stale, sessionIDs[i])
			continue
		}
		sess, err := decodeFields(sessionIDs[i], fields)
		if err != nil {
			continue
		}
		if sess.IdentityID != identityID {
			stale = append(stale, sessionIDs[i])
			continue
		}
		if sess.Active(now) {
			active = append(active, sess)
		}
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return active, nil
}

// Rotate exchanges a refresh value for a new session in one atomic step:
// the presented session is marked revoked and the new one inherits its
// identity and fingerprint. IP and user agent come from next when set.
func (s *Store) Rotate(ctx context.Context, value string, next NewSession, ttl time.Duration) (*RefreshSession, string, error) {
	if ttl <= 0 {
		return nil, "", errors.New("session ttl must be positive")
	}

	current, err := s.FindByValue(ctx, value)
	if err != nil {
		return nil, "", err
	}
	if current.Revoked {
		return nil, "", ErrSessionRevoked
	}
	if !current.Approved {
		return nil, "", ErrSessionPending
	}

	newID, newSecret, newValue, err := internal.NewOpaque()
	if err != nil {
		return nil, "", err
	}
	newHash := internal.HashSecret(newSecret)

	now := s.now()
	expiresAt := now.Add(ttl)

	res, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(current.SessionID), s.key(newID)},
		current.SessionID,
		newID,
		hex.EncodeToString(current.RefreshHash[:]),
		hex.EncodeToString(newHash[:]),
		now.Unix(),
		ttl.Milliseconds(),
		s.indexPrefix(),
		next.IP,
		next.UserAgent,
		expiresAt.Unix(),
		sessionFormatVersionCurrent,
	).Slice()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return nil, "", ErrSessionCorrupt
	}

	status, ok := res[0].(int64)
	if !ok {
		return nil, "", ErrSessionCorrupt
	}

	switch status {
	case statusOK:
	case statusRevoked, statusMismatch:
		// Lost the race to a concurrent rotation of the same value.
		return nil, "", ErrSessionRevoked
	case statusPending:
		return nil, "", ErrSessionPending
	default:
		return nil, "", ErrSessionNotFound
	}

	if len(res) < 5 {
		return nil, "", ErrSessionCorrupt
	}
	identity, _ := res[1].(string)
	ip, _ := res[2].(string)
	ua, _ := res[3].(string)
	fp, _ := res[4].(string)

	return &RefreshSession{
		SessionID:   newID,
		IdentityID:  identity,
		IP:          ip,
		UserAgent:   ua,
		Fingerprint: fp,
		RefreshHash: newHash,
		CreatedAt:   time.Unix(now.Unix(), 0),
		ExpiresAt:   time.Unix(expiresAt.Unix(), 0),
		Approved:    true,
	}, newValue, nil
}

// RevokeAll revokes every indexed session of the identity, pending ones
// included, and returns how many were revoked.
func (s *Store) RevokeAll(ctx context.Context, identityID string) (int, error) {
	return s.RevokeOthers(ctx, identityID, "")
}

// RevokeOthers is RevokeAll that leaves keepSessionID untouched and indexed.
func (s *Store) RevokeOthers(ctx context.Context, identityID, keepSessionID string) (int, error) {
	n, err := revokeAllLua.Run(
		ctx,
		s.redis,
		[]string{s.indexKey(identityID)},
		s.keyPrefix(),
		keepSessionID,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// Reassign moves every live approved session of sourceID to destinationID
// and returns how many moved. Refresh values keep working and now resolve
// to the destination identity. Pending sessions are revoked instead: their
// approval links were issued to the source.
func (s *Store) Reassign(ctx context.Context, sourceID, destinationID string) (int, error) {
	if sourceID == destinationID {
		return 0, nil
	}
	n, err := reassignLua.Run(
		ctx,
		s.redis,
		[]string{s.indexKey(sourceID), s.indexKey(destinationID)},
		s.keyPrefix(),
		destinationID,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

