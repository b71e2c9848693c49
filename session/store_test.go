package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, "ars"), mr
}

func createSession(t *testing.T, store *Store, identity string, approved bool) (*RefreshSession, string) {
	t.Helper()
	sess, value, err := store.Create(context.Background(), NewSession{
		IdentityID:  identity,
		IP:          "203.0.113.9",
		UserAgent:   "test-agent",
		Fingerprint: "203.0.113.0/24",
		Approved:    approved,
	}, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess, value
}

func TestCreateAndFindByValue(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	sess, value := createSession(t, store, "u-1", true)

	found, err := store.FindByValue(ctx, value)
	if err != nil {
		t.Fatalf("find by value: %v", err)
	}
	if found.SessionID != sess.SessionID || found.IdentityID != "u-1" {
		t.Fatalf("unexpected session: %+v", found)
	}
	if found.Fingerprint != "203.0.113.0/24" || !found.Approved || found.Revoked {
		t.Fatalf("unexpected flags: %+v", found)
	}
}

func TestFindByValueRejectsWrongSecretAndGarbage(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	sess, _ := createSession(t, store, "u-1", true)

	otherSecret, err := internal.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	forged, err := internal.EncodeOpaque(sess.SessionID, otherSecret)
	if err != nil {
		t.Fatalf("encode opaque: %v", err)
	}

	if _, err := store.FindByValue(ctx, forged); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for wrong secret, got %v", err)
	}
	if _, err := store.FindByValue(ctx, "not-a-token"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for garbage, got %v", err)
	}
}

func TestRevokeIsIdempotentAndKeepsTombstone(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	sess, value := createSession(t, store, "u-1", true)

	if err := store.Revoke(ctx, sess.SessionID); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := store.Revoke(ctx, sess.SessionID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := store.Revoke(ctx, "unknown"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}

	found, err := store.FindByValue(ctx, value)
	if err != nil {
		t.Fatalf("find revoked: %v", err)
	}
	if !found.Revoked {
		t.Fatal("expected revoked flag")
	}

	active, err := store.ListActive(ctx, "u-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(active))
	}
}

func TestRotateRevokesPresentedValue(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	old, value := createSession(t, store, "u-1", true)

	next, nextValue, err := store.Rotate(ctx, value, NewSession{IP: "198.51.100.7"}, time.Hour)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next.SessionID == old.SessionID || nextValue == value {
		t.Fatal("rotation must produce a new session and value")
	}
	if next.IdentityID != "u-1" || next.IP != "198.51.100.7" || next.UserAgent != "test-agent" {
		t.Fatalf("unexpected rotated session: %+v", next)
	}
	if next.Fingerprint != old.Fingerprint {
		t.Fatalf("fingerprint changed on rotation: %q", next.Fingerprint)
	}

	if _, _, err := store.Rotate(ctx, value, NewSession{}, time.Hour); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked on replay, got %v", err)
	}

	found, err := store.FindByValue(ctx, nextValue)
	if err != nil {
		t.Fatalf("find rotated: %v", err)
	}
	if !found.Active(time.Now()) {
		t.Fatalf("rotated session should be active: %+v", found)
	}
}

func TestRotateRejectsPendingSession(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	_, value := createSession(t, store, "u-1", false)

	if _, _, err := store.Rotate(context.Background(), value, NewSession{}, time.Hour); !errors.Is(err, ErrSessionPending) {
		t.Fatalf("expected ErrSessionPending, got %v", err)
	}
}

func TestRotateConcurrentOnlyOneWins(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	_, value := createSession(t, store, "u-1", true)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.Rotate(context.Background(), value, NewSession{}, time.Hour)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrSessionRevoked) {
				t.Errorf("unexpected rotate error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", success)
	}
}

func TestMarkApproved(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	pending, oldValue := createSession(t, store, "u-1", false)

	secret, err := internal.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	if err := store.MarkApproved(ctx, pending.SessionID, internal.HashSecret(secret)); err != nil {
		t.Fatalf("mark approved: %v", err)
	}
	if err := store.MarkApproved(ctx, pending.SessionID, internal.HashSecret(secret)); !errors.Is(err, ErrSessionAlreadyApproved) {
		t.Fatalf("expected ErrSessionAlreadyApproved, got %v", err)
	}

	if _, err := store.FindByValue(ctx, oldValue); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("pending-time value must not survive approval, got %v", err)
	}

	value, err := internal.EncodeOpaque(pending.SessionID, secret)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	found, err := store.FindByValue(ctx, value)
	if err != nil {
		t.Fatalf("find approved: %v", err)
	}
	if !found.Approved {
		t.Fatal("expected approved session")
	}

	revoked, _ := createSession(t, store, "u-1", false)
	if err := store.Revoke(ctx, revoked.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := store.MarkApproved(ctx, revoked.SessionID, [32]byte{1}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if err := store.MarkApproved(ctx, "missing", [32]byte{1}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListActiveSkipsPendingAndPrunesExpired(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()

	createSession(t, store, "u-1", true)
	createSession(t, store, "u-1", false)

	active, err := store.ListActive(ctx, "u-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(active))
	}

	mr.FastForward(2 * time.Hour)

	active, err = store.ListActive(ctx, "u-1")
	if err != nil {
		t.Fatalf("list active after expiry: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected expired sessions gone, got %d", len(active))
	}
	if n, _ := store.redis.SCard(ctx, store.indexKey("u-1")).Result(); n != 0 {
		t.Fatalf("expected index pruned, got %d members", n)
	}
}

func TestRevokeAllIncludesPending(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	_, v1 := createSession(t, store, "u-1", true)
	_, v2 := createSession(t, store, "u-1", false)
	_, other := createSession(t, store, "u-2", true)

	n, err := store.RevokeAll(ctx, "u-1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d sessions, want 2", n)
	}

	for _, v := range []string{v1, v2} {
		found, err := store.FindByValue(ctx, v)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if !found.Revoked {
			t.Fatal("expected session revoked")
		}
	}

	found, err := store.FindByValue(ctx, other)
	if err != nil || found.Revoked {
		t.Fatalf("other identity's session must survive: %v %+v", err, found)
	}
}

func TestReassignMovesSessions(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	_, value := createSession(t, store, "src", true)
	_, pending := createSession(t, store, "src", false)
	createSession(t, store, "dst", true)

	n, err := store.Reassign(ctx, "src", "dst")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if n != 1 {
		t.Fatalf("moved %d sessions, want 1", n)
	}

	found, err := store.FindByValue(ctx, value)
	if err != nil {
		t.Fatalf("find moved: %v", err)
	}
	if found.IdentityID != "dst" {
		t.Fatalf("identity = %q, want dst", found.IdentityID)
	}

	active, err := store.ListActive(ctx, "dst")
	if err != nil {
		t.Fatalf("list dst: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 sessions on destination, got %d", len(active))
	}

	next, _, err := store.Rotate(ctx, value, NewSession{}, time.Hour)
	if err != nil {
		t.Fatalf("rotate moved session: %v", err)
	}
	if next.IdentityID != "dst" {
		t.Fatalf("rotated identity = %q, want dst", next.IdentityID)
	}

	left, err := store.FindByValue(ctx, pending)
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if !left.Revoked || left.IdentityID != "src" {
		t.Fatalf("pending session should stay with src and be revoked: %+v", left)
	}
}

func TestRevokeOthersKeepsOneSession(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	kept, keptValue := createSession(t, store, "u-1", true)
	_, v2 := createSession(t, store, "u-1", true)
	_, v3 := createSession(t, store, "u-1", false)

	n, err := store.RevokeOthers(ctx, "u-1", kept.SessionID)
	if err != nil {
		t.Fatalf("revoke others: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d sessions, want 2", n)
	}

	for _, v := range []string{v2, v3} {
		found, err := store.FindByValue(ctx, v)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if !found.Revoked {
			t.Fatal("expected session revoked")
		}
	}

	found, err := store.FindByValue(ctx, keptValue)
	if err != nil || found.Revoked {
		t.Fatalf("kept session must survive: %v %+v", err, found)
	}
	active, err := store.ListActive(ctx, "u-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].SessionID != kept.SessionID {
		t.Fatalf("expected only the kept session indexed, got %d", len(active))
	}
}

func TestDecodeFieldsRejectsCorruptRecords(t *testing.T) {
	cases := []map[string]string{
		{},
		{fieldVersion: "9", fieldIdentity: "u"},
		{fieldVersion: "1", fieldIdentity: "u", fieldHash: "zz"},
		{fieldVersion: "1", fieldIdentity: "u", fieldHash: "00", fieldCreatedAt: "1", fieldExpiresAt: "2"},
	}
	for i, fields := range cases {
		if _, err := decodeFields("sid", fields); !errors.Is(err, ErrSessionCorrupt) {
			t.Fatalf("case %d: expected ErrSessionCorrupt, got %v", i, err)
		}
	}
}
