package goAccount

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newAuditEnv(t *testing.T, sink AuditSink) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false

	env := &testEnv{
		identities: newMockIdentityProvider(),
		notifier:   &fakeNotifier{},
		mr:         mr,
		rdb:        rdb,
	}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(env.identities).
		WithNotifier(env.notifier).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func drain(sink *ChannelSink, max int, wait time.Duration) []AuditEvent {
	events := make([]AuditEvent, 0, max)
	timeout := time.After(wait)
	for len(events) < max {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	if env.engine.audit != nil {
		t.Fatal("expected no dispatcher when audit is disabled")
	}
	// emitAudit must be a no-op, not a panic.
	env.engine.emitAudit(context.Background(), auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
	if env.engine.AuditDropped() != 0 {
		t.Fatal("expected zero drops")
	}
}

func TestAuditLoginFailureCarriesIPAndCode(t *testing.T) {
	sink := NewChannelSink(16)
	env := newAuditEnv(t, sink)

	_, _ = env.engine.Login(WithClientIP(context.Background(), "198.51.100.33"), LoginRequest{
		Email:    "nobody@x.com",
		Password: "super-secret-password",
	})

	events := drain(sink, 1, 2*time.Second)
	if len(events) == 0 {
		t.Fatal("expected an audit event")
	}
	ev := events[0]
	if ev.EventType != auditEventLoginFailure {
		t.Fatalf("expected %s, got %s", auditEventLoginFailure, ev.EventType)
	}
	if ev.IP != "198.51.100.33" {
		t.Fatalf("expected IP to be recorded, got %q", ev.IP)
	}
	if ev.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("expected error code %s, got %q", auditErrInvalidCredentials, ev.Error)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(64)
	env := newAuditEnv(t, sink)
	id := env.register(t, "a@x.com")
	pair := env.loginApproved(t, "a@x.com", "1.2.3.4")

	next, err := env.engine.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	needles := []string{
		testPassword,
		pair.RefreshToken,
		next.RefreshToken,
		pair.AccessToken,
		env.identities.get(id).PasswordHash,
	}

	events := drain(sink, 64, 500*time.Millisecond)
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}
	for _, ev := range events {
		for _, needle := range needles {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("secret leaked in error of %s", ev.EventType)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("secret leaked in metadata of %s", ev.EventType)
				}
			}
		}
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	cases := map[error]AuditErrorCode{
		ErrInvalidCredentials:   auditErrInvalidCredentials,
		ErrAlreadyConsumedToken: auditErrTokenConsumed,
		ErrWrongTokenPurpose:    auditErrWrongPurpose,
		ErrRateLimited:          auditErrRateLimited,
		ErrStorageUnavailable:   auditErrUnavailable,
		context.Canceled:        auditErrInternal,
	}
	for err, want := range cases {
		if got := auditErrorCode(err); got != want {
			t.Fatalf("auditErrorCode(%v) = %s, want %s", err, got, want)
		}
	}
	if auditErrorCode(nil) != "" {
		t.Fatal("nil error should have no code")
	}
}
