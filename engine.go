package goAccount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goAccount/capability"
	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/rate"
	"github.com/MrEthical07/goAccount/internal/stores"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/notify"
	"github.com/MrEthical07/goAccount/password"
	"github.com/MrEthical07/goAccount/session"
)

// Engine orchestrates every authentication flow. It holds no mutable state
// of its own beyond counters: Redis and the IdentityProvider are the source
// of truth. Build one with [New] and share it across goroutines.
type Engine struct {
	config      Config
	identities  IdentityProvider
	sessions    *session.Store
	emailTokens *stores.EmailTokenStore
	jwt         *jwt.Manager
	hasher      *password.Argon2
	totp        *totpManager
	rate        *rate.Limiter
	notifier    Notifier
	audit       *audit.Dispatcher
	metrics     *Metrics
	logger      *slog.Logger
	dummyHash   string
	now         func() time.Time
}

// Close stops the audit dispatcher after draining it. The Notifier is owned
// by the caller and is not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counter values. Disabled metrics give
// empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) mapRateErr(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrRateLimited
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func (e *Engine) mapSessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionRevoked):
		return ErrSessionRevoked
	case errors.Is(err, session.ErrSessionAlreadyApproved):
		return ErrAlreadyConsumedToken
	case errors.Is(err, session.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionPending),
		errors.Is(err, session.ErrSessionCorrupt):
		return ErrInvalidOrExpiredToken
	default:
		return err
	}
}

// scopesFor resolves the configured capability templates for identityID.
func (e *Engine) scopesFor(identityID string) ([]string, error) {
	return capability.ResolveAll(e.config.Capability.Templates, map[string]string{"userId": identityID})
}

// mintAccess signs an access token for an existing session.
func (e *Engine) mintAccess(identityID, sessionID string) (string, time.Time, error) {
	scopes, err := e.scopesFor(identityID)
	if err != nil {
		return "", time.Time{}, err
	}
	return e.jwt.CreateAccess(identityID, sessionID, scopes)
}

// dropSession revokes a session a failed flow created. Failure is only
// logged; the session was never handed out.
func (e *Engine) dropSession(ctx context.Context, sessionID string) {
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		e.logger.Warn("session cleanup failed", "session_id", sessionID, "error", err)
	}
}

// startSession creates a session from the request context and mints its
// access token. If signing fails the session is revoked again.
func (e *Engine) startSession(ctx context.Context, identityID, fingerprint string, approved bool) (*TokenPair, error) {
	sess, value, err := e.sessions.Create(ctx, session.NewSession{
		IdentityID:  identityID,
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Fingerprint: fingerprint,
		Approved:    approved,
	}, e.config.Session.RefreshTTL)
	if err != nil {
		return nil, e.mapSessionErr(err)
	}

	access, exp, err := e.mintAccess(identityID, sess.SessionID)
	if err != nil {
		e.dropSession(ctx, sess.SessionID)
		return nil, err
	}

	return &TokenPair{
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    value,
		SessionID:       sess.SessionID,
		IdentityID:      identityID,
	}, nil
}

// notify hands msg to the Notifier. It never fails the calling flow.
func (e *Engine) notify(ctx context.Context, to string, msg notify.Message) {
	if e.notifier == nil {
		return
	}
	if timeout := e.config.EmailToken.NotificationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
	}
	if err := e.notifier.Notify(ctx, to, msg); err != nil {
		e.metricInc(MetricNotificationDropped)
		e.logger.Warn("notification enqueue failed", "purpose", msg.Purpose(), "error", err)
	}
}

// gateEmailRequest spends one unit of the per-email budget for kind.
func (e *Engine) gateEmailRequest(ctx context.Context, kind, safeEmail string) error {
	if err := e.rate.CheckEmailRequest(ctx, kind, safeEmail); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, kind, "")
		}
		return e.mapRateErr(err)
	}
	return nil
}

// lookupForRequest resolves an email for a request-style flow. A nil
// identity with a nil error means there is nothing to send.
func (e *Engine) lookupForRequest(ctx context.Context, safeEmail string) (*Identity, error) {
	identity, err := e.identities.GetIdentityByEmail(ctx, safeEmail)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !identity.Active {
		return nil, nil
	}
	return &identity, nil
}

func (e *Engine) getIdentity(ctx context.Context, id string) (Identity, error) {
	identity, err := e.identities.GetIdentityByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return identity, nil
}

// Refresh rotates a refresh value: the presented session is revoked and a
// new one with a fresh access token takes its place. A value that was
// already rotated fails with ErrSessionRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshValue string) (*TokenPair, error) {
	sid, _, err := internal.DecodeOpaque(refreshValue)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidOrExpiredToken, nil)
		return nil, ErrInvalidOrExpiredToken
	}

	if err := e.rate.CheckRefresh(ctx, sid); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "refresh", "")
		}
		return nil, e.mapRateErr(err)
	}

	next, value, err := e.sessions.Rotate(ctx, refreshValue, session.NewSession{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}, e.config.Session.RefreshTTL)
	if err != nil {
		mapped := e.mapSessionErr(err)
		e.metricInc(MetricRefreshFailure)
		if errors.Is(mapped, ErrSessionRevoked) {
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sid, mapped, nil)
		} else {
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sid, mapped, nil)
		}
		return nil, mapped
	}

	access, exp, err := e.mintAccess(next.IdentityID, next.SessionID)
	if err != nil {
		if rerr := e.sessions.Revoke(ctx, next.SessionID); rerr != nil {
			e.logger.Warn("session cleanup failed", "session_id", next.SessionID, "error", rerr)
		}
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, next.IdentityID, next.SessionID, nil, nil)
	return &TokenPair{
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    value,
		SessionID:       next.SessionID,
		IdentityID:      next.IdentityID,
	}, nil
}

// Logout revokes the session behind refreshValue. Logging out an already
// revoked session succeeds.
func (e *Engine) Logout(ctx context.Context, refreshValue string) error {
	sess, err := e.sessions.FindByValue(ctx, refreshValue)
	if err != nil {
		return e.mapSessionErr(err)
	}
	if err := e.sessions.Revoke(ctx, sess.SessionID); err != nil {
		return e.mapSessionErr(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, sess.IdentityID, sess.SessionID, nil, nil)
	return nil
}

// LogoutAll revokes every session of the identity, pending ones included.
func (e *Engine) LogoutAll(ctx context.Context, identityID string) error {
	n, err := e.sessions.RevokeAll(ctx, identityID)
	if err != nil {
		return e.mapSessionErr(err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, identityID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return nil
}

func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]SessionInfo, error) {
	active, err := e.sessions.ListActive(ctx, identityID)
	if err != nil {
		return nil, e.mapSessionErr(err)
	}
	out := make([]SessionInfo, 0, len(active))
	for _, s := range active {
		out = append(out, SessionInfo{
			SessionID: s.SessionID,
			IP:        s.IP,
			UserAgent: s.UserAgent,
			Subnet:    s.Fingerprint,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	return out, nil
}

// ValidateAccess verifies an access token without touching storage. A
// token stays valid until its own expiry even if its session is revoked.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	claims, err := e.jwt.ParseAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrExpiredToken, err)
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return &AuthResult{
		IdentityID: claims.UID,
		SessionID:  claims.SID,
		Scopes:     claims.Scopes,
		ExpiresAt:  exp,
	}, nil
}

// HasCapability reports whether the scopes in result satisfy required.
func (e *Engine) HasCapability(result *AuthResult, required string) bool {
	if result == nil {
		return false
	}
	return capability.Satisfies(result.Scopes, required)
}
