package goAccount

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/MrEthical07/goAccount/notify"
	"github.com/MrEthical07/goAccount/session"
)

// subnetFingerprint masks ip to the configured prefix and returns the
// network in CIDR form. IPv4-mapped IPv6 addresses are treated as IPv4.
// An empty result never matches anything.
func (e *Engine) subnetFingerprint(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	addr = addr.Unmap().WithZone("")

	bits := e.config.Subnet.IPv6PrefixBits
	if addr.Is4() {
		bits = e.config.Subnet.IPv4PrefixBits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.String()
}

// subnetRecognized reports whether any active session of the identity was
// created from the same network. A disabled guard recognizes everything.
func (e *Engine) subnetRecognized(ctx context.Context, identityID, fingerprint string) (bool, error) {
	if !e.config.Subnet.Enabled {
		return true, nil
	}
	if fingerprint == "" {
		return false, nil
	}

	active, err := e.sessions.ListActive(ctx, identityID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	for _, s := range active {
		if s.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

// completeLogin is the common tail of every login flow once the caller has
// proven who they are. A recognized network gets tokens straight away; an
// unrecognized one gets a pending session bound to an approve-subnet token.
func (e *Engine) completeLogin(ctx context.Context, identity Identity, method string) (*LoginResult, error) {
	ip := clientIPFromContext(ctx)
	fingerprint := e.subnetFingerprint(ip)

	recognized, err := e.subnetRecognized(ctx, identity.ID, fingerprint)
	if err != nil {
		return nil, err
	}

	if recognized {
		e.metricInc(MetricSubnetRecognized)
		pair, err := e.startSession(ctx, identity.ID, fingerprint, true)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, identity.ID, pair.SessionID, nil, func() map[string]string {
			return map[string]string{"method": method}
		})
		return &LoginResult{Status: LoginSucceeded, Tokens: pair, SessionID: pair.SessionID}, nil
	}

	e.metricInc(MetricSubnetUnrecognized)

	pending, _, err := e.sessions.Create(ctx, session.NewSession{
		IdentityID:  identity.ID,
		IP:          ip,
		UserAgent:   userAgentFromContext(ctx),
		Fingerprint: fingerprint,
		Approved:    false,
	}, e.config.Session.RefreshTTL)
	if err != nil {
		return nil, e.mapSessionErr(err)
	}

	token, err := e.issueEmailToken(ctx, identity.ID, PurposeApproveSubnet, pending.SessionID)
	if err != nil {
		if rerr := e.sessions.Revoke(ctx, pending.SessionID); rerr != nil {
			e.logger.Warn("pending session cleanup failed", "session_id", pending.SessionID, "error", rerr)
		}
		return nil, err
	}

	e.notify(ctx, identity.Email, notify.SubnetApproval{
		Name:      identity.DisplayName,
		Token:     token,
		IP:        ip,
		Subnet:    fingerprint,
		UserAgent: userAgentFromContext(ctx),
		ExpiresIn: e.config.EmailToken.ApproveSubnetTTL,
	})

	e.metricInc(MetricLoginApprovalPending)
	e.emitAudit(ctx, auditEventApprovalPending, true, identity.ID, pending.SessionID, nil, func() map[string]string {
		return map[string]string{"method": method, "subnet": fingerprint}
	})
	return &LoginResult{Status: LoginApprovalPending, SessionID: pending.SessionID}, nil
}
