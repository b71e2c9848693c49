package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the fixed-window budgets for each gated operation. A zero
// Max disables that gate.
type Config struct {
	EnableIPThrottle bool
	LoginMaxAttempts int
	LoginWindow      time.Duration

	EnableRefreshThrottle bool
	RefreshMaxAttempts    int
	RefreshWindow         time.Duration

	EmailRequestMax    int
	EmailRequestWindow time.Duration

	MFAMaxAttempts int
	MFAWindow      time.Duration
}

// Limiter is the pre-check gate in front of the auth flows, backed by Redis
// counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin checks whether the email and IP are within the failed-login
// budget. It does not count the attempt.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if l.config.LoginMaxAttempts <= 0 {
		return nil
	}
	if err := l.checkCounter(ctx, loginUserKey(email), l.config.LoginMaxAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.LoginMaxAttempts); err != nil {
			return err
		}
	}
	return nil
}

// IncrementLogin records a failed login for the email and IP.
func (l *Limiter) IncrementLogin(ctx context.Context, email, ip string) error {
	if l.config.LoginMaxAttempts <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, loginUserKey(email), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count >= int64(l.config.LoginMaxAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count >= int64(l.config.LoginMaxAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the per-email counter after a successful login. The IP
// counter keeps running so one good account cannot launder a spraying IP.
func (l *Limiter) ResetLogin(ctx context.Context, email string) error {
	if err := l.redis.Del(ctx, loginUserKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckRefresh counts a refresh of sessionID and fails once the window's
// budget is spent.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if !l.config.EnableRefreshThrottle || l.config.RefreshMaxAttempts <= 0 {
		return nil
	}
	return l.consume(ctx, refreshKey(sessionID), l.config.RefreshMaxAttempts, l.config.RefreshWindow)
}

// CheckEmailRequest counts one outbound email of kind for email.
func (l *Limiter) CheckEmailRequest(ctx context.Context, kind, email string) error {
	if l.config.EmailRequestMax <= 0 {
		return nil
	}
	return l.consume(ctx, emailRequestKey(kind, email), l.config.EmailRequestMax, l.config.EmailRequestWindow)
}

// CheckMFA reports whether identityID may try another code.
func (l *Limiter) CheckMFA(ctx context.Context, identityID string) error {
	if l.config.MFAMaxAttempts <= 0 {
		return nil
	}
	return l.checkCounter(ctx, mfaKey(identityID), l.config.MFAMaxAttempts)
}

// IncrementMFA records a wrong code for identityID.
func (l *Limiter) IncrementMFA(ctx context.Context, identityID string) error {
	if l.config.MFAMaxAttempts <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, mfaKey(identityID), l.config.MFAWindow)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MFAMaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// ResetMFA clears the wrong-code counter after a successful verification.
func (l *Limiter) ResetMFA(ctx context.Context, identityID string) error {
	if err := l.redis.Del(ctx, mfaKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetLoginAttempts returns the current attempt counter for an email.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) GetLoginAttempts(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, loginUserKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) consume(ctx context.Context, key string, maxAttempts int, window time.Duration) error {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return err
	}
	if count > int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: TTL is set on the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
