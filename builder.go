package goAccount

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/rate"
	"github.com/MrEthical07/goAccount/internal/stores"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/password"
	"github.com/MrEthical07/goAccount/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it once and call Build; a
// Builder cannot be reused.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities IdentityProvider
	notifier   Notifier
	logger     *slog.Logger
	auditSink  AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing sessions, email tokens and rate
// limits. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider sets the identity repository. It is required.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identities = p
	return b
}

// WithNotifier sets where outbound mail goes. Without one, email tokens
// are still issued but nobody is told about them.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination. Events are only dispatched
// when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity provider required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		identities:  b.identities,
		notifier:    b.notifier,
		logger:      logger,
		now:         time.Now,
		sessions:    session.NewStore(b.redis, cfg.Session.RedisPrefix),
		emailTokens: stores.NewEmailTokenStore(b.redis, cfg.EmailToken.RedisPrefix),
		totp:        newTOTPManager(cfg.TOTP),
		metrics:     NewMetrics(cfg.Metrics),
	}

	engine.rate = rate.New(b.redis, rate.Config{
		EnableIPThrottle:      cfg.Security.EnableIPThrottle,
		LoginMaxAttempts:      cfg.Security.MaxLoginAttempts,
		LoginWindow:           cfg.Security.LoginCooldown,
		EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
		RefreshMaxAttempts:    cfg.Security.MaxRefreshAttempts,
		RefreshWindow:         cfg.Security.RefreshCooldown,
		EmailRequestMax:       cfg.Security.MaxEmailRequests,
		EmailRequestWindow:    cfg.Security.EmailRequestCooldown,
		MFAMaxAttempts:        cfg.Security.MaxMFAAttempts,
		MFAWindow:             cfg.Security.MFACooldown,
	})

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.hasher = hasher

	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.dummyHash = dummy

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		MaxAccessTTL:  cfg.JWT.MaxAccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.jwt = jm

	b.built = true
	return engine, nil
}
