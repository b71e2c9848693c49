package main

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/notify"
)

// serverConfig is the file and flag configuration of the goaccount binary.
// Flags use the same dotted keys as the YAML file and win over it.
type serverConfig struct {
	HTTP struct {
		Addr            string        `koanf:"addr"`
		TrustProxy      bool          `koanf:"trust_proxy"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`

	JWT struct {
		SigningMethod  string        `koanf:"signing_method"`
		PrivateKeyFile string        `koanf:"private_key_file"`
		PublicKeyFile  string        `koanf:"public_key_file"`
		KeyID          string        `koanf:"key_id"`
		Issuer         string        `koanf:"issuer"`
		Audience       string        `koanf:"audience"`
		AccessTTL      time.Duration `koanf:"access_ttl"`
	} `koanf:"jwt"`

	Policy struct {
		RequireVerifiedEmail bool `koanf:"require_verified_email"`
		AllowRegistration    bool `koanf:"allow_registration"`
	} `koanf:"policy"`

	Notify struct {
		Product        string  `koanf:"product"`
		BaseURL        string  `koanf:"base_url"`
		Capacity       int     `koanf:"capacity"`
		SendsPerSecond float64 `koanf:"sends_per_second"`
		LogBodies      bool    `koanf:"log_bodies"`
	} `koanf:"notify"`

	Audit struct {
		Enabled bool `koanf:"enabled"`
	} `koanf:"audit"`
}

func defaultServerConfig() serverConfig {
	var c serverConfig
	c.HTTP.Addr = ":8080"
	c.HTTP.ShutdownTimeout = 15 * time.Second
	c.Redis.Addr = "localhost:6379"
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.JWT.SigningMethod = "ed25519"
	c.Policy.AllowRegistration = true
	c.Notify.Product = "goAccount"
	c.Notify.BaseURL = "http://localhost:8080"
	return c
}

// addServeFlags registers the overridable keys on fs.
func addServeFlags(fs *pflag.FlagSet) {
	d := defaultServerConfig()
	fs.String("http.addr", d.HTTP.Addr, "listen address")
	fs.Bool("http.trust_proxy", false, "take the client IP from X-Forwarded-For")
	fs.String("database.url", "", "postgres URL (default $DATABASE_URL)")
	fs.String("redis.addr", d.Redis.Addr, "redis address")
	fs.String("log.level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log.format", d.Log.Format, "log format: json or text")
}

// loadConfig reads path (when set) and then the changed flags in fs.
func loadConfig(path string, fs *pflag.FlagSet) (serverConfig, error) {
	k := koanf.New(".")
	cfg := defaultServerConfig()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return serverConfig{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return serverConfig{}, oops.Code("CONFIG_LOAD_FAILED").With("operation", "apply flags").Wrap(err)
		}
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return serverConfig{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// Validate checks what the binary needs before it touches any backend.
// Engine settings are validated again by the Engine itself.
func (c serverConfig) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http.addr is required")
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url or DATABASE_URL is required")
	}
	if c.Redis.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("redis.addr is required")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.JWT.PrivateKeyFile == "" {
		return oops.Code("CONFIG_INVALID").Errorf("jwt.private_key_file is required")
	}
	if c.JWT.SigningMethod == "ed25519" && c.JWT.PublicKeyFile == "" {
		return oops.Code("CONFIG_INVALID").Errorf("jwt.public_key_file is required for ed25519")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("http.shutdown_timeout must be > 0")
	}
	if c.Notify.SendsPerSecond < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("notify.sends_per_second must be >= 0")
	}
	return nil
}

// engineConfig builds the Engine configuration, reading key material from
// disk.
func (c serverConfig) engineConfig() (goAccount.Config, error) {
	cfg := goAccount.DefaultConfig()
	cfg.JWT.SigningMethod = c.JWT.SigningMethod
	cfg.JWT.KeyID = c.JWT.KeyID
	if c.JWT.Issuer != "" {
		cfg.JWT.Issuer = c.JWT.Issuer
	}
	cfg.JWT.Audience = c.JWT.Audience
	if c.JWT.AccessTTL > 0 {
		cfg.JWT.AccessTTL = c.JWT.AccessTTL
	}

	key, err := os.ReadFile(c.JWT.PrivateKeyFile)
	if err != nil {
		return goAccount.Config{}, oops.Code("CONFIG_KEY_UNREADABLE").With("path", c.JWT.PrivateKeyFile).Wrap(err)
	}
	cfg.JWT.PrivateKey = key
	if c.JWT.PublicKeyFile != "" {
		pub, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return goAccount.Config{}, oops.Code("CONFIG_KEY_UNREADABLE").With("path", c.JWT.PublicKeyFile).Wrap(err)
		}
		cfg.JWT.PublicKey = pub
	}

	cfg.Policy.RequireVerifiedEmail = c.Policy.RequireVerifiedEmail
	cfg.Policy.AllowRegistration = c.Policy.AllowRegistration
	cfg.Audit.Enabled = c.Audit.Enabled
	return cfg, nil
}

func (c serverConfig) notifyConfig() notify.Config {
	cfg := notify.DefaultConfig()
	if c.Notify.Capacity > 0 {
		cfg.Capacity = c.Notify.Capacity
	}
	cfg.SendsPerSecond = c.Notify.SendsPerSecond
	return cfg
}
