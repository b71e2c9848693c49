package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/oops"
)

// Email is one rendered message addressed to a single recipient.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Transport delivers a rendered email. Implementations must honour ctx.
type Transport interface {
	Send(ctx context.Context, email Email) error
}

// SMTPConfig is read from GOACCOUNT_SMTP_* environment variables.
type SMTPConfig struct {
	Host     string        `env:"GOACCOUNT_SMTP_HOST"`
	Port     int           `env:"GOACCOUNT_SMTP_PORT"     envDefault:"587"`
	Username string        `env:"GOACCOUNT_SMTP_USERNAME"`
	Password string        `env:"GOACCOUNT_SMTP_PASSWORD"`
	FromName string        `env:"GOACCOUNT_SMTP_FROM_NAME" envDefault:"goAccount"`
	From     string        `env:"GOACCOUNT_SMTP_FROM"`
	Timeout  time.Duration `env:"GOACCOUNT_SMTP_TIMEOUT"  envDefault:"10s"`
}

// LoadSMTPConfigFromEnv parses SMTPConfig from the environment.
func LoadSMTPConfigFromEnv() (SMTPConfig, error) {
	var cfg SMTPConfig
	if err := env.Parse(&cfg); err != nil {
		return SMTPConfig{}, oops.Code("NOTIFY_SMTP_CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

// Enabled reports whether enough is configured to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// SMTPTransport sends multipart text+HTML mail through a relay with
// optional PLAIN auth.
type SMTPTransport struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if !cfg.Enabled() {
		return nil, oops.Code("NOTIFY_SMTP_CONFIG_INVALID").Errorf("smtp host and from address are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPTransport{cfg: cfg, send: smtp.SendMail}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, email Email) error {
	if strings.ContainsAny(email.To, "\r\n") {
		return oops.Code("NOTIFY_INVALID_RECIPIENT").Errorf("recipient contains line break")
	}

	msg, err := buildMIME(t.cfg.FromName, t.cfg.From, email)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprint(t.cfg.Port))
	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.send(addr, auth, t.cfg.From, []string{email.To}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return oops.Code("NOTIFY_SMTP_SEND_FAILED").With("host", t.cfg.Host).Wrap(err)
		}
		return nil
	case <-ctx.Done():
		return oops.Code("NOTIFY_SMTP_SEND_FAILED").With("host", t.cfg.Host).Wrap(ctx.Err())
	}
}

func buildMIME(fromName, from string, email Email) ([]byte, error) {
	var boundary [12]byte
	if _, err := rand.Read(boundary[:]); err != nil {
		return nil, err
	}
	b := "goaccount-" + hex.EncodeToString(boundary[:])

	var sb strings.Builder
	sb.WriteString("From: " + mime.QEncoding.Encode("utf-8", fromName) + " <" + from + ">\r\n")
	sb.WriteString("To: " + email.To + "\r\n")
	sb.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", email.Subject) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/alternative; boundary=\"" + b + "\"\r\n\r\n")

	sb.WriteString("--" + b + "\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	sb.WriteString(strings.ReplaceAll(email.Text, "\n", "\r\n") + "\r\n")

	sb.WriteString("--" + b + "\r\n")
	sb.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	sb.WriteString(email.HTML + "\r\n")

	sb.WriteString("--" + b + "--\r\n")
	return []byte(sb.String()), nil
}

// LogTransport writes each email to a logger instead of sending it. It is
// the fallback when SMTP is not configured. Bodies carry live tokens, so
// they are only logged when showBody is set.
type LogTransport struct {
	logger   *slog.Logger
	showBody bool
}

func NewLogTransport(logger *slog.Logger, showBody bool) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger, showBody: showBody}
}

func (t *LogTransport) Send(ctx context.Context, email Email) error {
	attrs := []any{"to", email.To, "subject", email.Subject}
	if t.showBody {
		attrs = append(attrs, "body", email.Text)
	}
	t.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}
