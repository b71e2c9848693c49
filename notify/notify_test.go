package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	sent     []Email
	calls    int
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (f *fakeTransport) Send(ctx context.Context, email Email) error {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if fail {
		return errors.New("relay unavailable")
	}
	f.sent = append(f.sent, email)
	return nil
}

func (f *fakeTransport) snapshot() (calls int, sent []Email, maxSeen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]Email(nil), f.sent...), f.maxSeen
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("Acme", "https://app.example.com/")
	require.NoError(t, err)
	return r
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func fastConfig() Config {
	return Config{
		Capacity:       8,
		Consumers:      1,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		SendTimeout:    time.Second,
	}
}

func TestRenderSubnetApproval(t *testing.T) {
	r := newTestRenderer(t)

	out, err := r.Render(SubnetApproval{
		Name:      "Ada",
		Token:     "tok/en+1",
		IP:        "203.0.113.9",
		Subnet:    "203.0.113.0/24",
		ExpiresIn: 30 * time.Minute,
	})
	require.NoError(t, err)

	assert.Equal(t, "Approve a new login to Acme", out.Subject)
	assert.Contains(t, out.Text, "Hi Ada,")
	assert.Contains(t, out.Text, "- Network: 203.0.113.0/24")
	assert.Contains(t, out.Text, "- Device: unknown")
	assert.Contains(t, out.Text, "https://app.example.com/auth/approve-subnet?token=tok%2Fen%2B1")
	assert.Contains(t, out.Text, "30 minutes")
	assert.NotContains(t, out.Text, "# Approve")

	assert.Contains(t, out.HTML, "<li>IP address: 203.0.113.9</li>")
	assert.Contains(t, out.HTML, `href="https://app.example.com/auth/approve-subnet?token=tok%2Fen%2B1"`)
}

func TestRenderEveryPurpose(t *testing.T) {
	r := newTestRenderer(t)

	msgs := []Message{
		EmailVerification{Token: "a", ExpiresIn: 24 * time.Hour},
		PasswordReset{Name: "Ada", Token: "b", ExpiresIn: time.Hour},
		PasswordlessLogin{Token: "c", ExpiresIn: 15 * time.Minute},
		SubnetApproval{Token: "d"},
		MergeRequest{SourceEmail: "old@example.com", Token: "e", ExpiresIn: time.Hour},
		PasswordChanged{Name: "Ada"},
		AccountDeactivated{MergedInto: "new@example.com"},
	}
	for _, msg := range msgs {
		t.Run(string(msg.Purpose()), func(t *testing.T) {
			out, err := r.Render(msg)
			require.NoError(t, err)
			assert.NotEmpty(t, out.Subject)
			assert.NotEmpty(t, out.Text)
			assert.Contains(t, out.HTML, "<title>"+out.Subject+"</title>")
			if _, ok := msg.(actionMessage); ok {
				assert.Contains(t, out.Text, "https://app.example.com"+actionPaths[msg.Purpose()])
			}
		})
	}
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "a short while"},
		{time.Hour, "1 hour"},
		{48 * time.Hour, "48 hours"},
		{time.Minute, "1 minute"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanDuration(tt.in))
	}
}

func TestQueueDeliversAndCloses(t *testing.T) {
	transport := &fakeTransport{}
	q, err := NewQueue(fastConfig(), newTestRenderer(t), transport, quietLogger())
	require.NoError(t, err)

	require.NoError(t, q.Notify(context.Background(), "ada@example.com", PasswordChanged{Name: "Ada"}))
	require.NoError(t, q.Close(context.Background()))

	_, sent, _ := transport.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To)
	assert.Equal(t, uint64(1), q.Delivered())

	assert.ErrorIs(t, q.Notify(context.Background(), "ada@example.com", PasswordChanged{}), ErrQueueClosed)
	assert.NoError(t, q.Close(context.Background()))
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	transport := &fakeTransport{failures: 2}
	var logs bytes.Buffer
	q, err := NewQueue(fastConfig(), newTestRenderer(t), transport, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	require.NoError(t, q.Notify(context.Background(), "ada@example.com", PasswordChanged{}))
	require.NoError(t, q.Close(context.Background()))

	calls, sent, _ := transport.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, sent, 1)
	assert.Equal(t, 2, strings.Count(logs.String(), "notification delivery failed, retrying"))
	assert.Contains(t, logs.String(), "attempts_left=3")
	assert.Contains(t, logs.String(), "attempts_left=2")
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	transport := &fakeTransport{failures: 100}
	var logs bytes.Buffer
	q, err := NewQueue(fastConfig(), newTestRenderer(t), transport, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	require.NoError(t, q.Notify(context.Background(), "ada@example.com", PasswordChanged{}))
	require.NoError(t, q.Close(context.Background()))

	calls, sent, _ := transport.snapshot()
	assert.Equal(t, 4, calls)
	assert.Empty(t, sent)
	assert.Equal(t, uint64(1), q.Failed())
	assert.Contains(t, logs.String(), "notification delivery failed, giving up")
}

func TestQueueDropsWhenFull(t *testing.T) {
	transport := &fakeTransport{delay: 50 * time.Millisecond}
	cfg := fastConfig()
	cfg.Capacity = 1
	q, err := NewQueue(cfg, newTestRenderer(t), transport, quietLogger())
	require.NoError(t, err)

	var full int
	for i := 0; i < 10; i++ {
		if errors.Is(q.Notify(context.Background(), "ada@example.com", PasswordChanged{}), ErrQueueFull) {
			full++
		}
	}
	assert.Positive(t, full)
	assert.Equal(t, uint64(full), q.Dropped())
	require.NoError(t, q.Close(context.Background()))
}

func TestQueueSingleConsumerSerializesDelivery(t *testing.T) {
	transport := &fakeTransport{delay: 5 * time.Millisecond}
	q, err := NewQueue(fastConfig(), newTestRenderer(t), transport, quietLogger())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Notify(context.Background(), "ada@example.com", PasswordChanged{}))
	}
	require.NoError(t, q.Close(context.Background()))

	_, sent, maxSeen := transport.snapshot()
	assert.Len(t, sent, 5)
	assert.Equal(t, 1, maxSeen)
}

func TestQueueCloseHonoursDeadline(t *testing.T) {
	transport := &fakeTransport{failures: 100}
	cfg := fastConfig()
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second
	q, err := NewQueue(cfg, newTestRenderer(t), transport, quietLogger())
	require.NoError(t, err)

	require.NoError(t, q.Notify(context.Background(), "ada@example.com", PasswordChanged{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
}

func TestNewQueueRequiresCollaborators(t *testing.T) {
	_, err := NewQueue(Config{}, nil, &fakeTransport{}, nil)
	assert.Error(t, err)
}

func TestSMTPTransportBuildsMultipart(t *testing.T) {
	tr, err := NewSMTPTransport(SMTPConfig{Host: "smtp.example.com", Port: 25, From: "no-reply@example.com", FromName: "Acme"})
	require.NoError(t, err)

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	tr.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err = tr.Send(context.Background(), Email{To: "ada@example.com", Subject: "Hello", Text: "line one\nline two", HTML: "<p>hi</p>"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:25", gotAddr)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Content-Type: multipart/alternative")
	assert.Contains(t, gotMsg, "line one\r\nline two")
	assert.Contains(t, gotMsg, "<p>hi</p>")

	assert.Error(t, tr.Send(context.Background(), Email{To: "ada@example.com\r\nBcc: x@example.com"}))
}

func TestSMTPTransportRequiresHostAndFrom(t *testing.T) {
	_, err := NewSMTPTransport(SMTPConfig{Host: "smtp.example.com"})
	assert.Error(t, err)
}

func TestLoadSMTPConfigFromEnv(t *testing.T) {
	t.Setenv("GOACCOUNT_SMTP_HOST", "smtp.example.com")
	t.Setenv("GOACCOUNT_SMTP_FROM", "no-reply@example.com")

	cfg, err := LoadSMTPConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 587, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.True(t, cfg.Enabled())
}

func TestLogTransportHidesBodyByDefault(t *testing.T) {
	var logs bytes.Buffer
	tr := NewLogTransport(slog.New(slog.NewTextHandler(&logs, nil)), false)

	require.NoError(t, tr.Send(context.Background(), Email{To: "ada@example.com", Subject: "s", Text: "secret-token"}))
	assert.NotContains(t, logs.String(), "secret-token")
	assert.Contains(t, logs.String(), "ada@example.com")
}
