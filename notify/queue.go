package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull   = errors.New("notification queue full")
	ErrQueueClosed = errors.New("notification queue closed")
)

// Config bounds the delivery queue. Consumers is the number of deliveries
// that may be in flight at once; the default of 1 serializes them.
type Config struct {
	Capacity       int
	Consumers      int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SendTimeout    time.Duration
	SendsPerSecond float64
}

// DefaultConfig returns the serialized, three-retry policy.
func DefaultConfig() Config {
	return Config{
		Capacity:       256,
		Consumers:      1,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		SendTimeout:    15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.Consumers <= 0 {
		c.Consumers = d.Consumers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}

type job struct {
	to  string
	msg Message
}

// Queue is a bounded, fire-and-forget notifier. Notify never blocks the
// calling flow; delivery, retry and give-up all happen on consumer
// goroutines and are only logged.
type Queue struct {
	cfg       Config
	renderer  *Renderer
	transport Transport
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu     sync.RWMutex
	closed bool
	jobs   chan job

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewQueue starts cfg.Consumers delivery goroutines. Call Close to stop them.
func NewQueue(cfg Config, renderer *Renderer, transport Transport, logger *slog.Logger) (*Queue, error) {
	if renderer == nil || transport == nil {
		return nil, oops.Code("NOTIFY_QUEUE_INVALID").Errorf("renderer and transport are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:       cfg,
		renderer:  renderer,
		transport: transport,
		logger:    logger,
		jobs:      make(chan job, cfg.Capacity),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	if cfg.SendsPerSecond > 0 {
		burst := int(cfg.SendsPerSecond)
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), burst)
	}

	for i := 0; i < cfg.Consumers; i++ {
		q.wg.Add(1)
		go q.consume()
	}

	return q, nil
}

// Notify enqueues msg for to. A full or closed queue drops the message and
// returns the reason; the caller only logs it.
func (q *Queue) Notify(ctx context.Context, to string, msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job{to: to, msg: msg}:
		return nil
	default:
		q.dropped.Add(1)
		q.logger.WarnContext(ctx, "notification queue full, dropping message",
			"purpose", msg.Purpose(),
			"capacity", q.cfg.Capacity)
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
// If ctx ends first, in-flight deliveries are cancelled and ctx's error is
// returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Dropped counts messages rejected by Notify.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Delivered counts messages the transport accepted.
func (q *Queue) Delivered() uint64 { return q.delivered.Load() }

// Failed counts messages given up on after retries or a render error.
func (q *Queue) Failed() uint64 { return q.failed.Load() }

func (q *Queue) consume() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.deliver(j)
	}
}

func (q *Queue) deliver(j job) {
	purpose := j.msg.Purpose()

	rendered, err := q.renderer.Render(j.msg)
	if err != nil {
		q.failed.Add(1)
		q.logger.Error("notification render failed, dropping",
			"purpose", purpose,
			"error", err)
		return
	}
	email := Email{
		To:      j.to,
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
	}

	backoff := retry.NewExponential(q.cfg.InitialBackoff)
	backoff = retry.WithCappedDuration(q.cfg.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(q.cfg.MaxRetries), backoff)

	attempt := 0
	err = retry.Do(q.baseCtx, backoff, func(ctx context.Context) error {
		attempt++
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
		defer cancel()

		if err := q.transport.Send(sendCtx, email); err != nil {
			if left := q.cfg.MaxRetries - attempt + 1; left > 0 {
				q.logger.Warn("notification delivery failed, retrying",
					"purpose", purpose,
					"attempts_left", left,
					"error", err)
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		q.failed.Add(1)
		q.logger.Error("notification delivery failed, giving up",
			"purpose", purpose,
			"attempts", attempt,
			"error", err)
		return
	}
	q.delivered.Add(1)
}
