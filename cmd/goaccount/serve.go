package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/internal/httpapi"
	"github.com/MrEthical07/goAccount/internal/logging"
	promexport "github.com/MrEthical07/goAccount/metrics/export/prometheus"
	"github.com/MrEthical07/goAccount/notify"
	"github.com/MrEthical07/goAccount/postgres"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. SMTP delivery is configured through GOACCOUNT_SMTP_*
environment variables; without them outbound mail is only logged.`,
		RunE: runServe,
	}
	addServeFlags(cmd.Flags())
	return cmd
}

type pgProbe struct{ pool *pgxpool.Pool }

func (p pgProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

type redisProbe struct{ client *redis.Client }

func (p redisProbe) Check(ctx context.Context) error { return p.client.Ping(ctx).Err() }

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetupLevel("goaccount", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	queue, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}
	engine, err := goAccount.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithIdentityProvider(postgres.NewIdentityRepo(pool)).
		WithNotifier(queue).
		WithLogger(logger).
		WithAuditSink(goAccount.NewSlogSink(logger.With("component", "audit"))).
		Build()
	if err != nil {
		return oops.Code("ENGINE_INIT_FAILED").Wrap(err)
	}

	logger.Info("engine ready", "security", engine.SecurityReport())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(promexport.NewCollector(engine))

	api := httpapi.New(engine, logger, httpapi.Options{
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}),
		ReadyProbes:    []httpapi.ReadyProbe{pgProbe{pool: pool}, redisProbe{client: rdb}},
		TrustProxy:     cfg.HTTP.TrustProxy,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logger.Info("http server started", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "http shutdown failed", err)
	}
	engine.Close()
	if err := queue.Close(shutdownCtx); err != nil {
		logging.LogError(logger, "notification queue did not drain", err)
	}
	logger.Info("stopped",
		"notifications_delivered", queue.Delivered(),
		"notifications_failed", queue.Failed(),
		"notifications_dropped", queue.Dropped(),
	)

	if serveErr != nil {
		return oops.Code("HTTP_SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(serveErr)
	}
	return nil
}

// newNotifier builds the mail queue: SMTP when GOACCOUNT_SMTP_* is set,
// otherwise a transport that only logs.
func newNotifier(cfg serverConfig, logger *slog.Logger) (*notify.Queue, error) {
	renderer, err := notify.NewRenderer(cfg.Notify.Product, cfg.Notify.BaseURL)
	if err != nil {
		return nil, err
	}

	smtpCfg, err := notify.LoadSMTPConfigFromEnv()
	if err != nil {
		return nil, err
	}
	var transport notify.Transport
	if smtpCfg.Enabled() {
		transport, err = notify.NewSMTPTransport(smtpCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("smtp delivery enabled", "host", smtpCfg.Host, "port", smtpCfg.Port)
	} else {
		transport = notify.NewLogTransport(logger.With("component", "notify"), cfg.Notify.LogBodies)
		logger.Warn("smtp not configured; outbound mail is logged only")
	}

	return notify.NewQueue(cfg.notifyConfig(), renderer, transport, logger.With("component", "notify"))
}
