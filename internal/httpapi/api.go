// Package httpapi exposes the Engine's flows as a JSON HTTP API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/middleware"
)

// ReadyProbe reports whether a backing store is reachable.
type ReadyProbe interface {
	Check(ctx context.Context) error
}

// Options tunes the API. Zero values are usable.
type Options struct {
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// ReadyProbes are consulted by /readyz in order.
	ReadyProbes []ReadyProbe
	// TrustProxy makes the first X-Forwarded-For entry the client IP.
	TrustProxy bool
	Version    string
}

// API is the HTTP layer over an Engine.
type API struct {
	mux    *http.ServeMux
	engine *goAccount.Engine
	logger *slog.Logger
	opts   Options
}

func New(engine *goAccount.Engine, logger *slog.Logger, opts Options) *API {
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{
		mux:    http.NewServeMux(),
		engine: engine,
		logger: logger,
		opts:   opts,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	if opts.MetricsHandler != nil {
		a.mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	a.mux.HandleFunc("POST /v1/auth/register", a.Register)
	a.mux.HandleFunc("POST /v1/auth/login", a.Login)
	a.mux.HandleFunc("POST /v1/auth/login/totp", a.LoginTOTP)
	a.mux.HandleFunc("POST /v1/auth/login/token", a.LoginToken)
	a.mux.HandleFunc("POST /v1/auth/login/passwordless", a.RequestPasswordless)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.Refresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.Logout)
	a.mux.HandleFunc("POST /v1/auth/approve-subnet", a.ApproveSubnet)
	a.mux.HandleFunc("POST /v1/auth/resend-email-verification", a.ResendEmailVerification)
	a.mux.HandleFunc("POST /v1/auth/verify-email", a.VerifyEmail)
	a.mux.HandleFunc("POST /v1/auth/forgot-password", a.ForgotPassword)
	a.mux.HandleFunc("POST /v1/auth/reset-password", a.ResetPassword)
	a.mux.HandleFunc("POST /v1/auth/merge-accounts", a.MergeAccounts)

	guard := middleware.Guard(engine)
	a.mux.Handle("POST /v1/users/{userId}/merge-request",
		guard(middleware.RequireCapability(engine, "user-{userId}:write-merge")(http.HandlerFunc(a.RequestMerge))))
	a.mux.Handle("GET /v1/users/{userId}/sessions",
		guard(middleware.RequireCapability(engine, "user-{userId}:read-session-*")(http.HandlerFunc(a.ListSessions))))
	a.mux.Handle("DELETE /v1/users/{userId}/sessions",
		guard(middleware.RequireCapability(engine, "user-{userId}:write-session-*")(http.HandlerFunc(a.RevokeSessions))))

	return a
}

// Handler returns the mux wrapped in request-id, logging and client
// context middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = ClientContext(h, a.opts.TrustProxy)
	h = Logging(a.logger)(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "goaccount",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	for _, probe := range a.opts.ReadyProbes {
		if err := probe.Check(r.Context()); err != nil {
			a.logger.Warn("readiness probe failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
