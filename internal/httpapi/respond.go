package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/internal/logging"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorWith(w, r, code, msg, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, code int, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// statusFor maps an Engine error onto a status and a client-safe message.
// The second result is false for errors that should be logged.
func statusFor(err error) (int, string, bool) {
	switch {
	case errors.Is(err, goAccount.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials", true
	case errors.Is(err, goAccount.ErrInvalidOrExpiredToken):
		return http.StatusUnauthorized, "invalid or expired token", true
	case errors.Is(err, goAccount.ErrSessionRevoked):
		return http.StatusUnauthorized, "session revoked", true
	case errors.Is(err, goAccount.ErrMfaRequired):
		return http.StatusForbidden, "mfa required", true
	case errors.Is(err, goAccount.ErrEmailNotVerified):
		return http.StatusForbidden, "email not verified", true
	case errors.Is(err, goAccount.ErrRegistrationDisabled):
		return http.StatusForbidden, "registration disabled", true
	case errors.Is(err, goAccount.ErrIdentityInactive):
		return http.StatusForbidden, "identity deactivated", true
	case errors.Is(err, goAccount.ErrApprovalPending):
		return http.StatusAccepted, "login approval pending", true
	case errors.Is(err, goAccount.ErrConflict):
		return http.StatusConflict, "conflict", true
	case errors.Is(err, goAccount.ErrAlreadyConsumedToken):
		return http.StatusConflict, "token already consumed", true
	case errors.Is(err, goAccount.ErrInvalidMfaCode):
		return http.StatusUnprocessableEntity, "invalid mfa code", true
	case errors.Is(err, goAccount.ErrWrongTokenPurpose):
		return http.StatusUnprocessableEntity, "wrong token purpose", true
	case errors.Is(err, goAccount.ErrPasswordPolicy):
		return http.StatusUnprocessableEntity, "password does not meet policy", true
	case errors.Is(err, goAccount.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input", true
	case errors.Is(err, goAccount.ErrIdentityNotFound):
		return http.StatusNotFound, "identity not found", true
	case errors.Is(err, goAccount.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limited", true
	case errors.Is(err, goAccount.ErrStorageUnavailable),
		errors.Is(err, goAccount.ErrNotificationUnavailable),
		errors.Is(err, goAccount.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "service unavailable", false
	}
	return http.StatusInternalServerError, "internal error", false
}

func (a *API) handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg, expected := statusFor(err)
	if !expected {
		logging.LogError(a.logger.With("request_id", RequestIDFromContext(r.Context()), "path", r.URL.Path), "request failed", err)
	}
	if code == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, r, code, msg)
}
