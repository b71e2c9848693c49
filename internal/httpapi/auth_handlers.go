package httpapi

import (
	"context"
	"net/http"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/middleware"
)

type tokenResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshToken    string    `json:"refresh_token"`
	SessionID       string    `json:"session_id"`
	IdentityID      string    `json:"identity_id"`
}

func newTokenResponse(pair *goAccount.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt.UTC(),
		RefreshToken:    pair.RefreshToken,
		SessionID:       pair.SessionID,
		IdentityID:      pair.IdentityID,
	}
}

type identityResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name,omitempty"`
	TOTPEnabled   bool      `json:"totp_enabled"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Subnet    string    `json:"subnet,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type totpRequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	identity, err := a.engine.Register(r.Context(), goAccount.RegisterRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, identityResponse{
		ID:            identity.ID,
		Email:         identity.Email,
		DisplayName:   identity.DisplayName,
		TOTPEnabled:   identity.TOTPEnabled,
		EmailVerified: identity.EmailVerified,
		CreatedAt:     identity.CreatedAt.UTC(),
	})
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.LoginWithResult(r.Context(), goAccount.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		Code:     req.Code,
	})
	a.writeLoginResult(w, r, res, err)
}

func (a *API) LoginTOTP(w http.ResponseWriter, r *http.Request) {
	var req totpRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.LoginWithTOTP(r.Context(), req.MFAToken, req.Code)
	a.writeLoginResult(w, r, res, err)
}

func (a *API) LoginToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.LoginWithToken(r.Context(), req.Token)
	a.writeLoginResult(w, r, res, err)
}

// writeLoginResult renders the three login outcomes: tokens (200), an
// mfa-pending token (403) or a pending subnet approval (202).
func (a *API) writeLoginResult(w http.ResponseWriter, r *http.Request, res *goAccount.LoginResult, err error) {
	if err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	if res == nil {
		a.handleEngineError(w, r, goAccount.ErrEngineNotReady)
		return
	}
	switch res.Status {
	case goAccount.LoginMfaRequired:
		writeErrorWith(w, r, http.StatusForbidden, "mfa required", map[string]any{"mfa_token": res.MFAToken})
	case goAccount.LoginApprovalPending:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":     "approval_pending",
			"session_id": res.SessionID,
		})
	default:
		writeJSON(w, http.StatusOK, newTokenResponse(res.Tokens))
	}
}

func (a *API) RequestPasswordless(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.RequestPasswordlessLogin(r.Context(), req.Email); err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decode(w, r, &req) {
		return
	}
	pair, err := a.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ApproveSubnet(w http.ResponseWriter, r *http.Request) {
	a.redeemForTokens(w, r, a.engine.ApproveSubnet)
}

func (a *API) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	a.redeemForTokens(w, r, a.engine.VerifyEmail)
}

func (a *API) redeemForTokens(w http.ResponseWriter, r *http.Request, redeem func(ctx context.Context, token string) (*goAccount.TokenPair, error)) {
	var req tokenRequest
	if !a.decode(w, r, &req) {
		return
	}
	pair, err := redeem(r.Context(), req.Token)
	if err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) ResendEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.ResendEmailVerification(r.Context(), req.Email); err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	pair, err := a.engine.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) MergeAccounts(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.MergeAccounts(r.Context(), req.Token); err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) RequestMerge(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.RequestAccountMerge(r.Context(), r.PathValue("userId"), req.Email); err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.engine.ListSessions(r.Context(), r.PathValue("userId"))
	if err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			SessionID: s.SessionID,
			IP:        s.IP,
			UserAgent: s.UserAgent,
			Subnet:    s.Subnet,
			CreatedAt: s.CreatedAt.UTC(),
			ExpiresAt: s.ExpiresAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// RevokeSessions ends every session of the user, including the caller's
// own when it belongs to them.
func (a *API) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.LogoutAll(r.Context(), r.PathValue("userId")); err != nil {
		a.handleEngineError(w, r, err)
		return
	}
	if res, ok := middleware.AuthResultFromContext(r.Context()); ok {
		a.logger.Info("sessions revoked", "identity_id", r.PathValue("userId"), "by", res.IdentityID)
	}
	w.WriteHeader(http.StatusNoContent)
}
