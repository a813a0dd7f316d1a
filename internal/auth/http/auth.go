package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// AuthHandler serves the login, two-factor, refresh, logout and password
// reset endpoints.
type AuthHandler struct {
	Auth *service.AuthService
}

func toTokenResponse(p *domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		ExpiresIn:        p.ExpiresIn,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Log in
//	@Description	Verifies an identifier and secret. Accounts with two-factor enabled receive a 409 carrying a pre-auth token instead of tokens.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest				true	"Credentials"
//	@Success		200		{object}	authsdk.TokenResponse				"Token pair"
//	@Failure		400		{object}	authsdk.ErrorResponse				"Malformed request"
//	@Failure		401		{object}	authsdk.ErrorResponse				"Invalid credential"
//	@Failure		403		{object}	authsdk.ErrorResponse				"Account inactive"
//	@Failure		409		{object}	authsdk.TwoFactorChallengeResponse	"Second factor required"
//	@Failure		423		{object}	authsdk.ErrorResponse				"Account locked, see Retry-After"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Secret == "" {
		writeInvalidRequest(w, "identifier and secret are required")
		return
	}

	res, err := h.Auth.Login(r.Context(), req.Identifier, req.Secret)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if res.Challenge != nil {
		httpx.WriteJSON(w, http.StatusConflict, authsdk.TwoFactorChallengeResponse{
			Error:            authsdk.ErrorCodeTwoFactorRequired,
			ErrorDescription: "a second factor is required",
			PreAuthToken:     res.Challenge.Token,
			Method:           string(res.Challenge.Method),
			ExpiresAt:        res.Challenge.ExpiresAt,
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTokenResponse(res.Tokens))
}

// HandleVerifyTwoFactor handles POST /v1/auth/2fa/verify
//
//	@Summary		Verify a second factor
//	@Description	Answers the pre-auth challenge from login with a delivered or TOTP code.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.TwoFactorVerifyRequest	true	"Pre-auth token and code"
//	@Success		200		{object}	authsdk.TokenResponse			"Token pair"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid code or unknown challenge"
//	@Failure		410		{object}	authsdk.ErrorResponse			"Challenge expired or exhausted"
//	@Router			/v1/auth/2fa/verify [post].
func (h *AuthHandler) HandleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TwoFactorVerifyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	if req.PreAuthToken == "" || strings.TrimSpace(req.Code) == "" {
		writeInvalidRequest(w, "pre_auth_token and code are required")
		return
	}

	pair, err := h.Auth.VerifyTwoFactor(r.Context(), req.PreAuthToken, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTokenResponse(pair))
}

// HandleRefresh handles POST /v1/auth/refresh
//
//	@Summary		Rotate a refresh token
//	@Description	Exchanges a refresh token for a new pair. Presenting an already rotated token revokes the whole session.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	authsdk.TokenResponse	"New token pair"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Expired, revoked, reused or unknown token"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Account inactive"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeInvalidRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTokenResponse(pair))
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Log out
//	@Description	Revokes the session family of the refresh token. Unknown tokens succeed.
//	@Tags			Auth
//	@Accept			json
//	@Param			request	body	authsdk.RefreshRequest	true	"Refresh token"
//	@Success		204		"Logged out"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Malformed request"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeInvalidRequest(w, "refresh_token is required")
		return
	}

	if err := h.Auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleInitiateReset handles POST /v1/auth/password-reset
//
//	@Summary		Request a password reset
//	@Description	Sends a reset code if the account exists. The response does not reveal whether it does.
//	@Tags			Auth
//	@Accept			json
//	@Param			request	body	authsdk.PasswordResetRequest	true	"Identifier"
//	@Success		202		"Accepted"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Malformed request"
//	@Router			/v1/auth/password-reset [post].
func (h *AuthHandler) HandleInitiateReset(w http.ResponseWriter, r *http.Request) {
	var req authsdk.PasswordResetRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		writeInvalidRequest(w, "identifier is required")
		return
	}

	if err := h.Auth.InitiateReset(r.Context(), req.Identifier); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleCompleteReset handles POST /v1/auth/password-reset/complete
//
//	@Summary		Complete a password reset
//	@Description	Sets a new secret using the delivered code and revokes every session of the account.
//	@Tags			Auth
//	@Accept			json
//	@Param			request	body	authsdk.PasswordResetCompleteRequest	true	"Identifier, code and new secret"
//	@Success		204		"Secret updated"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Invalid or expired code, or secret policy violation"
//	@Router			/v1/auth/password-reset/complete [post].
func (h *AuthHandler) HandleCompleteReset(w http.ResponseWriter, r *http.Request) {
	var req authsdk.PasswordResetCompleteRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || strings.TrimSpace(req.Code) == "" {
		writeInvalidRequest(w, "identifier and code are required")
		return
	}

	if err := h.Auth.CompleteReset(r.Context(), req.Identifier, req.Code, req.NewSecret); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSession handles GET /v1/session
//
//	@Summary		Describe the current session
//	@Description	Validates the bearer access token (signature, issuer and expiry only) and returns its identity.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.SessionResponse	"Identity"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Missing, expired or invalid token"
//	@Router			/v1/session [get].
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		httpx.WriteError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "missing bearer token")
		return
	}

	id, err := h.Auth.ValidateAccess(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
	if err != nil {
		slogx.FromContext(r.Context()).Debug("access token rejected", slogx.Err(err))
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionResponse{
		AccountID: id.AccountID,
		SessionID: id.FamilyID,
		AMR:       id.AMR,
		TokenID:   id.TokenID,
		ExpiresAt: id.ExpiresAt,
	})
}
